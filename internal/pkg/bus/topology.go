package bus

import (
	"context"
	"fmt"

	"github.com/cloudresty/go-rabbitmq"
)

// Exchanges. All durable; "payments" is a fanout broadcast for auxiliary
// consumers (antifraud and the like), the rest are topic exchanges.
const (
	LedgerExchange       = "ledger"
	BalanceExchange      = "balance"
	SagaExchange         = "saga"
	NotificationExchange = "notifications"
	PaymentsExchange     = "payments"
)

// Routing keys.
const (
	KeyEntryAppend           = "entry.append"
	KeyCompensation          = "compensation"
	KeyPaymentInitiated      = "payment.initiated"
	KeyLedgerCompleted       = "ledger.completed"
	KeyLedgerFailed          = "ledger.failed"
	KeyBalanceCompleted      = "balance.completed"
	KeyBalanceFailed         = "balance.failed"
	KeyCompensationRequested = "compensation.requested"
	KeyCompensationCompleted = "compensation.completed"
	KeyBalanceUpdate         = "update"
	KeyPaymentCreated        = "payment.created"
)

// Durable queues consumed by this repository's two services.
const (
	QueueLedgerEntryAppend        = "ledger.entry.append"
	QueueLedgerCompensation       = "ledger.compensation"
	QueueSagaLedgerCompleted      = "saga.ledger.completed"
	QueueSagaLedgerFailed         = "saga.ledger.failed"
	QueueSagaBalanceCompleted     = "saga.balance.completed"
	QueueSagaBalanceFailed        = "saga.balance.failed"
	QueueSagaCompensationComplete = "saga.compensation.completed"
)

type binding struct {
	queue      string
	exchange   string
	routingKey string
}

var bindings = []binding{
	{QueueLedgerEntryAppend, LedgerExchange, KeyEntryAppend},
	{QueueLedgerCompensation, LedgerExchange, KeyCompensation},
	{QueueSagaLedgerCompleted, SagaExchange, KeyLedgerCompleted},
	{QueueSagaLedgerFailed, SagaExchange, KeyLedgerFailed},
	{QueueSagaBalanceCompleted, SagaExchange, KeyBalanceCompleted},
	{QueueSagaBalanceFailed, SagaExchange, KeyBalanceFailed},
	{QueueSagaCompensationComplete, SagaExchange, KeyCompensationCompleted},
}

// DeclareTopology declares every exchange, queue and binding this system
// uses. It is idempotent, so both services run it at startup; whichever
// starts first wins and the other's declarations are no-ops.
func DeclareTopology(ctx context.Context, client *rabbitmq.Client) error {
	admin := client.Admin()

	topicExchanges := []string{LedgerExchange, BalanceExchange, SagaExchange, NotificationExchange}
	for _, name := range topicExchanges {
		if err := admin.DeclareExchange(ctx, name, rabbitmq.ExchangeTypeTopic,
			rabbitmq.WithExchangeDurable(),
		); err != nil {
			return fmt.Errorf("bus: declare exchange %q: %w", name, err)
		}
	}

	if err := admin.DeclareExchange(ctx, PaymentsExchange, rabbitmq.ExchangeTypeFanout,
		rabbitmq.WithExchangeDurable(),
	); err != nil {
		return fmt.Errorf("bus: declare exchange %q: %w", PaymentsExchange, err)
	}

	for _, b := range bindings {
		if _, err := admin.DeclareQueue(ctx, b.queue, rabbitmq.WithDurable()); err != nil {
			return fmt.Errorf("bus: declare queue %q: %w", b.queue, err)
		}
		if err := admin.BindQueue(ctx, b.queue, b.exchange, b.routingKey); err != nil {
			return fmt.Errorf("bus: bind %q to %s/%s: %w", b.queue, b.exchange, b.routingKey, err)
		}
	}

	return nil
}
