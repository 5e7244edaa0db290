// Package bus defines the message envelope, exchange/queue topology and a
// thin publishing wrapper over cloudresty/go-rabbitmq.
//
// The envelope is intentionally flat JSON: every collaborator (balance
// service, notification service, auxiliary fanout consumers) speaks it, so
// no field may be renamed without coordinating a rollout across services.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudresty/go-rabbitmq"
	"github.com/cloudresty/ulid"
	"github.com/shopspring/decimal"
)

// Event tags carried in the envelope's "event" field.
const (
	EventPaymentInitiated      = "PaymentInitiated"
	EventPaymentCreated        = "PaymentCreated"
	EventLedgerCompleted       = "LedgerCompleted"
	EventLedgerFailed          = "LedgerFailed"
	EventBalanceCompleted      = "BalanceCompleted"
	EventBalanceFailed         = "BalanceFailed"
	EventCompensationRequested = "CompensationRequested"
	EventCompensationCompleted = "CompensationCompleted"
)

// Event is the wire envelope shared by every message on the bus.
// Amount marshals as a decimal string, never a float.
type Event struct {
	Event     string          `json:"event"`
	PaymentID string          `json:"paymentId"`
	AccountID string          `json:"accountId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
	TS        int64           `json:"ts"`
	Reason    string          `json:"reason,omitempty"`
	Service   string          `json:"service,omitempty"`
}

// Decode parses a raw delivery body into an Event.
func Decode(body []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, fmt.Errorf("bus: decode event: %w", err)
	}
	if evt.PaymentID == "" {
		return Event{}, fmt.Errorf("bus: event %q missing paymentId", evt.Event)
	}
	return evt, nil
}

// Publisher is the outbound port used by the services. The production
// implementation publishes to RabbitMQ; tests record events in memory.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, evt Event) error
}

// RabbitPublisher publishes envelopes as persistent JSON messages.
type RabbitPublisher struct {
	publisher *rabbitmq.Publisher
}

// NewRabbitPublisher creates a publisher bound to the saga exchange by
// default; every Publish names its exchange explicitly anyway.
func NewRabbitPublisher(client *rabbitmq.Client) (*RabbitPublisher, error) {
	publisher, err := client.NewPublisher(
		rabbitmq.WithDefaultExchange(SagaExchange),
		rabbitmq.WithPersistent(),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: create publisher: %w", err)
	}
	return &RabbitPublisher{publisher: publisher}, nil
}

// Publish marshals the envelope and sends it to exchange/routingKey.
func (p *RabbitPublisher) Publish(ctx context.Context, exchange, routingKey string, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("bus: marshal %s event: %w", evt.Event, err)
	}

	messageID, err := ulid.New()
	if err != nil {
		return fmt.Errorf("bus: generate message id: %w", err)
	}

	message := rabbitmq.NewMessage(body).
		WithMessageID(messageID).
		WithType(evt.Event).
		WithHeader("payment_id", evt.PaymentID)

	if err := p.publisher.Publish(ctx, exchange, routingKey, message); err != nil {
		return fmt.Errorf("bus: publish %s to %s/%s: %w", evt.Event, exchange, routingKey, err)
	}
	return nil
}

// Close releases the underlying channel. Call it with defer in main().
func (p *RabbitPublisher) Close() error {
	return p.publisher.Close()
}
