package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fintechdev/payment-saga/internal/payment/store"
	"github.com/fintechdev/payment-saga/internal/pkg/bus"
)

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	failed bool
	events []publishedEvent
}

type publishedEvent struct {
	exchange   string
	routingKey string
	evt        bus.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, evt bus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed {
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, evt: evt})
	return nil
}

func (p *recordingPublisher) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

func (p *recordingPublisher) byKey(routingKey string) []publishedEvent {
	var out []publishedEvent
	for _, e := range p.published() {
		if e.routingKey == routingKey {
			out = append(out, e)
		}
	}
	return out
}

// fastCorrelator shrinks the retry window so orphan paths do not slow
// the suite down.
func fastCorrelator(s store.Store) *Correlator {
	return &Correlator{store: s, attempts: 2, interval: time.Millisecond}
}
