package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zoobzio/hookz"
)

// Payment lifecycle events emitted after a status transition is persisted.
const (
	EventPaymentCompleted hookz.Key = "payment.completed"
	EventPaymentFailed    hookz.Key = "payment.failed"
)

// PaymentEvent is the payload delivered to lifecycle hooks.
type PaymentEvent struct {
	RefID         string
	Gateway       string
	Status        string
	Amount        decimal.Decimal
	Currency      string
	TransactionID string
	PaymentMethod string
	DatePaid      *time.Time
}

// PaymentEvents fans transitions out to side effects such as admin notifications.
// Hooks run asynchronously on the hookz worker pool.
type PaymentEvents struct {
	hooks *hookz.Hooks[PaymentEvent]
}

func NewPaymentEvents(opts ...hookz.Option) *PaymentEvents {
	if len(opts) == 0 {
		opts = []hookz.Option{hookz.WithWorkers(4), hookz.WithTimeout(10 * time.Second)}
	}
	return &PaymentEvents{hooks: hookz.New[PaymentEvent](opts...)}
}

func (e *PaymentEvents) OnCompleted(fn func(context.Context, PaymentEvent) error) (hookz.Hook, error) {
	return e.hooks.Hook(EventPaymentCompleted, fn)
}

func (e *PaymentEvents) OnFailed(fn func(context.Context, PaymentEvent) error) (hookz.Hook, error) {
	return e.hooks.Hook(EventPaymentFailed, fn)
}

// Emit publishes the event for status. Statuses without an event are ignored.
func (e *PaymentEvents) Emit(ctx context.Context, status Status, event PaymentEvent) error {
	if e == nil {
		return nil
	}
	switch status {
	case StatusCompleted:
		return e.hooks.Emit(ctx, EventPaymentCompleted, event)
	case StatusFailed:
		return e.hooks.Emit(ctx, EventPaymentFailed, event)
	}
	return nil
}

func (e *PaymentEvents) Close() error {
	if e == nil {
		return nil
	}
	return e.hooks.Close()
}
