// Package events carries committed order transitions out of the engine to
// in-process subscribers (SSE) and to Kafka.
package events

import (
	"context"
	"errors"
	"time"

	"papertrade/internal/domain"
)

// Type names an order transition.
type Type string

const (
	TypeOrderPending  Type = "order.pending"
	TypeOrderFilled   Type = "order.filled"
	TypeOrderRejected Type = "order.rejected"
	TypeLotClosed     Type = "lot.closed"
)

// Event is published once per committed order transition.
type Event struct {
	Type      Type         `json:"type"`
	AccountID int64        `json:"account_id"`
	Order     domain.Order `json:"order"`
	Time      time.Time    `json:"time"`
}

// ForOrder builds the event matching o's current status.
func ForOrder(o domain.Order, at time.Time) Event {
	t := TypeOrderPending
	switch o.Status {
	case domain.OrderStatusFilled:
		t = TypeOrderFilled
	case domain.OrderStatusRejected:
		t = TypeOrderRejected
	}
	return Event{Type: t, AccountID: o.AccountID, Order: o, Time: at}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

// Publish delivers e to every publisher, even if an earlier one fails.
func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
