// Package events publishes order lifecycle notifications.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeOrderCreated       = "order.created"
	TypeOrderStatusChanged = "order.status_changed"
	TypeOrderReviewed      = "order.reviewed"
)

// Event is the JSON payload written to the events topic. Consumers key on
// OrderID; ordering is only guaranteed per order.
type Event struct {
	ID             string    `json:"event_id"`
	Type           string    `json:"type"`
	OrderID        string    `json:"order_id"`
	OrderNumber    string    `json:"order_number,omitempty"`
	BuyerID        string    `json:"buyer_id"`
	SellerID       string    `json:"seller_id"`
	Status         string    `json:"status,omitempty"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Total          int64     `json:"total,omitempty"`
	Rating         int       `json:"rating,omitempty"`
	ActorID        string    `json:"actor_id,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher delivers events. Delivery is best effort: callers log failures
// and never undo the state change that produced the event.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
