// Package jobs carries reconciliation work from the API to the worker over
// SQS.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
	"github.com/imrishuroy/marketplace-orderflow/internal/inventory"
)

// Job types.
const (
	TypeInventoryRelease = "inventory.release"
	TypeRatingRecompute  = "rating.recompute"
)

// Message is the payload sent from API -> SQS -> Worker.
type Message struct {
	Type          string           `json:"type"`
	Key           string           `json:"job_key"` // idempotency key for the worker
	OrderID       string           `json:"order_id,omitempty"`
	SellerID      string           `json:"seller_id,omitempty"`
	Lines         []inventory.Line `json:"lines,omitempty"`
	CorrelationID string           `json:"correlation_id,omitempty"`
}

// InventoryRelease returns stock for lines that a failed compensation could
// not put back. The key is unique per order.
func InventoryRelease(orderID string, lines []inventory.Line, correlationID string) Message {
	return Message{
		Type:          TypeInventoryRelease,
		Key:           TypeInventoryRelease + ":" + orderID,
		OrderID:       orderID,
		Lines:         lines,
		CorrelationID: correlationID,
	}
}

// RatingRecompute asks the worker to rebuild a seller's rating after the
// review on orderID was stored.
func RatingRecompute(sellerID, orderID, correlationID string) Message {
	return Message{
		Type:          TypeRatingRecompute,
		Key:           TypeRatingRecompute + ":" + orderID,
		OrderID:       orderID,
		SellerID:      sellerID,
		CorrelationID: correlationID,
	}
}

// Validate reports whether m carries what its type needs.
func (m Message) Validate() error {
	if m.Key == "" {
		return fmt.Errorf("job %q: missing key", m.Type)
	}
	switch m.Type {
	case TypeInventoryRelease:
		if len(m.Lines) == 0 {
			return fmt.Errorf("job %s: no lines", m.Key)
		}
	case TypeRatingRecompute:
		if m.SellerID == "" {
			return fmt.Errorf("job %s: missing seller_id", m.Key)
		}
	default:
		return fmt.Errorf("unknown job type %q", m.Type)
	}
	return nil
}

// Enqueuer schedules jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, m Message) error
}

// Nop drops every job.
type Nop struct{}

func (Nop) Enqueue(context.Context, Message) error { return nil }

// Queue sends jobs to SQS.
type Queue struct {
	publisher *aws.Publisher
}

// NewQueue returns a Queue that sends through publisher.
func NewQueue(publisher *aws.Publisher) *Queue {
	return &Queue{publisher: publisher}
}

// Enqueue sends m as JSON with its type and key as message attributes.
func (q *Queue) Enqueue(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = q.publisher.Send(ctx, string(body), map[string]string{
		"type":           m.Type,
		"job_key":        m.Key,
		"correlation_id": m.CorrelationID,
	})
	return err
}

// Decode parses a queue body into a validated Message.
func Decode(body string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return Message{}, fmt.Errorf("invalid job body: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
