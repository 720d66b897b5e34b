package orders

import (
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
)

// Role is the side of the order a user is on.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// transitions maps from -> to -> roles allowed to make the move.
var transitions = map[Status]map[Status][]Role{
	StatusPending: {
		StatusConfirmed: {RoleSeller},
		StatusCancelled: {RoleBuyer, RoleSeller},
	},
	StatusConfirmed: {
		StatusProcessing: {RoleSeller},
		StatusCancelled:  {RoleBuyer, RoleSeller},
	},
	StatusProcessing: {
		StatusShipped: {RoleSeller},
	},
	StatusShipped: {
		StatusDelivered: {RoleSeller},
		StatusCompleted: {RoleBuyer},
	},
	StatusDelivered: {
		StatusCompleted: {RoleBuyer},
	},
	StatusCompleted: {
		StatusRefunded: {RoleSeller},
	},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is in the table for any role.
func CanTransition(from, to Status) bool {
	_, ok := transitions[from][to]
	return ok
}

// Next lists the statuses role may move an order to from s.
func Next(s Status, role Role) []Status {
	var out []Status
	for _, to := range []Status{StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCompleted, StatusCancelled, StatusRefunded} {
		if roleAllowed(transitions[s][to], role) {
			out = append(out, to)
		}
	}
	return out
}

func roleAllowed(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// RoleOf returns userID's side of the order.
func (o *Order) RoleOf(userID string) (Role, bool) {
	switch userID {
	case "":
		return "", false
	case o.SellerID:
		return RoleSeller, true
	case o.BuyerID:
		return RoleBuyer, true
	}
	return "", false
}

// Transition moves the order to `to` on behalf of actorID, appending one
// timeline entry. On error the order is unchanged.
func (o *Order) Transition(to Status, actorID, note, trackingNumber string, now time.Time) error {
	role, ok := o.RoleOf(actorID)
	if !ok {
		return apperr.New(apperr.CodeForbidden, "user is not a party to order %s", o.OrderID)
	}
	roles, ok := transitions[o.Status][to]
	if !ok {
		return apperr.New(apperr.CodeIllegalTransition, "cannot move order from %s to %s", o.Status, to)
	}
	if !roleAllowed(roles, role) {
		return apperr.New(apperr.CodeForbidden, "%s may not move order from %s to %s", role, o.Status, to)
	}
	if trackingNumber != "" && to != StatusShipped {
		return apperr.New(apperr.CodeInvalidArgument, "tracking number only applies when shipping")
	}

	from := o.Status
	ts := now.UTC()
	switch to {
	case StatusConfirmed:
		o.PaymentStatus = PaymentPaid
		o.PaidAt = &ts
	case StatusShipped:
		o.ShippedAt = &ts
		if trackingNumber != "" {
			o.TrackingNumber = trackingNumber
		}
	case StatusDelivered:
		o.DeliveredAt = &ts
	case StatusCompleted:
		o.CompletedAt = &ts
	case StatusCancelled:
		o.CancelledAt = &ts
		if from == StatusConfirmed && o.PaymentStatus == PaymentPaid {
			o.PaymentStatus = PaymentRefunded
		}
	case StatusRefunded:
		o.RefundedAt = &ts
		o.PaymentStatus = PaymentRefunded
	}

	if note == "" {
		note = defaultNote(to)
	}
	o.Status = to
	o.Timeline = append(o.Timeline, TimelineEntry{Status: to, Timestamp: ts, Note: note, ActorID: actorID})
	o.UpdatedAt = ts
	return nil
}

// AttachReview records the buyer's review of a completed order.
func (o *Order) AttachReview(buyerID string, rating int, comment string, now time.Time) error {
	if buyerID == "" || buyerID != o.BuyerID {
		return apperr.New(apperr.CodeForbidden, "only the buyer may review order %s", o.OrderID)
	}
	if rating < 1 || rating > 5 {
		return apperr.New(apperr.CodeInvalidArgument, "rating must be between 1 and 5, got %d", rating)
	}
	if o.Review != nil {
		return apperr.New(apperr.CodeReviewAlreadyExists, "order %s already has a review", o.OrderID)
	}
	if o.Status != StatusCompleted {
		return apperr.New(apperr.CodeNotCompleted, "order %s is %s, reviews need a completed order", o.OrderID, o.Status)
	}
	ts := now.UTC()
	o.Review = &Review{Rating: rating, Comment: comment, CreatedAt: ts}
	o.UpdatedAt = ts
	return nil
}

// StockLines returns the product quantities held by the order.
func (o *Order) StockLines() map[string]int64 {
	out := make(map[string]int64, len(o.Items))
	for _, it := range o.Items {
		out[it.ProductID] += it.Quantity
	}
	return out
}

func defaultNote(s Status) string {
	switch s {
	case StatusConfirmed:
		return "payment confirmed"
	case StatusProcessing:
		return "seller is preparing the order"
	case StatusShipped:
		return "order shipped"
	case StatusDelivered:
		return "order delivered"
	case StatusCompleted:
		return "buyer confirmed receipt"
	case StatusCancelled:
		return "order cancelled"
	case StatusRefunded:
		return "payment refunded"
	}
	return ""
}
