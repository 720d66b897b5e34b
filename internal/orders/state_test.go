package orders

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newPending() *Order {
	return &Order{
		OrderID:       "o1",
		BuyerID:       "buyer",
		SellerID:      "seller",
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
		Timeline:      []TimelineEntry{{Status: StatusPending, Timestamp: t0, Note: "order created"}},
	}
}

func TestTransition_Table(t *testing.T) {
	cases := []struct {
		from  Status
		to    Status
		actor string
		code  apperr.Code // empty means success
	}{
		{StatusPending, StatusConfirmed, "seller", ""},
		{StatusPending, StatusConfirmed, "buyer", apperr.CodeForbidden},
		{StatusPending, StatusCancelled, "buyer", ""},
		{StatusPending, StatusCancelled, "seller", ""},
		{StatusPending, StatusShipped, "seller", apperr.CodeIllegalTransition},
		{StatusConfirmed, StatusProcessing, "seller", ""},
		{StatusConfirmed, StatusCancelled, "buyer", ""},
		{StatusProcessing, StatusShipped, "seller", ""},
		{StatusProcessing, StatusCancelled, "buyer", apperr.CodeIllegalTransition},
		{StatusShipped, StatusDelivered, "seller", ""},
		{StatusShipped, StatusCompleted, "buyer", ""},
		{StatusShipped, StatusPending, "seller", apperr.CodeIllegalTransition},
		{StatusDelivered, StatusCompleted, "buyer", ""},
		{StatusDelivered, StatusCompleted, "seller", apperr.CodeForbidden},
		{StatusCompleted, StatusRefunded, "seller", ""},
		{StatusCompleted, StatusCancelled, "buyer", apperr.CodeIllegalTransition},
		{StatusCancelled, StatusPending, "buyer", apperr.CodeIllegalTransition},
		{StatusRefunded, StatusCompleted, "buyer", apperr.CodeIllegalTransition},
		{StatusPending, StatusConfirmed, "stranger", apperr.CodeForbidden},
	}

	for _, tc := range cases {
		o := newPending()
		o.Status = tc.from
		o.Timeline[0].Status = tc.from
		err := o.Transition(tc.to, tc.actor, "", "", t0.Add(time.Hour))

		if tc.code == "" {
			if err != nil {
				t.Fatalf("%s -> %s by %s: unexpected error %v", tc.from, tc.to, tc.actor, err)
			}
			if o.Status != tc.to || len(o.Timeline) != 2 || o.Timeline[1].Status != tc.to {
				t.Fatalf("%s -> %s: status/timeline not advanced: %+v", tc.from, tc.to, o)
			}
			continue
		}
		if got := apperr.CodeOf(err); got != tc.code {
			t.Fatalf("%s -> %s by %s: expected %s, got %v", tc.from, tc.to, tc.actor, tc.code, err)
		}
		if o.Status != tc.from || len(o.Timeline) != 1 {
			t.Fatalf("%s -> %s: failed transition mutated the order", tc.from, tc.to)
		}
	}
}

func TestTransition_SideEffects(t *testing.T) {
	o := newPending()
	steps := []struct {
		to    Status
		actor string
		track string
	}{
		{StatusConfirmed, "seller", ""},
		{StatusProcessing, "seller", ""},
		{StatusShipped, "seller", "JNE-123"},
		{StatusDelivered, "seller", ""},
		{StatusCompleted, "buyer", ""},
		{StatusRefunded, "seller", ""},
	}
	for i, s := range steps {
		if err := o.Transition(s.to, s.actor, "", s.track, t0.Add(time.Duration(i+1)*time.Hour)); err != nil {
			t.Fatalf("transition to %s: %v", s.to, err)
		}
		if o.Timeline[len(o.Timeline)-1].Status != o.Status {
			t.Fatalf("status %s does not match last timeline entry", o.Status)
		}
	}

	if o.PaidAt == nil || o.ShippedAt == nil || o.DeliveredAt == nil || o.CompletedAt == nil || o.RefundedAt == nil {
		t.Fatalf("milestone timestamps not set: %+v", o)
	}
	if o.TrackingNumber != "JNE-123" {
		t.Fatalf("tracking number not recorded")
	}
	if o.PaymentStatus != PaymentRefunded {
		t.Fatalf("expected refunded payment, got %s", o.PaymentStatus)
	}
	if len(o.Timeline) != 7 {
		t.Fatalf("expected 7 timeline entries, got %d", len(o.Timeline))
	}
	if !o.Status.Terminal() {
		t.Fatalf("refunded must be terminal")
	}
}

func TestTransition_TrackingOnlyWhenShipping(t *testing.T) {
	o := newPending()
	err := o.Transition(StatusConfirmed, "seller", "", "JNE-1", t0)
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
}

func TestCancelConfirmedRefundsPayment(t *testing.T) {
	o := newPending()
	if err := o.Transition(StatusConfirmed, "seller", "", "", t0); err != nil {
		t.Fatal(err)
	}
	if err := o.Transition(StatusCancelled, "buyer", "changed my mind", "", t0); err != nil {
		t.Fatal(err)
	}
	if o.PaymentStatus != PaymentRefunded || o.CancelledAt == nil {
		t.Fatalf("unexpected cancel side effects: %+v", o)
	}
	if o.Timeline[2].Note != "changed my mind" || o.Timeline[2].ActorID != "buyer" {
		t.Fatalf("timeline entry mismatch: %+v", o.Timeline[2])
	}
}

func TestAttachReview(t *testing.T) {
	o := newPending()
	if err := o.AttachReview("buyer", 5, "", t0); !errors.Is(err, apperr.ErrNotCompleted) {
		t.Fatalf("expected not_completed, got %v", err)
	}

	o.Status = StatusCompleted
	if err := o.AttachReview("seller", 5, "", t0); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := o.AttachReview("buyer", 6, "", t0); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
	if err := o.AttachReview("buyer", 4, "mantap", t0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.AttachReview("buyer", 1, "", t0); !errors.Is(err, apperr.ErrReviewAlreadyExists) {
		t.Fatalf("expected review_already_exists, got %v", err)
	}
	if o.Review.Rating != 4 {
		t.Fatalf("second review overwrote the first")
	}
}

func TestNext(t *testing.T) {
	got := Next(StatusShipped, RoleSeller)
	if len(got) != 1 || got[0] != StatusDelivered {
		t.Fatalf("seller from shipped: %v", got)
	}
	got = Next(StatusPending, RoleBuyer)
	if len(got) != 1 || got[0] != StatusCancelled {
		t.Fatalf("buyer from pending: %v", got)
	}
}

func TestNewOrderNumber(t *testing.T) {
	re := regexp.MustCompile(`^ORD-250301-[A-HJ-NP-Z2-9]{6}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		n, err := NewOrderNumber(t0)
		if err != nil {
			t.Fatal(err)
		}
		if !re.MatchString(n) {
			t.Fatalf("bad order number %q", n)
		}
		seen[n] = true
	}
	if len(seen) < 45 {
		t.Fatalf("order numbers are not random enough: %d unique of 50", len(seen))
	}
}
