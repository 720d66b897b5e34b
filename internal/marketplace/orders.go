package marketplace

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/cart"
	"github.com/imrishuroy/marketplace-orderflow/internal/events"
	"github.com/imrishuroy/marketplace-orderflow/internal/inventory"
	"github.com/imrishuroy/marketplace-orderflow/internal/jobs"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/rating"
)

// Checkout carries the buyer's checkout inputs. Amounts are supplied by
// upstream pricing and are taken as-is.
type Checkout struct {
	ShippingAddress orders.Address
	ShippingMethod  string
	PaymentMethod   string
	Notes           string
	ShippingCost    int64
	Tax             int64
	Discount        int64
}

// CreateOrder turns the buyer's cart into a pending order. Stock is
// reserved first; the order, its number guard and the cart clear are then
// written in one transaction. If that write fails the stock is released
// before the error is returned.
func (s *Service) CreateOrder(ctx context.Context, buyerID string, in Checkout) (_ *orders.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "marketplace.CreateOrder",
		trace.WithAttributes(attribute.String("buyer.id", buyerID)))
	defer func() { endSpan(span, err) }()

	if buyerID == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "buyer id is required")
	}
	if in.ShippingCost < 0 || in.Tax < 0 || in.Discount < 0 {
		return nil, apperr.New(apperr.CodeInvalidArgument, "shipping cost, tax and discount must not be negative")
	}

	c, err := s.carts.Get(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	snap, err := cart.BuildSnapshot(ctx, s.products, c)
	if err != nil {
		s.logFailure("checkout rejected", err, zap.String("buyer_id", buyerID))
		return nil, err
	}
	sellers := snap.SellerIDs()
	if len(sellers) != 1 {
		return nil, apperr.New(apperr.CodeInvalidArgument, "cart holds items from %d sellers, check out one seller at a time", len(sellers))
	}
	sellerID := sellers[0]
	if sellerID == buyerID {
		return nil, apperr.New(apperr.CodeInvalidArgument, "sellers cannot buy their own products")
	}
	total := orders.Total(snap.Subtotal, in.ShippingCost, in.Tax, in.Discount)
	if total < 0 {
		return nil, apperr.New(apperr.CodeInvalidArgument, "discount exceeds order amount")
	}

	orderID := uuid.NewString()
	span.SetAttributes(attribute.String("order.id", orderID))

	lines := make([]inventory.Line, len(snap.Lines))
	items := make([]orders.Item, len(snap.Lines))
	for i, l := range snap.Lines {
		lines[i] = inventory.Line{ProductID: l.ProductID, Quantity: l.Quantity}
		items[i] = orders.Item{
			ProductID: l.ProductID,
			Name:      l.Name,
			Image:     l.Image,
			Price:     l.UnitPrice,
			Quantity:  l.Quantity,
			Subtotal:  l.Subtotal,
		}
	}

	if err := s.ledger.ReserveAll(ctx, lines); err != nil {
		switch apperr.CodeOf(err) {
		case apperr.CodeInsufficientStock:
			s.count(ctx, MetricStockReservationRejected, nil)
		case apperr.CodeInternalInconsistency:
			return nil, s.inconsistent(ctx, orderID, nil, err)
		}
		s.logFailure("stock reservation failed", err, zap.String("order_id", orderID), zap.String("buyer_id", buyerID))
		return nil, err
	}

	now := s.now()
	o := &orders.Order{
		OrderID:        orderID,
		BuyerID:        buyerID,
		SellerID:       sellerID,
		Items:          items,
		Subtotal:       snap.Subtotal,
		ShippingCost:   in.ShippingCost,
		Tax:            in.Tax,
		Discount:       in.Discount,
		Total:          total,
		Status:         orders.StatusPending,
		PaymentStatus:  orders.PaymentUnpaid,
		PaymentMethod:  in.PaymentMethod,
		ShippingAddr:   in.ShippingAddress,
		ShippingMethod: in.ShippingMethod,
		Notes:          in.Notes,
		Timeline: []orders.TimelineEntry{
			{Status: orders.StatusPending, Timestamp: now, Note: "order created", ActorID: buyerID},
		},
		CreatedAt: now,
	}

	clearCart := s.carts.ClearWrite(c)
	for attempt := 1; ; attempt++ {
		o.OrderNumber, err = orders.NewOrderNumber(now)
		if err == nil {
			err = s.orders.Create(ctx, o, clearCart)
		}
		if !errors.Is(err, orders.ErrOrderNumberTaken) || attempt >= orderNumberAttempts {
			break
		}
		s.logger.Warn("order number collision, retrying", zap.String("order_number", o.OrderNumber))
	}
	if err != nil {
		stored, cErr := s.compensateCreate(ctx, orderID, lines, err)
		if cErr != nil {
			return nil, cErr
		}
		o = stored
	}

	s.count(ctx, MetricOrdersCreated, nil)
	s.logger.Info("order created",
		zap.String("order_id", o.OrderID),
		zap.String("order_number", o.OrderNumber),
		zap.String("buyer_id", buyerID),
		zap.String("seller_id", sellerID),
		zap.Int64("total", o.Total),
	)
	s.publish(ctx, events.Event{
		Type:        events.TypeOrderCreated,
		OrderID:     o.OrderID,
		OrderNumber: o.OrderNumber,
		BuyerID:     o.BuyerID,
		SellerID:    o.SellerID,
		Status:      string(o.Status),
		Total:       o.Total,
		ActorID:     buyerID,
	})
	return o, nil
}

// compensateCreate settles a failed order write. A write that was rejected
// by a condition never happened and its stock is released. Any other error
// is ambiguous: the transaction may have committed, so the order is read
// back first and returned if it exists. If that read fails too, stock stays
// reserved and the caller gets internal_inconsistency.
func (s *Service) compensateCreate(ctx context.Context, orderID string, lines []inventory.Line, cause error) (*orders.Order, error) {
	var mapped error
	switch {
	case errors.Is(cause, orders.ErrConditionFailed):
		mapped = apperr.Wrap(cause, apperr.CodeConflict, "cart changed while the order was being placed")
	case errors.Is(cause, orders.ErrOrderNumberTaken), errors.Is(cause, orders.ErrAlreadyExists):
		mapped = apperr.Wrap(cause, apperr.CodeConflict, "could not allocate an order number, retry")
	default:
		mapped = fmt.Errorf("create order: %w", cause)
	}

	cctx, cancel := detached(ctx)
	defer cancel()

	if apperr.CodeOf(mapped) != apperr.CodeConflict {
		stored, err := s.orders.Get(cctx, orderID)
		if err != nil {
			s.count(cctx, MetricInventoryInconsistency, nil)
			s.logger.Error("order write outcome unknown, stock kept reserved",
				zap.String("order_id", orderID),
				zap.NamedError("write_error", cause),
				zap.Error(err),
			)
			return nil, apperr.Wrap(errors.Join(cause, err), apperr.CodeInternalInconsistency,
				"order %s may or may not have been placed, stock kept reserved", orderID)
		}
		if stored != nil {
			s.logger.Warn("order write reported an error but committed",
				zap.String("order_id", orderID),
				zap.Error(cause),
			)
			return stored, nil
		}
	}

	if err := s.ledger.ReleaseAll(cctx, lines); err != nil {
		return nil, s.inconsistent(cctx, orderID, mapped, err)
	}
	s.logFailure("order not created, stock released", mapped, zap.String("order_id", orderID))
	return nil, mapped
}

// AdvanceStatus moves an order to `to` on behalf of actorID. The write is
// conditional on the status and version that were read; a concurrent change
// yields conflict. Cancelling releases every line item.
func (s *Service) AdvanceStatus(ctx context.Context, orderID, actorID string, to orders.Status, note, trackingNumber string) (_ *orders.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "marketplace.AdvanceStatus",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("order.status", string(to)),
		))
	defer func() { endSpan(span, err) }()

	if !to.Valid() {
		return nil, apperr.New(apperr.CodeInvalidArgument, "unknown status %q", to)
	}
	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	from, version := o.Status, o.Version
	if err := o.Transition(to, actorID, note, trackingNumber, s.now()); err != nil {
		s.logFailure("transition rejected", err, zap.String("order_id", orderID), zap.String("from", string(from)), zap.String("to", string(to)))
		return nil, err
	}
	if err := s.orders.SaveTransition(ctx, o, from, version); err != nil {
		if errors.Is(err, orders.ErrStatusMismatch) {
			return nil, apperr.Wrap(err, apperr.CodeConflict, "order %s changed concurrently, reload and retry", orderID)
		}
		return nil, fmt.Errorf("save transition: %w", err)
	}

	s.logger.Info("order status changed",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor_id", actorID),
	)
	s.publish(ctx, events.Event{
		Type:           events.TypeOrderStatusChanged,
		OrderID:        o.OrderID,
		OrderNumber:    o.OrderNumber,
		BuyerID:        o.BuyerID,
		SellerID:       o.SellerID,
		Status:         string(to),
		PreviousStatus: string(from),
		ActorID:        actorID,
	})

	if to == orders.StatusCancelled {
		s.count(ctx, MetricOrdersCancelled, nil)
		cctx, cancel := detached(ctx)
		defer cancel()
		if err := s.ledger.ReleaseAll(cctx, orderLines(o)); err != nil {
			return nil, s.inconsistent(cctx, orderID, nil, err)
		}
	}
	return o, nil
}

// CancelOrder cancels an order, recording reason on the timeline.
func (s *Service) CancelOrder(ctx context.Context, orderID, actorID, reason string) (*orders.Order, error) {
	return s.AdvanceStatus(ctx, orderID, actorID, orders.StatusCancelled, reason, "")
}

// AttachReview files the buyer's review of a completed order and refreshes
// the seller's rating. A failed refresh is queued, the review still stands.
func (s *Service) AttachReview(ctx context.Context, orderID, buyerID string, stars int, comment string) (_ *orders.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "marketplace.AttachReview",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("buyer.id", buyerID),
		))
	defer func() { endSpan(span, err) }()

	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	version := o.Version
	if err := o.AttachReview(buyerID, stars, comment, s.now()); err != nil {
		s.logFailure("review rejected", err, zap.String("order_id", orderID))
		return nil, err
	}

	productIDs := make([]string, len(o.Items))
	for i, it := range o.Items {
		productIDs[i] = it.ProductID
	}
	record, err := s.reviews.RecordWrite(rating.Review{
		OrderID:    o.OrderID,
		SellerID:   o.SellerID,
		BuyerID:    o.BuyerID,
		ProductIDs: productIDs,
		Rating:     o.Review.Rating,
		Comment:    o.Review.Comment,
		CreatedAt:  o.Review.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	if err := s.orders.SaveReview(ctx, o, version, record); err != nil {
		if errors.Is(err, orders.ErrStatusMismatch) || errors.Is(err, orders.ErrConditionFailed) {
			return nil, s.reviewConflict(ctx, orderID, err)
		}
		return nil, fmt.Errorf("save review: %w", err)
	}

	if _, err := s.ratings.RecomputeIncluding(ctx, o.SellerID, orderID); err != nil {
		s.logger.Warn("seller rating not refreshed, queueing recompute",
			zap.String("seller_id", o.SellerID),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		job := jobs.RatingRecompute(o.SellerID, orderID, correlationID(ctx))
		if qErr := s.jobs.Enqueue(ctx, job); qErr != nil {
			s.logger.Error("rating recompute job not queued", zap.String("job_key", job.Key), zap.Error(qErr))
		}
	}

	s.publish(ctx, events.Event{
		Type:        events.TypeOrderReviewed,
		OrderID:     o.OrderID,
		OrderNumber: o.OrderNumber,
		BuyerID:     o.BuyerID,
		SellerID:    o.SellerID,
		Status:      string(o.Status),
		Rating:      o.Review.Rating,
		ActorID:     buyerID,
	})
	return o, nil
}

// reviewConflict reloads the order to tell a duplicate review apart from a
// concurrent status change.
func (s *Service) reviewConflict(ctx context.Context, orderID string, cause error) error {
	cur, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("reload order: %w", err)
	}
	if cur != nil && cur.Review != nil {
		return apperr.Wrap(cause, apperr.CodeReviewAlreadyExists, "order %s already has a review", orderID)
	}
	return apperr.Wrap(cause, apperr.CodeConflict, "order %s changed concurrently, reload and retry", orderID)
}

// GetOrder returns an order to its buyer or seller.
func (s *Service) GetOrder(ctx context.Context, orderID, actorID string) (*orders.Order, error) {
	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return authorizeRead(o, actorID)
}

// GetOrderByNumber returns an order by its human-readable number to its
// buyer or seller.
func (s *Service) GetOrderByNumber(ctx context.Context, orderNumber, actorID string) (*orders.Order, error) {
	o, err := s.orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("get order by number: %w", err)
	}
	if o == nil {
		return nil, apperr.New(apperr.CodeNotFound, "order %s not found", orderNumber)
	}
	return authorizeRead(o, actorID)
}

// ListByBuyer returns the buyer's orders, newest first, optionally
// filtered by status.
func (s *Service) ListByBuyer(ctx context.Context, buyerID string, status orders.Status) ([]orders.Order, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.New(apperr.CodeInvalidArgument, "unknown status %q", status)
	}
	return s.orders.ListByBuyer(ctx, buyerID, status)
}

// ListBySeller returns the seller's orders, newest first, optionally
// filtered by status.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, status orders.Status) ([]orders.Order, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.New(apperr.CodeInvalidArgument, "unknown status %q", status)
	}
	return s.orders.ListBySeller(ctx, sellerID, status)
}

func (s *Service) loadOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if o == nil {
		return nil, apperr.New(apperr.CodeNotFound, "order %s not found", orderID)
	}
	return o, nil
}

func authorizeRead(o *orders.Order, actorID string) (*orders.Order, error) {
	if _, ok := o.RoleOf(actorID); !ok {
		return nil, apperr.New(apperr.CodeForbidden, "user is not a party to order %s", o.OrderID)
	}
	return o, nil
}
