// Package marketplace sequences the cart, inventory, order and rating
// components into the operations buyers and sellers call.
package marketplace

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/cart"
	"github.com/imrishuroy/marketplace-orderflow/internal/config"
	"github.com/imrishuroy/marketplace-orderflow/internal/events"
	"github.com/imrishuroy/marketplace-orderflow/internal/inventory"
	"github.com/imrishuroy/marketplace-orderflow/internal/jobs"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/products"
	"github.com/imrishuroy/marketplace-orderflow/internal/rating"
)

// Metric names.
const (
	MetricOrdersCreated            = "OrdersCreated"
	MetricStockReservationRejected = "StockReservationRejected"
	MetricOrdersCancelled          = "OrdersCancelled"
	MetricInventoryInconsistency   = "InventoryInconsistency"
)

const (
	// orderNumberAttempts bounds retries on order number collisions.
	orderNumberAttempts = 3
	// compensationTimeout bounds stock release after the caller is gone.
	compensationTimeout = 10 * time.Second
)

// Counter records business metrics. *aws.Metrics satisfies it.
type Counter interface {
	Count(ctx context.Context, name string, value float64, dims map[string]string) error
}

type nopCounter struct{}

func (nopCounter) Count(context.Context, string, float64, map[string]string) error { return nil }

// Stores groups the persistence the service works on.
type Stores struct {
	Products *products.Store
	Carts    *cart.Store
	Orders   *orders.Store
	Ratings  *rating.Store
}

// Service is the order lifecycle orchestrator.
type Service struct {
	products *products.Store
	carts    *cart.Store
	orders   *orders.Store
	reviews  *rating.Store

	ledger  *inventory.Ledger
	ratings *rating.Aggregator

	events  events.Publisher
	jobs    jobs.Enqueuer
	metrics Counter
	logger  *zap.Logger
	tracer  trace.Tracer
	nowFunc func() time.Time

	ledgerOpts []inventory.Option
}

// Option configures a Service.
type Option func(*Service)

// WithEvents sets the lifecycle event publisher.
func WithEvents(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithJobs sets the reconciliation job queue.
func WithJobs(q jobs.Enqueuer) Option {
	return func(s *Service) { s.jobs = q }
}

// WithMetrics sets the metrics sink.
func WithMetrics(c Counter) Option {
	return func(s *Service) { s.metrics = c }
}

// WithLogger sets the logger, also handed to the ledger and aggregator.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithTracerProvider sets where spans go.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(config.ServiceName) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.nowFunc = now }
}

// WithLedgerOptions passes options through to the inventory ledger.
func WithLedgerOptions(opts ...inventory.Option) Option {
	return func(s *Service) { s.ledgerOpts = append(s.ledgerOpts, opts...) }
}

// New wires a Service over stores.
func New(stores Stores, opts ...Option) *Service {
	s := &Service{
		products: stores.Products,
		carts:    stores.Carts,
		orders:   stores.Orders,
		reviews:  stores.Ratings,
		events:   events.Nop{},
		jobs:     jobs.Nop{},
		metrics:  nopCounter{},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(config.ServiceName),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = inventory.NewLedger(s.products, append([]inventory.Option{inventory.WithLogger(s.logger)}, s.ledgerOpts...)...)
	s.ratings = rating.NewAggregator(s.reviews, s.logger)
	return s
}

// Ledger exposes the inventory ledger for the reconciliation worker.
func (s *Service) Ledger() *inventory.Ledger { return s.ledger }

// Ratings exposes the rating aggregator for the reconciliation worker.
func (s *Service) Ratings() *rating.Aggregator { return s.ratings }

func (s *Service) now() time.Time { return s.nowFunc().UTC() }

type correlationKey struct{}

// WithCorrelationID tags ctx with a request id that is copied onto events
// and jobs.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func errorCodeAttr(code apperr.Code) attribute.KeyValue {
	return attribute.String("error.code", string(code))
}

// endSpan records err on span unless it is an expected domain outcome.
func endSpan(span trace.Span, err error) {
	if err != nil {
		code := apperr.CodeOf(err)
		span.SetAttributes(errorCodeAttr(code))
		if code == apperr.CodeInternal || code == apperr.CodeInternalInconsistency {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

// logFailure logs expected codes at info and everything else at error.
func (s *Service) logFailure(msg string, err error, fields ...zap.Field) {
	code := apperr.CodeOf(err)
	fields = append(fields, zap.String("code", string(code)), zap.Error(err))
	switch code {
	case apperr.CodeInternal, apperr.CodeInternalInconsistency:
		s.logger.Error(msg, fields...)
	default:
		s.logger.Info(msg, fields...)
	}
}

func (s *Service) count(ctx context.Context, name string, dims map[string]string) {
	if err := s.metrics.Count(ctx, name, 1, dims); err != nil {
		s.logger.Warn("metric not recorded", zap.String("metric", name), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	ev.OccurredAt = s.now()
	ev.CorrelationID = correlationID(ctx)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("event not published",
			zap.String("type", ev.Type),
			zap.String("order_id", ev.OrderID),
			zap.Error(err),
		)
	}
}

// inconsistent handles a failed stock release: the lines that were not
// released are queued for the worker and the caller gets
// internal_inconsistency.
func (s *Service) inconsistent(ctx context.Context, orderID string, cause, releaseErr error) error {
	var rel *inventory.ReleaseError
	var lines []inventory.Line
	if errors.As(releaseErr, &rel) {
		lines = rel.Lines
	}
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	s.logger.Error("stock left reserved",
		zap.String("order_id", orderID),
		zap.Strings("product_ids", ids),
		zap.Error(releaseErr),
	)
	s.count(ctx, MetricInventoryInconsistency, nil)

	if len(lines) > 0 {
		job := jobs.InventoryRelease(orderID, lines, correlationID(ctx))
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			s.logger.Error("reconciliation job not queued",
				zap.String("order_id", orderID),
				zap.String("job_key", job.Key),
				zap.Error(err),
			)
		}
	}
	return apperr.Wrap(errors.Join(cause, releaseErr), apperr.CodeInternalInconsistency, "stock for order %s could not be restored, reconciliation queued", orderID)
}

func orderLines(o *orders.Order) []inventory.Line {
	lines := make([]inventory.Line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
}
