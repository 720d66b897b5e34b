// Package inventory owns product stock counters. Every mutation is a
// compare-and-swap on the product version, retried with backoff when another
// writer wins the race.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/products"
)

// ProductStore is the persistence the ledger needs.
type ProductStore interface {
	Get(ctx context.Context, productID string) (*products.Product, error)
	Save(ctx context.Context, p *products.Product) error
}

// Line is a quantity of one product.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// ReleaseError lists the lines whose stock could not be returned.
type ReleaseError struct {
	Lines []Line
	Err   error
}

func (e *ReleaseError) Error() string {
	ids := make([]string, len(e.Lines))
	for i, l := range e.Lines {
		ids[i] = l.ProductID
	}
	return fmt.Sprintf("release failed for %s: %v", strings.Join(ids, ","), e.Err)
}

func (e *ReleaseError) Unwrap() error { return e.Err }

// Ledger applies stock mutations.
type Ledger struct {
	store       ProductStore
	maxAttempts int
	backOff     func() backoff.BackOff
	logger      *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMaxAttempts bounds how many times a mutation is tried on version conflicts.
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithLogger sets the ledger logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithBackOff replaces the retry schedule.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(l *Ledger) { l.backOff = fn }
}

// NewLedger returns a Ledger over store.
func NewLedger(store ProductStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		maxAttempts: 8,
		logger:      zap.NewNop(),
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 5 * time.Millisecond
			b.MaxInterval = 200 * time.Millisecond
			return b
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reserve takes qty units of productID or fails with insufficient_stock
// leaving the product untouched.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int64) (*products.Product, error) {
	if qty <= 0 {
		return nil, apperr.New(apperr.CodeInvalidArgument, "quantity must be positive, got %d", qty)
	}
	return l.mutate(ctx, productID, func(p *products.Product) error {
		if p.Stock < qty {
			return apperr.New(apperr.CodeInsufficientStock, "insufficient stock for product %s: requested %d, available %d", productID, qty, p.Stock)
		}
		setStock(p, p.Stock-qty)
		return nil
	})
}

// Release returns qty units to productID.
func (l *Ledger) Release(ctx context.Context, productID string, qty int64) (*products.Product, error) {
	if qty <= 0 {
		return nil, apperr.New(apperr.CodeInvalidArgument, "quantity must be positive, got %d", qty)
	}
	return l.mutate(ctx, productID, func(p *products.Product) error {
		setStock(p, p.Stock+qty)
		return nil
	})
}

// Adjust applies a manual correction, flooring the result at zero.
func (l *Ledger) Adjust(ctx context.Context, productID string, delta int64) (*products.Product, error) {
	return l.mutate(ctx, productID, func(p *products.Product) error {
		setStock(p, max(p.Stock+delta, 0))
		return nil
	})
}

// ReserveAll reserves every line in order. On the first failure it releases
// what it already took and returns that failure. If the rollback itself fails
// the error is internal_inconsistency wrapping a *ReleaseError.
func (l *Ledger) ReserveAll(ctx context.Context, lines []Line) error {
	reserved := make([]Line, 0, len(lines))
	for _, line := range lines {
		if _, err := l.Reserve(ctx, line.ProductID, line.Quantity); err != nil {
			if len(reserved) == 0 {
				return err
			}
			l.logger.Info("rolling back partial reservation",
				zap.String("failed_product_id", line.ProductID),
				zap.Int("reserved_lines", len(reserved)),
				zap.String("code", string(apperr.CodeOf(err))),
			)
			if rbErr := l.ReleaseAll(context.WithoutCancel(ctx), reserved); rbErr != nil {
				return apperr.Wrap(errors.Join(err, rbErr), apperr.CodeInternalInconsistency, "reservation rollback failed")
			}
			return err
		}
		reserved = append(reserved, line)
	}
	return nil
}

// ReleaseAll releases every line, continuing past failures. Lines whose
// product no longer exists are skipped since no stock is owed to them. It
// returns a *ReleaseError naming the lines that were not released.
func (l *Ledger) ReleaseAll(ctx context.Context, lines []Line) error {
	var (
		failed []Line
		errs   []error
	)
	for _, line := range lines {
		_, err := l.Release(ctx, line.ProductID, line.Quantity)
		if errors.Is(err, apperr.ErrProductUnavailable) {
			l.logger.Warn("skipping release for missing product",
				zap.String("product_id", line.ProductID),
				zap.Int64("quantity", line.Quantity),
			)
			continue
		}
		if err != nil {
			l.logger.Error("stock release failed",
				zap.String("product_id", line.ProductID),
				zap.Int64("quantity", line.Quantity),
				zap.Error(err),
			)
			failed = append(failed, line)
			errs = append(errs, err)
		}
	}
	if len(failed) > 0 {
		return &ReleaseError{Lines: failed, Err: errors.Join(errs...)}
	}
	return nil
}

func (l *Ledger) mutate(ctx context.Context, productID string, fn func(p *products.Product) error) (*products.Product, error) {
	b := backoff.WithContext(backoff.WithMaxRetries(l.backOff(), uint64(l.maxAttempts-1)), ctx)
	p, err := backoff.RetryWithData(func() (*products.Product, error) {
		p, err := l.store.Get(ctx, productID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if p == nil {
			return nil, backoff.Permanent(apperr.New(apperr.CodeProductUnavailable, "product %s not found", productID))
		}
		if err := fn(p); err != nil {
			return nil, backoff.Permanent(err)
		}
		if err := l.store.Save(ctx, p); err != nil {
			if errors.Is(err, products.ErrVersionConflict) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return p, nil
	}, b)
	if errors.Is(err, products.ErrVersionConflict) {
		return nil, apperr.Wrap(err, apperr.CodeConflict, "stock for product %s is contended, retry later", productID)
	}
	return p, err
}

// setStock writes the counter and keeps the status consistent with it.
// Deleted products keep their status.
func setStock(p *products.Product, stock int64) {
	p.Stock = stock
	if p.Status == products.StatusDeleted {
		return
	}
	switch {
	case stock == 0:
		p.Status = products.StatusOutOfStock
	case p.Status == products.StatusOutOfStock:
		p.Status = products.StatusActive
	}
}
