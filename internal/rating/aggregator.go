// Package rating keeps each seller's average review score.
package rating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrReviewNotVisible means the seller index does not list the triggering
// review yet.
var ErrReviewNotVisible = errors.New("review not visible in seller index yet")

// ReviewSource lists reviews and stores aggregates.
type ReviewSource interface {
	ListBySeller(ctx context.Context, sellerID string) ([]Review, error)
	GetSellerRating(ctx context.Context, sellerID string) (*SellerRating, error)
	PutSellerRating(ctx context.Context, r SellerRating) error
}

// Aggregator recomputes seller ratings from scratch.
type Aggregator struct {
	source  ReviewSource
	logger  *zap.Logger
	nowFunc func() time.Time
}

// NewAggregator returns an Aggregator over source.
func NewAggregator(source ReviewSource, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{source: source, logger: logger, nowFunc: time.Now}
}

// Mean returns the arithmetic mean of ratings rounded half away from zero to
// one decimal place. No ratings yield zero.
func Mean(ratings []int) decimal.Decimal {
	if len(ratings) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, r := range ratings {
		sum = sum.Add(decimal.NewFromInt(int64(r)))
	}
	return sum.Div(decimal.NewFromInt(int64(len(ratings)))).Round(1)
}

// Recompute reads every review of sellerID and stores the new average and
// count. If a concurrent recompute already stored an aggregate over more
// reviews, that one is kept and returned.
func (a *Aggregator) Recompute(ctx context.Context, sellerID string) (*SellerRating, error) {
	return a.recompute(ctx, sellerID, "")
}

// RecomputeIncluding is Recompute for a refresh triggered by the review of
// orderID. The seller index is eventually consistent, so if that review is
// not listed yet nothing is stored and ErrReviewNotVisible is returned.
func (a *Aggregator) RecomputeIncluding(ctx context.Context, sellerID, orderID string) (*SellerRating, error) {
	return a.recompute(ctx, sellerID, orderID)
}

func (a *Aggregator) recompute(ctx context.Context, sellerID, orderID string) (*SellerRating, error) {
	reviews, err := a.source.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if orderID != "" && !containsOrder(reviews, orderID) {
		return nil, fmt.Errorf("review of order %s: %w", orderID, ErrReviewNotVisible)
	}
	ratings := make([]int, len(reviews))
	for i, r := range reviews {
		ratings[i] = r.Rating
	}

	agg := SellerRating{
		SellerID:    sellerID,
		Rating:      Mean(ratings).InexactFloat64(),
		ReviewCount: len(reviews),
		UpdatedAt:   a.nowFunc().UTC(),
	}
	if err := a.source.PutSellerRating(ctx, agg); err != nil {
		if errors.Is(err, ErrStale) {
			a.logger.Debug("newer seller rating already stored", zap.String("seller_id", sellerID))
			return a.source.GetSellerRating(ctx, sellerID)
		}
		return nil, err
	}
	a.logger.Info("seller rating recomputed",
		zap.String("seller_id", sellerID),
		zap.Float64("rating", agg.Rating),
		zap.Int("review_count", agg.ReviewCount),
	)
	return &agg, nil
}

func containsOrder(reviews []Review, orderID string) bool {
	for _, r := range reviews {
		if r.OrderID == orderID {
			return true
		}
	}
	return false
}

// Get returns the stored aggregate for sellerID.
func (a *Aggregator) Get(ctx context.Context, sellerID string) (*SellerRating, error) {
	return a.source.GetSellerRating(ctx, sellerID)
}
