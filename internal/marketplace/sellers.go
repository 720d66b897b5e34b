package marketplace

import (
	"context"

	"github.com/imrishuroy/marketplace-orderflow/internal/rating"
)

// SellerRating returns the stored aggregate for sellerID.
func (s *Service) SellerRating(ctx context.Context, sellerID string) (*rating.SellerRating, error) {
	return s.ratings.Get(ctx, sellerID)
}

// SellerReviews returns every review of sellerID, newest first.
func (s *Service) SellerReviews(ctx context.Context, sellerID string) ([]rating.Review, error) {
	return s.reviews.ListBySeller(ctx, sellerID)
}
