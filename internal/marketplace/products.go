package marketplace

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/products"
)

// NewProduct is a seller's listing request.
type NewProduct struct {
	Name        string
	Description string
	Images      []string
	Price       int64
	SalePrice   *int64
	Stock       int64
	Publish     bool
}

// ProductChanges updates listing details. Nil fields are left alone.
type ProductChanges struct {
	Name           *string
	Description    *string
	Images         []string
	Price          *int64
	SalePrice      *int64
	ClearSalePrice bool
}

// CreateProduct lists a new product for sellerID, as a draft unless
// Publish is set.
func (s *Service) CreateProduct(ctx context.Context, sellerID string, in NewProduct) (*products.Product, error) {
	if in.Stock < 0 {
		return nil, apperr.New(apperr.CodeInvalidArgument, "stock must not be negative")
	}
	p := &products.Product{
		ProductID:   uuid.NewString(),
		SellerID:    sellerID,
		Name:        in.Name,
		Description: in.Description,
		Images:      in.Images,
		Price:       in.Price,
		SalePrice:   in.SalePrice,
		Stock:       in.Stock,
		Status:      products.StatusDraft,
	}
	if err := validatePricing(p); err != nil {
		return nil, err
	}
	if in.Publish {
		publish(p)
	}
	if err := s.products.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("product created",
		zap.String("product_id", p.ProductID),
		zap.String("seller_id", sellerID),
		zap.String("status", string(p.Status)),
	)
	return p, nil
}

// GetProduct returns a product that has not been deleted.
func (s *Service) GetProduct(ctx context.Context, productID string) (*products.Product, error) {
	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Status == products.StatusDeleted {
		return nil, apperr.New(apperr.CodeNotFound, "product %s not found", productID)
	}
	return p, nil
}

// UpdateProduct edits listing details. Stock is changed with AdjustStock.
func (s *Service) UpdateProduct(ctx context.Context, sellerID, productID string, ch ProductChanges) (*products.Product, error) {
	return s.editProduct(ctx, sellerID, productID, func(p *products.Product) error {
		if ch.Name != nil {
			p.Name = *ch.Name
		}
		if ch.Description != nil {
			p.Description = *ch.Description
		}
		if ch.Images != nil {
			p.Images = ch.Images
		}
		if ch.Price != nil {
			p.Price = *ch.Price
		}
		switch {
		case ch.ClearSalePrice:
			p.SalePrice = nil
		case ch.SalePrice != nil:
			sp := *ch.SalePrice
			p.SalePrice = &sp
		}
		return validatePricing(p)
	})
}

// PublishProduct makes a product purchasable, or out_of_stock when it has
// no stock.
func (s *Service) PublishProduct(ctx context.Context, sellerID, productID string) (*products.Product, error) {
	return s.editProduct(ctx, sellerID, productID, func(p *products.Product) error {
		publish(p)
		return nil
	})
}

// DeleteProduct soft deletes a product, or removes it when hard is set.
// Existing orders keep their snapshots either way.
func (s *Service) DeleteProduct(ctx context.Context, sellerID, productID string, hard bool) error {
	if hard {
		p, err := s.ownedProduct(ctx, sellerID, productID)
		if err != nil {
			return err
		}
		if err := s.products.Delete(ctx, productID, p.Version); err != nil {
			if errors.Is(err, products.ErrVersionConflict) {
				return apperr.Wrap(err, apperr.CodeConflict, "product %s changed concurrently, retry", productID)
			}
			return err
		}
		s.logger.Info("product removed", zap.String("product_id", productID), zap.String("seller_id", sellerID))
		return nil
	}
	_, err := s.editProduct(ctx, sellerID, productID, func(p *products.Product) error {
		p.Status = products.StatusDeleted
		return nil
	})
	return err
}

// AdjustStock applies a manual stock correction through the ledger.
func (s *Service) AdjustStock(ctx context.Context, sellerID, productID string, delta int64) (*products.Product, error) {
	if delta == 0 {
		return nil, apperr.New(apperr.CodeInvalidArgument, "delta must not be zero")
	}
	if _, err := s.ownedProduct(ctx, sellerID, productID); err != nil {
		return nil, err
	}
	p, err := s.ledger.Adjust(ctx, productID, delta)
	if err != nil {
		return nil, err
	}
	s.logger.Info("stock adjusted",
		zap.String("product_id", productID),
		zap.Int64("delta", delta),
		zap.Int64("stock", p.Stock),
	)
	return p, nil
}

// ListSellerProducts lists a seller's catalogue. The seller sees every
// listing except deleted ones; everyone else sees only listed products.
func (s *Service) ListSellerProducts(ctx context.Context, sellerID, viewerID string) ([]products.Product, error) {
	all, err := s.products.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	out := make([]products.Product, 0, len(all))
	for _, p := range all {
		switch {
		case p.Status == products.StatusDeleted:
		case viewerID == sellerID:
			out = append(out, p)
		case p.Status == products.StatusActive || p.Status == products.StatusOutOfStock:
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) editProduct(ctx context.Context, sellerID, productID string, fn func(p *products.Product) error) (*products.Product, error) {
	p, err := s.ownedProduct(ctx, sellerID, productID)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	if err := s.products.Save(ctx, p); err != nil {
		if errors.Is(err, products.ErrVersionConflict) {
			return nil, apperr.Wrap(err, apperr.CodeConflict, "product %s changed concurrently, retry", productID)
		}
		return nil, fmt.Errorf("save product: %w", err)
	}
	return p, nil
}

func (s *Service) ownedProduct(ctx context.Context, sellerID, productID string) (*products.Product, error) {
	p, err := s.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.SellerID != sellerID {
		return nil, apperr.New(apperr.CodeForbidden, "product %s belongs to another seller", productID)
	}
	return p, nil
}

func validatePricing(p *products.Product) error {
	if p.Price <= 0 {
		return apperr.New(apperr.CodeInvalidArgument, "price must be positive")
	}
	if p.SalePrice != nil && (*p.SalePrice <= 0 || *p.SalePrice >= p.Price) {
		return apperr.New(apperr.CodeInvalidArgument, "sale price must be positive and below the price")
	}
	return nil
}

func publish(p *products.Product) {
	if p.Stock == 0 {
		p.Status = products.StatusOutOfStock
		return
	}
	p.Status = products.StatusActive
}
