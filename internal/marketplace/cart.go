package marketplace

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/cart"
	"github.com/imrishuroy/marketplace-orderflow/internal/products"
)

// CartLine is a cart entry joined with the live product.
type CartLine struct {
	ProductID string `json:"product_id"`
	SellerID  string `json:"seller_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Image     string `json:"image,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int64  `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
	Stock     int64  `json:"stock"`
	Available bool   `json:"available"`
}

// CartView is what the buyer sees. Subtotal only counts available lines.
type CartView struct {
	UserID   string     `json:"user_id"`
	Items    []CartLine `json:"items"`
	Subtotal int64      `json:"subtotal"`
	Version  int64      `json:"version"`
}

// GetCart returns the buyer's cart priced against current products.
func (s *Service) GetCart(ctx context.Context, userID string) (*CartView, error) {
	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	view := &CartView{UserID: userID, Items: make([]CartLine, 0, len(c.Items)), Version: c.Version}
	for _, it := range c.Items {
		line := CartLine{ProductID: it.ProductID, Quantity: it.Quantity}
		p, err := s.products.Get(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		if p != nil {
			line.SellerID = p.SellerID
			line.Name = p.Name
			line.Image = p.Image()
			line.UnitPrice = p.UnitPrice()
			line.Subtotal = line.UnitPrice * it.Quantity
			line.Stock = p.Stock
			line.Available = p.Purchasable(it.Quantity)
		}
		if line.Available {
			view.Subtotal += line.Subtotal
		}
		view.Items = append(view.Items, line)
	}
	return view, nil
}

// AddToCart adds qty of productID, merging with an existing entry. The
// merged quantity must be in stock.
func (s *Service) AddToCart(ctx context.Context, userID, productID string, qty int64) (*CartView, error) {
	if qty <= 0 {
		return nil, apperr.New(apperr.CodeInvalidArgument, "quantity must be positive, got %d", qty)
	}
	err := s.updateCart(ctx, userID, func(c *cart.Cart) error {
		if err := s.checkPurchasable(ctx, userID, productID, c.Quantity(productID)+qty); err != nil {
			return err
		}
		c.Add(productID, qty, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetCart(ctx, userID)
}

// UpdateCartItem sets the quantity of a cart entry; qty <= 0 removes it.
func (s *Service) UpdateCartItem(ctx context.Context, userID, productID string, qty int64) (*CartView, error) {
	err := s.updateCart(ctx, userID, func(c *cart.Cart) error {
		if qty > 0 {
			if err := s.checkPurchasable(ctx, userID, productID, qty); err != nil {
				return err
			}
		}
		if !c.Update(productID, qty) {
			return apperr.New(apperr.CodeNotFound, "product %s is not in the cart", productID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetCart(ctx, userID)
}

// RemoveCartItem drops productID from the cart.
func (s *Service) RemoveCartItem(ctx context.Context, userID, productID string) (*CartView, error) {
	err := s.updateCart(ctx, userID, func(c *cart.Cart) error {
		if !c.Remove(productID) {
			return apperr.New(apperr.CodeNotFound, "product %s is not in the cart", productID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetCart(ctx, userID)
}

// ClearCart empties the cart.
func (s *Service) ClearCart(ctx context.Context, userID string) error {
	return s.updateCart(ctx, userID, func(c *cart.Cart) error {
		c.Clear()
		return nil
	})
}

func (s *Service) updateCart(ctx context.Context, userID string, fn func(c *cart.Cart) error) error {
	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}
	if err := fn(c); err != nil {
		return err
	}
	if err := s.carts.Save(ctx, c); err != nil {
		if errors.Is(err, cart.ErrVersionConflict) {
			return apperr.Wrap(err, apperr.CodeConflict, "cart changed concurrently, reload and retry")
		}
		return err
	}
	return nil
}

func (s *Service) checkPurchasable(ctx context.Context, userID, productID string, qty int64) error {
	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return err
	}
	if p == nil || p.Status == products.StatusDeleted {
		return apperr.New(apperr.CodeNotFound, "product %s not found", productID)
	}
	if p.SellerID == userID {
		return apperr.New(apperr.CodeInvalidArgument, "sellers cannot buy their own products")
	}
	if !p.Purchasable(qty) {
		return apperr.New(apperr.CodeProductUnavailable, "product %s cannot supply %d (status %s, stock %d)", productID, qty, p.Status, p.Stock)
	}
	return nil
}
