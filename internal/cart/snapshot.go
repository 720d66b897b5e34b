package cart

import (
	"context"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/products"
)

// ProductReader loads current product data.
type ProductReader interface {
	Get(ctx context.Context, productID string) (*products.Product, error)
}

// Line is a priced, immutable copy of one cart entry.
type Line struct {
	ProductID string
	SellerID  string
	Name      string
	Image     string
	UnitPrice int64
	Quantity  int64
	Subtotal  int64
}

// Snapshot is the checkout view of a cart at one instant.
type Snapshot struct {
	Lines    []Line
	Subtotal int64
}

// SellerIDs lists the distinct sellers in line order.
func (s *Snapshot) SellerIDs() []string {
	seen := map[string]bool{}
	var ids []string
	for _, l := range s.Lines {
		if !seen[l.SellerID] {
			seen[l.SellerID] = true
			ids = append(ids, l.SellerID)
		}
	}
	return ids
}

// BuildSnapshot prices every entry against the current product state. It
// reads only; availability is re-checked by the ledger when stock is taken.
func BuildSnapshot(ctx context.Context, reader ProductReader, c *Cart) (*Snapshot, error) {
	if c == nil || c.Empty() {
		return nil, apperr.New(apperr.CodeCartEmpty, "cart is empty")
	}

	snap := &Snapshot{Lines: make([]Line, 0, len(c.Items))}
	for _, it := range c.Items {
		p, err := reader.Get(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, apperr.New(apperr.CodeProductUnavailable, "product %s no longer exists", it.ProductID)
		}
		if p.Status != products.StatusActive {
			return nil, apperr.New(apperr.CodeProductUnavailable, "product %s is %s", it.ProductID, p.Status)
		}
		if it.Quantity > p.Stock {
			return nil, apperr.New(apperr.CodeProductUnavailable, "product %s has %d in stock, cart wants %d", it.ProductID, p.Stock, it.Quantity)
		}

		price := p.UnitPrice()
		line := Line{
			ProductID: p.ProductID,
			SellerID:  p.SellerID,
			Name:      p.Name,
			Image:     p.Image(),
			UnitPrice: price,
			Quantity:  it.Quantity,
			Subtotal:  price * it.Quantity,
		}
		snap.Lines = append(snap.Lines, line)
		snap.Subtotal += line.Subtotal
	}
	return snap, nil
}
