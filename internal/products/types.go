package products

import "time"

// Status is the listing state of a product.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusOutOfStock Status = "out_of_stock"
	StatusDeleted    Status = "deleted"
)

// Product is the item stored in the products table. Money fields are in the
// currency's smallest unit.
type Product struct {
	ProductID   string    `dynamodbav:"product_id" json:"product_id"` // PK
	SellerID    string    `dynamodbav:"seller_id" json:"seller_id"`   // GSI seller_id-index
	Name        string    `dynamodbav:"name" json:"name"`
	Description string    `dynamodbav:"description,omitempty" json:"description,omitempty"`
	Images      []string  `dynamodbav:"images,omitempty" json:"images,omitempty"`
	Price       int64     `dynamodbav:"price" json:"price"`
	SalePrice   *int64    `dynamodbav:"sale_price,omitempty" json:"sale_price,omitempty"`
	Stock       int64     `dynamodbav:"stock" json:"stock"`
	Status      Status    `dynamodbav:"status" json:"status"`
	Version     int64     `dynamodbav:"version" json:"version"`
	CreatedAt   time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt   time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// UnitPrice is the sale price when one is set, else the list price.
func (p *Product) UnitPrice() int64 {
	if p.SalePrice != nil {
		return *p.SalePrice
	}
	return p.Price
}

// Purchasable reports whether qty units can be put in a cart or ordered.
func (p *Product) Purchasable(qty int64) bool {
	return p.Status == StatusActive && qty <= p.Stock
}

// Image returns the first image URL, if any.
func (p *Product) Image() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}
