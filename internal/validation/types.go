package validation

// Address is the shipping address captured at checkout.
type Address struct {
	RecipientName string `json:"recipient_name" validate:"required,max=120"`
	Phone         string `json:"phone" validate:"required,max=32"`
	Street        string `json:"street" validate:"required,max=300"`
	City          string `json:"city" validate:"required,max=120"`
	Province      string `json:"province,omitempty" validate:"max=120"`
	PostalCode    string `json:"postal_code" validate:"required,max=16"`
	Country       string `json:"country,omitempty" validate:"max=64"`
}

// CreateOrderRequest is the payload for POST /orders. Items come from the
// caller's cart; amounts are supplied by upstream pricing.
type CreateOrderRequest struct {
	ShippingAddress Address `json:"shipping_address"`
	ShippingMethod  string  `json:"shipping_method" validate:"required,max=64"`
	PaymentMethod   string  `json:"payment_method" validate:"required,max=64"`
	Notes           string  `json:"notes,omitempty" validate:"max=500"`
	ShippingCost    int64   `json:"shipping_cost" validate:"gte=0"`
	Tax             int64   `json:"tax" validate:"gte=0"`
	Discount        int64   `json:"discount" validate:"gte=0"`
}

// UpdateStatusRequest is the payload for POST /orders/:id/status.
type UpdateStatusRequest struct {
	Status         string `json:"status" validate:"required,oneof=confirmed processing shipped delivered completed cancelled refunded"`
	Note           string `json:"note,omitempty" validate:"max=500"`
	TrackingNumber string `json:"tracking_number,omitempty" validate:"max=64"`
}

// CancelOrderRequest is the payload for POST /orders/:id/cancel.
type CancelOrderRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// ReviewRequest is the payload for POST /orders/:id/review.
type ReviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment,omitempty" validate:"max=1000"`
}

// AddCartItemRequest is the payload for POST /cart/items.
type AddCartItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"required,min=1"`
}

// UpdateCartItemRequest is the payload for PUT /cart/items/:productId.
// Zero removes the entry.
type UpdateCartItemRequest struct {
	Quantity int64 `json:"quantity" validate:"min=0"`
}

// CreateProductRequest is the payload for POST /products.
type CreateProductRequest struct {
	Name        string   `json:"name" validate:"required,max=200"`
	Description string   `json:"description,omitempty" validate:"max=5000"`
	Images      []string `json:"images,omitempty" validate:"max=10,dive,url"`
	Price       int64    `json:"price" validate:"required,gt=0"`
	SalePrice   *int64   `json:"sale_price,omitempty" validate:"omitempty,gt=0"`
	Stock       int64    `json:"stock" validate:"gte=0"`
	Publish     bool     `json:"publish"`
}

// UpdateProductRequest is the payload for PUT /products/:id. Absent fields
// are left unchanged.
type UpdateProductRequest struct {
	Name           *string  `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description    *string  `json:"description,omitempty" validate:"omitempty,max=5000"`
	Images         []string `json:"images,omitempty" validate:"omitempty,max=10,dive,url"`
	Price          *int64   `json:"price,omitempty" validate:"omitempty,gt=0"`
	SalePrice      *int64   `json:"sale_price,omitempty" validate:"omitempty,gt=0"`
	ClearSalePrice bool     `json:"clear_sale_price,omitempty"`
}

// AdjustStockRequest is the payload for POST /products/:id/stock.
type AdjustStockRequest struct {
	Delta int64 `json:"delta" validate:"required"` // non-zero, may be negative
}
