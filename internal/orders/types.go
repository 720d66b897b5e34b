package orders

import "time"

// Status is the fulfillment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// PaymentStatus tracks money movement, not fulfillment.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// Item is a line item. Name, price and image are copied from the product
// when the order is created and never refreshed.
type Item struct {
	ProductID string `dynamodbav:"product_id" json:"product_id"`
	Name      string `dynamodbav:"name" json:"name"`
	Image     string `dynamodbav:"image,omitempty" json:"image,omitempty"`
	Price     int64  `dynamodbav:"price" json:"price"`
	Quantity  int64  `dynamodbav:"quantity" json:"quantity"`
	Subtotal  int64  `dynamodbav:"subtotal" json:"subtotal"`
}

// Address is the shipping address as entered at checkout.
type Address struct {
	RecipientName string `dynamodbav:"recipient_name" json:"recipient_name"`
	Phone         string `dynamodbav:"phone" json:"phone"`
	Street        string `dynamodbav:"street" json:"street"`
	City          string `dynamodbav:"city" json:"city"`
	Province      string `dynamodbav:"province,omitempty" json:"province,omitempty"`
	PostalCode    string `dynamodbav:"postal_code" json:"postal_code"`
	Country       string `dynamodbav:"country,omitempty" json:"country,omitempty"`
}

// TimelineEntry records one status change.
type TimelineEntry struct {
	Status    Status    `dynamodbav:"status" json:"status"`
	Timestamp time.Time `dynamodbav:"timestamp" json:"timestamp"`
	Note      string    `dynamodbav:"note,omitempty" json:"note,omitempty"`
	ActorID   string    `dynamodbav:"actor_id,omitempty" json:"actor_id,omitempty"`
}

// Review is the buyer's rating of a completed order.
type Review struct {
	Rating    int       `dynamodbav:"rating" json:"rating"`
	Comment   string    `dynamodbav:"comment,omitempty" json:"comment,omitempty"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
}

// Order is the item stored in the orders table.
type Order struct {
	OrderID     string `dynamodbav:"order_id" json:"order_id"`         // PK
	OrderNumber string `dynamodbav:"order_number" json:"order_number"` // unique via order_numbers table
	BuyerID     string `dynamodbav:"buyer_id" json:"buyer_id"`         // GSI buyer_id-index
	SellerID    string `dynamodbav:"seller_id" json:"seller_id"`       // GSI seller_id-index

	Items        []Item `dynamodbav:"items" json:"items"`
	Subtotal     int64  `dynamodbav:"subtotal" json:"subtotal"`
	ShippingCost int64  `dynamodbav:"shipping_cost" json:"shipping_cost"`
	Tax          int64  `dynamodbav:"tax" json:"tax"`
	Discount     int64  `dynamodbav:"discount" json:"discount"`
	Total        int64  `dynamodbav:"total" json:"total"`

	Status         Status        `dynamodbav:"status" json:"status"`
	PaymentStatus  PaymentStatus `dynamodbav:"payment_status" json:"payment_status"`
	PaymentMethod  string        `dynamodbav:"payment_method,omitempty" json:"payment_method,omitempty"`
	ShippingAddr   Address       `dynamodbav:"shipping_address" json:"shipping_address"`
	ShippingMethod string        `dynamodbav:"shipping_method,omitempty" json:"shipping_method,omitempty"`
	TrackingNumber string        `dynamodbav:"tracking_number,omitempty" json:"tracking_number,omitempty"`
	Notes          string        `dynamodbav:"notes,omitempty" json:"notes,omitempty"`

	Timeline []TimelineEntry `dynamodbav:"timeline" json:"timeline"`
	Review   *Review         `dynamodbav:"review,omitempty" json:"review,omitempty"`

	Version     int64      `dynamodbav:"version" json:"version"`
	CreatedAt   time.Time  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `dynamodbav:"updated_at" json:"updated_at"`
	PaidAt      *time.Time `dynamodbav:"paid_at,omitempty" json:"paid_at,omitempty"`
	ShippedAt   *time.Time `dynamodbav:"shipped_at,omitempty" json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `dynamodbav:"delivered_at,omitempty" json:"delivered_at,omitempty"`
	CompletedAt *time.Time `dynamodbav:"completed_at,omitempty" json:"completed_at,omitempty"`
	CancelledAt *time.Time `dynamodbav:"cancelled_at,omitempty" json:"cancelled_at,omitempty"`
	RefundedAt  *time.Time `dynamodbav:"refunded_at,omitempty" json:"refunded_at,omitempty"`
}

// Total computes subtotal + shipping + tax - discount.
func Total(subtotal, shipping, tax, discount int64) int64 {
	return subtotal + shipping + tax - discount
}
