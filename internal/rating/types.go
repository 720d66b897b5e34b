package rating

import "time"

// Review is the per-seller copy of an order review, stored in the reviews
// table keyed by order so an order can be reviewed only once.
type Review struct {
	OrderID    string    `dynamodbav:"order_id" json:"order_id"`   // PK
	SellerID   string    `dynamodbav:"seller_id" json:"seller_id"` // GSI seller_id-index
	BuyerID    string    `dynamodbav:"buyer_id" json:"buyer_id"`
	ProductIDs []string  `dynamodbav:"product_ids,omitempty" json:"product_ids,omitempty"`
	Rating     int       `dynamodbav:"rating" json:"rating"`
	Comment    string    `dynamodbav:"comment,omitempty" json:"comment,omitempty"`
	CreatedAt  time.Time `dynamodbav:"created_at" json:"created_at"`
}

// SellerRating is the aggregate stored in the sellers table.
type SellerRating struct {
	SellerID    string    `dynamodbav:"seller_id" json:"seller_id"` // PK
	Rating      float64   `dynamodbav:"rating" json:"rating"`
	ReviewCount int       `dynamodbav:"review_count" json:"review_count"`
	UpdatedAt   time.Time `dynamodbav:"updated_at" json:"updated_at"`
}
