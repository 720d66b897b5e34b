package cart

import "time"

// Item is one cart entry. A cart holds at most one entry per product.
type Item struct {
	ProductID string    `dynamodbav:"product_id" json:"product_id"`
	Quantity  int64     `dynamodbav:"quantity" json:"quantity"`
	AddedAt   time.Time `dynamodbav:"added_at" json:"added_at"`
}

// Cart is the item stored in the carts table, one per buyer.
type Cart struct {
	UserID    string    `dynamodbav:"user_id" json:"user_id"` // PK
	Items     []Item    `dynamodbav:"items" json:"items"`
	Version   int64     `dynamodbav:"version" json:"version"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Add puts qty of productID in the cart, merging with an existing entry.
func (c *Cart) Add(productID string, qty int64, now time.Time) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity += qty
			return
		}
	}
	c.Items = append(c.Items, Item{ProductID: productID, Quantity: qty, AddedAt: now})
}

// Update sets the quantity of an existing entry; qty <= 0 removes it.
// It reports whether the product was in the cart.
func (c *Cart) Update(productID string, qty int64) bool {
	for i := range c.Items {
		if c.Items[i].ProductID != productID {
			continue
		}
		if qty <= 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
		} else {
			c.Items[i].Quantity = qty
		}
		return true
	}
	return false
}

// Remove drops productID and reports whether it was present.
func (c *Cart) Remove(productID string) bool {
	return c.Update(productID, 0)
}

// Quantity returns how many units of productID are in the cart.
func (c *Cart) Quantity(productID string) int64 {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it.Quantity
		}
	}
	return 0
}

// Clear empties the cart.
func (c *Cart) Clear() { c.Items = []Item{} }

// Empty reports whether there is nothing to check out.
func (c *Cart) Empty() bool { return len(c.Items) == 0 }
