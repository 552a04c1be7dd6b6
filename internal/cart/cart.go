// Package cart is the session-scoped cart value passed through checkout.
package cart

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Line is one product in the cart. UnitPrice is the price snapshot taken when
// the product was added.
type Line struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	ImageRef  string          `json:"image_ref,omitempty"`
}

// Subtotal is UnitPrice × Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrUnknownProduct  = errors.New("product not in cart")
)

// Cart is an ordered collection of lines keyed by product. It is owned by a
// single session and is not safe for concurrent use.
type Cart struct {
	lines []Line
}

func New() *Cart { return &Cart{} }

// Add appends a line, or adds to the quantity of an existing line for the same
// product. The first price snapshot for a product is kept.
func (c *Cart) Add(l Line) error {
	if l.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if i := c.index(l.ProductID); i >= 0 {
		c.lines[i].Quantity += l.Quantity
		return nil
	}
	c.lines = append(c.lines, l)
	return nil
}

func (c *Cart) Remove(productID string) error {
	i := c.index(productID)
	if i < 0 {
		return ErrUnknownProduct
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	return nil
}

func (c *Cart) Increase(productID string) error {
	i := c.index(productID)
	if i < 0 {
		return ErrUnknownProduct
	}
	c.lines[i].Quantity++
	return nil
}

// Decrease lowers the quantity by one and removes the line when it would drop
// below 1.
func (c *Cart) Decrease(productID string) error {
	i := c.index(productID)
	if i < 0 {
		return ErrUnknownProduct
	}
	if c.lines[i].Quantity <= 1 {
		return c.Remove(productID)
	}
	c.lines[i].Quantity--
	return nil
}

func (c *Cart) Clear() { c.lines = nil }

// Lines returns a copy of the lines in insertion order.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int { return len(c.lines) }

// Total is the grand total of all lines.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func (c *Cart) index(productID string) int {
	for i, l := range c.lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}
