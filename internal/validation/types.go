package validation

import (
	"github.com/imrishuroy/go-storefront-checkout/internal/cart"
	"github.com/shopspring/decimal"
)

// Item represents a single cart line in a checkout request.
type Item struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Name      string `json:"name" validate:"max=200"`
	UnitPrice string `json:"unit_price" validate:"required,decimal_gt0"` // decimal string, e.g. "499.00"
	Quantity  int    `json:"quantity" validate:"required,min=1,max=1000"`
	ImageRef  string `json:"image_ref,omitempty" validate:"max=512"`
}

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	AddressID string `json:"address_id" validate:"required,max=64"`
	Items     []Item `json:"items" validate:"required,min=1,max=100,dive"`
	Amount    string `json:"amount,omitempty" validate:"omitempty,decimal_gt0"` // total the client displayed, optional
}

// Cart rebuilds the session cart from the request lines. Lines for the same
// product are merged.
func (r CreateOrderRequest) Cart() (*cart.Cart, error) {
	c := cart.New()
	for _, it := range r.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return nil, err
		}
		if err := c.Add(cart.Line{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: price,
			Quantity:  it.Quantity,
			ImageRef:  it.ImageRef,
		}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// CallbackRequest is the payment widget callback relayed by the client.
// Fields are only bounded here; their content is checked by signature.
type CallbackRequest struct {
	ProviderOrderID   string `json:"provider_order_id" validate:"required,max=256"`
	ProviderPaymentID string `json:"provider_payment_id" validate:"required,max=256"`
	ProviderSignature string `json:"provider_signature" validate:"required,max=256"`
}

// AddressRequest is the payload for POST /addresses
type AddressRequest struct {
	AddressLine string `json:"address_line" validate:"required,max=200"`
	City        string `json:"city" validate:"required,max=100"`
	State       string `json:"state" validate:"max=100"`
	Zip         string `json:"zip" validate:"required,max=12"`
	Country     string `json:"country" validate:"required,max=56"`
}

// ProductQuery is the query string for GET /products
type ProductQuery struct {
	Category string `form:"category" validate:"max=64"`
	Section  string `form:"section" validate:"max=64"`
	Sort     string `form:"sort" validate:"omitempty,oneof=name price_asc price_desc"`
}
