package orders

import (
	"time"

	"github.com/imrishuroy/go-storefront-checkout/internal/money"
	"github.com/shopspring/decimal"
)

// Order statuses. paid, failed and cancelled are terminal.
const (
	StatusCreated   = "created"
	StatusPaid      = "paid"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// LineItem is a cart line frozen at order creation.
type LineItem struct {
	ProductID       string       `dynamodbav:"product_id" json:"product_id"`
	Name            string       `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Quantity        int          `dynamodbav:"quantity" json:"quantity"`
	PriceAtPurchase money.Amount `dynamodbav:"price_at_purchase" json:"price_at_purchase"`
}

// Order represents the item stored in the Orders table.
type Order struct {
	OrderID           string       `dynamodbav:"order_id" json:"order_id"` // PK
	UserID            string       `dynamodbav:"user_id,omitempty" json:"user_id,omitempty"`
	AddressID         string       `dynamodbav:"address_id" json:"address_id"`
	Items             []LineItem   `dynamodbav:"items" json:"items"`
	TotalAmount       money.Amount `dynamodbav:"total_amount" json:"total_amount"`
	AmountMinor       int64        `dynamodbav:"amount_minor" json:"amount_minor"`
	Currency          string       `dynamodbav:"currency" json:"currency"`
	Status            string       `dynamodbav:"status" json:"status"`
	ProviderOrderID   string       `dynamodbav:"provider_order_id,omitempty" json:"provider_order_id,omitempty"`
	ProviderPaymentID string       `dynamodbav:"provider_payment_id,omitempty" json:"provider_payment_id,omitempty"`
	ProviderSignature string       `dynamodbav:"provider_signature,omitempty" json:"-"`
	FailureReason     string       `dynamodbav:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	Attempts          int          `dynamodbav:"attempts,omitempty" json:"-"`
	CreatedAt         time.Time    `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt         time.Time    `dynamodbav:"updated_at" json:"updated_at"`
	PaidAt            *time.Time   `dynamodbav:"paid_at,omitempty" json:"paid_at,omitempty"`
}

// IsTerminal reports whether no further status transition is allowed.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case StatusPaid, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// LinesTotal is Σ PriceAtPurchase × Quantity.
func (o *Order) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.PriceAtPurchase.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// ProviderRef maps a provider order id to the local order. Its primary key
// makes provider_order_id unique across the ledger.
type ProviderRef struct {
	ProviderOrderID string    `dynamodbav:"provider_order_id"` // PK
	OrderID         string    `dynamodbav:"order_id"`
	CreatedAt       time.Time `dynamodbav:"created_at"`
}
