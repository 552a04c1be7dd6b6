// Package checkout turns a cart into a ledger order and a provider order.
package checkout

import (
	"fmt"
	"regexp"

	"github.com/imrishuroy/go-storefront-checkout/internal/address"
	"github.com/imrishuroy/go-storefront-checkout/internal/cart"
	"github.com/imrishuroy/go-storefront-checkout/internal/errs"
	"github.com/imrishuroy/go-storefront-checkout/internal/money"
	"github.com/shopspring/decimal"
)

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// Intent is the payment amount derived from a cart. It is not modified after
// Build returns it.
type Intent struct {
	Amount   int64 // minor units
	Currency string
	Total    decimal.Decimal
	Lines    []cart.Line
}

// Build computes the intent for lines delivered to addr. The amount is the
// decimal sum of unit price × quantity, scaled to minor units and rounded once.
func Build(lines []cart.Line, addr *address.Address, currency string) (Intent, error) {
	if len(lines) == 0 {
		return Intent{}, errs.E(errs.KindInvalidCart, "cart is empty", nil)
	}
	if addr == nil || addr.AddressID == "" {
		return Intent{}, errs.E(errs.KindInvalidCart, "delivery address is required", nil)
	}
	if !currencyCode.MatchString(currency) {
		return Intent{}, errs.E(errs.KindInvalidCart, fmt.Sprintf("unsupported currency %q", currency), nil)
	}

	total := decimal.Zero
	for i, l := range lines {
		if l.ProductID == "" {
			return Intent{}, errs.E(errs.KindInvalidCart, fmt.Sprintf("line %d has no product", i), nil)
		}
		if !l.UnitPrice.IsPositive() {
			return Intent{}, errs.E(errs.KindInvalidCart, fmt.Sprintf("line %d (%s) has non-positive price", i, l.ProductID), nil)
		}
		if l.Quantity < 1 {
			return Intent{}, errs.E(errs.KindInvalidCart, fmt.Sprintf("line %d (%s) has quantity %d", i, l.ProductID, l.Quantity), nil)
		}
		total = total.Add(l.Subtotal())
	}
	if !total.IsPositive() {
		return Intent{}, errs.E(errs.KindInvalidCart, "cart total must be positive", nil)
	}

	amount, err := money.ToMinor(total)
	if err != nil {
		return Intent{}, errs.E(errs.KindInvalidCart, "cart total out of range", err)
	}
	if amount <= 0 {
		return Intent{}, errs.E(errs.KindInvalidCart, "cart total rounds to zero", nil)
	}

	frozen := make([]cart.Line, len(lines))
	copy(frozen, lines)
	return Intent{Amount: amount, Currency: currency, Total: total, Lines: frozen}, nil
}
