package validation

import (
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// New returns a configured validator with the custom tags and struct-level
// validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// decimal_gt0: a decimal string greater than zero with at most two places.
	_ = v.RegisterValidation("decimal_gt0", func(fl validatorv10.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.IsPositive() && d.Exponent() >= -2
	})

	// when the client sends the total it displayed, it must match the lines
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// createOrderStructValidation verifies the aggregated total of items equals Amount.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)
	if req.Amount == "" {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return // reported by decimal_gt0
	}

	sum := decimal.Zero
	for _, it := range req.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return
		}
		sum = sum.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if !sum.Equal(amount) {
		sl.ReportError(req.Amount, "amount", "Amount", "amount_match_items", fmt.Sprintf("items sum %s != amount %s", sum.StringFixed(2), amount.StringFixed(2)))
	}
}
