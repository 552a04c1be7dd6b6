package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/imrishuroy/go-storefront-checkout/internal/address"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws/awstest"
	"github.com/imrishuroy/go-storefront-checkout/internal/cart"
	"github.com/imrishuroy/go-storefront-checkout/internal/checkout"
	"github.com/imrishuroy/go-storefront-checkout/internal/gateway"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/payment"
	"github.com/shopspring/decimal"
)

// TestCheckoutToPaid drives a cart through checkout, a provider stub and a
// signed callback.
func TestCheckoutToPaid(t *testing.T) {
	const secret = "rzp_secret"
	ctx := context.Background()

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gateway.OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(gateway.ProviderOrder{
			ID: "order_E2E", Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt, Status: "created",
		})
	}))
	defer provider.Close()

	db := awstest.NewDynamo().
		CreateTable("orders", "order_id").
		CreateTable("provider_refs", "provider_order_id").
		CreateTable("addresses", "address_id")
	ledger := orders.NewStore(db, "orders", "provider_refs")
	addrs := address.NewStore(db, "addresses")
	home := &address.Address{UserID: "user-1", AddressLine: "12 MG Road", City: "Bengaluru", Country: "IN"}
	if err := addrs.Add(ctx, home); err != nil {
		t.Fatal(err)
	}

	c := cart.New()
	if err := c.Add(cart.Line{ProductID: "p1", Name: "Kurta", UnitPrice: decimal.RequireFromString("499.00"), Quantity: 2}); err != nil {
		t.Fatal(err)
	}

	svc := checkout.NewService(checkout.Config{
		Ledger:    ledger,
		Gateway:   gateway.New(gateway.Config{BaseURL: provider.URL, KeyID: "rzp_test_key", KeySecret: secret}),
		Addresses: addrs,
		Currency:  "INR",
	})
	placed, err := svc.CreateOrder(ctx, checkout.Request{UserID: "user-1", AddressID: home.AddressID, Cart: c})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if placed.Amount != 99800 || placed.Currency != "INR" || placed.ProviderOrderID != "order_E2E" {
		t.Fatalf("unexpected placement: %+v", placed)
	}

	v := payment.NewVerifier(payment.Config{Secret: secret, Ledger: ledger})
	res, err := v.Verify(ctx, payment.Callback{
		ProviderOrderID:   placed.ProviderOrderID,
		ProviderPaymentID: "pay_E2E",
		ProviderSignature: gateway.Sign(secret, placed.ProviderOrderID, "pay_E2E"),
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.OrderID != placed.OrderID || res.Status != orders.StatusPaid {
		t.Fatalf("unexpected verification: %+v", res)
	}

	o, err := ledger.Get(ctx, placed.OrderID)
	if err != nil || o == nil {
		t.Fatalf("get: %v %v", o, err)
	}
	if o.Status != orders.StatusPaid || o.TotalAmount.StringFixed(2) != "998.00" || o.AmountMinor != 99800 {
		t.Fatalf("unexpected order: %+v", o)
	}
}
