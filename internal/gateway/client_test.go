package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/imrishuroy/go-storefront-checkout/internal/errs"
)

func TestCreateProviderOrder_Success(t *testing.T) {
	var got OrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orders" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_test_key" || pass != "secret" {
			t.Errorf("bad basic auth %q %q", user, pass)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(ProviderOrder{ID: "order_P1", Amount: got.Amount, Currency: got.Currency, Receipt: got.Receipt, Status: "created"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", KeyID: "rzp_test_key", KeySecret: "secret"})
	po, err := c.CreateProviderOrder(context.Background(), OrderRequest{Amount: 99800, Currency: "INR", Receipt: "order-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if po.ID != "order_P1" || po.Amount != 99800 || po.Currency != "INR" {
		t.Fatalf("unexpected provider order: %+v", po)
	}
	if got.Receipt != "order-1" {
		t.Fatalf("receipt not sent: %+v", got)
	}
}

func TestCreateProviderOrder_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   errs.Kind
	}{
		{"bad request", http.StatusBadRequest, `{"error":{"code":"BAD_REQUEST_ERROR","description":"amount must be at least 100"}}`, errs.KindGatewayRejected},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"description":"Authentication failed"}}`, errs.KindGatewayRejected},
		{"server error", http.StatusBadGateway, `upstream`, errs.KindGatewayUnavailable},
		{"throttled", http.StatusTooManyRequests, ``, errs.KindGatewayUnavailable},
		{"echo mismatch", http.StatusOK, `{"id":"order_X","amount":100,"currency":"INR"}`, errs.KindGatewayRejected},
		{"missing id", http.StatusOK, `{"amount":99800,"currency":"INR"}`, errs.KindGatewayRejected},
		{"garbage", http.StatusOK, `not json`, errs.KindGatewayUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := New(Config{BaseURL: srv.URL})
			_, err := c.CreateProviderOrder(context.Background(), OrderRequest{Amount: 99800, Currency: "INR", Receipt: "r"})
			if errs.KindOf(err) != tc.kind {
				t.Fatalf("kind = %s, want %s (%v)", errs.KindOf(err), tc.kind, err)
			}
		})
	}
}

func TestCreateProviderOrder_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := c.CreateProviderOrder(context.Background(), OrderRequest{Amount: 100, Currency: "INR"})
	if !errors.Is(err, errs.ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable, got %v", err)
	}
}

func TestCreateProviderOrder_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(Config{BaseURL: url}).CreateProviderOrder(context.Background(), OrderRequest{Amount: 100, Currency: "INR"})
	if !errors.Is(err, errs.ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable, got %v", err)
	}
}
