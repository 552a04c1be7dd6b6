// Package gateway is the client for the payment provider's order API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/imrishuroy/go-storefront-checkout/internal/errs"
)

const (
	DefaultBaseURL = "https://api.razorpay.com"
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
	HTTP      *http.Client
}

// OrderRequest is the provider's create-order payload. Amount is in minor units.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// ProviderOrder is the provider-side order echoed back on creation.
type ProviderOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type providerError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
}

func New(cfg Config) *Client {
	hc := cfg.HTTP
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{baseURL: base, keyID: cfg.KeyID, keySecret: cfg.KeySecret, http: hc}
}

// KeyID is the public key the payment widget is opened with.
func (c *Client) KeyID() string { return c.keyID }

// CreateProviderOrder issues exactly one create-order call. It is not
// idempotent at the provider: calling it twice creates two provider orders.
//
// Transport failures, timeouts, 429 and 5xx map to errs.KindGatewayUnavailable.
// Other non-2xx responses and an echo that disagrees with req map to
// errs.KindGatewayRejected.
func (c *Client) CreateProviderOrder(ctx context.Context, req OrderRequest) (ProviderOrder, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ProviderOrder{}, fmt.Errorf("marshal order request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return ProviderOrder{}, fmt.Errorf("build order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ProviderOrder{}, errs.E(errs.KindGatewayUnavailable, "create provider order", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ProviderOrder{}, errs.E(errs.KindGatewayUnavailable, "read provider response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return ProviderOrder{}, errs.E(errs.KindGatewayUnavailable,
			fmt.Sprintf("provider returned %d", resp.StatusCode), errors.New(describe(raw)))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return ProviderOrder{}, errs.E(errs.KindGatewayRejected,
			fmt.Sprintf("provider returned %d", resp.StatusCode), errors.New(describe(raw)))
	}

	var po ProviderOrder
	if err := json.Unmarshal(raw, &po); err != nil {
		return ProviderOrder{}, errs.E(errs.KindGatewayUnavailable, "decode provider order", err)
	}
	if po.ID == "" {
		return ProviderOrder{}, errs.E(errs.KindGatewayRejected, "provider order without id", nil)
	}
	if po.Amount != req.Amount || !strings.EqualFold(po.Currency, req.Currency) {
		return ProviderOrder{}, errs.E(errs.KindGatewayRejected,
			fmt.Sprintf("provider echoed %d %s for %d %s", po.Amount, po.Currency, req.Amount, req.Currency), nil)
	}
	return po, nil
}

func describe(raw []byte) string {
	var pe providerError
	if err := json.Unmarshal(raw, &pe); err == nil && pe.Error.Description != "" {
		if pe.Error.Code != "" {
			return pe.Error.Code + ": " + pe.Error.Description
		}
		return pe.Error.Description
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "empty response"
	}
	return s
}
