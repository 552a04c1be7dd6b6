package payment

import (
	"context"
	"encoding/json"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/errs"
	"github.com/imrishuroy/go-storefront-checkout/internal/gateway"
	"github.com/imrishuroy/go-storefront-checkout/internal/logger"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"go.uber.org/zap"
)

// Webhook event names the provider sends.
const (
	WebhookPaymentCaptured = "payment.captured"
	WebhookOrderPaid       = "order.paid"
	WebhookPaymentFailed   = "payment.failed"
)

type webhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string `json:"id"`
				OrderID          string `json:"order_id"`
				Status           string `json:"status"`
				Amount           int64  `json:"amount"`
				Currency         string `json:"currency"`
				ErrorCode        string `json:"error_code"`
				ErrorDescription string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// WebhookResult reports what a webhook delivery did.
type WebhookResult struct {
	Event   string `json:"event"`
	Handled bool   `json:"handled"`
	Result
}

// WebhooksEnabled reports whether a webhook secret is configured.
func (v *Verifier) WebhooksEnabled() bool { return v.webhookSecret != "" }

// HandleWebhook authenticates a provider webhook over its raw body and applies
// it. Captured payments take the same created → paid transition as callbacks.
// Failed payments are reported but leave the order created, since the buyer
// may still complete a later attempt against the same provider order.
func (v *Verifier) HandleWebhook(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	if !v.WebhooksEnabled() {
		return WebhookResult{}, errs.E(errs.KindNotFound, "webhooks are not enabled", nil)
	}
	if signature == "" || !gateway.VerifyWebhook(v.webhookSecret, body, signature) {
		v.log.Error("webhook signature mismatch", zap.String("request_id", logger.RequestID(ctx)))
		_ = v.metrics.RecordCount(ctx, aws.MetricSignatureMismatch, map[string]string{"Source": SourceWebhook})
		return WebhookResult{}, errs.E(errs.KindSignatureMismatch, "webhook signature does not match", nil)
	}

	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return WebhookResult{}, errs.E(errs.KindInvalidCallback, "malformed webhook body", err)
	}
	pay := p.Payload.Payment.Entity
	providerOrderID := pay.OrderID
	if providerOrderID == "" {
		providerOrderID = p.Payload.Order.Entity.ID
	}

	switch p.Event {
	case WebhookPaymentCaptured, WebhookOrderPaid:
		cb := Callback{ProviderOrderID: providerOrderID, ProviderPaymentID: pay.ID, ProviderSignature: signature}
		if err := cb.validate(); err != nil {
			return WebhookResult{}, err
		}
		res, err := v.confirm(ctx, cb, SourceWebhook)
		if err != nil {
			return WebhookResult{}, err
		}
		return WebhookResult{Event: p.Event, Handled: true, Result: res}, nil

	case WebhookPaymentFailed:
		reason := pay.ErrorCode
		if pay.ErrorDescription != "" {
			reason += ": " + pay.ErrorDescription
		}
		v.log.Warn("payment attempt failed",
			zap.String("request_id", logger.RequestID(ctx)),
			zap.String("provider_order_id", providerOrderID),
			zap.String("provider_payment_id", pay.ID),
			zap.String("reason", reason))
		_ = v.metrics.RecordCount(ctx, aws.MetricOrdersFailed, nil)

		o, err := v.ledger.GetByProviderOrderID(ctx, providerOrderID)
		if err != nil {
			return WebhookResult{}, errs.E(errs.KindInternal, "load order", err)
		}
		if o == nil {
			return WebhookResult{}, v.unknownOrder(ctx, Callback{ProviderOrderID: providerOrderID})
		}
		v.publish(ctx, EventPaymentFailed, OrderEvent{
			OrderID:           o.OrderID,
			UserID:            o.UserID,
			ProviderOrderID:   providerOrderID,
			ProviderPaymentID: pay.ID,
			AmountMinor:       o.AmountMinor,
			Currency:          o.Currency,
			Status:            o.Status,
			Reason:            reason,
			At:                v.nowFunc().UTC(),
		})
		return WebhookResult{Event: p.Event, Handled: true, Result: Result{
			OrderID:         o.OrderID,
			ProviderOrderID: providerOrderID,
			Status:          o.Status,
			AlreadyPaid:     o.Status == orders.StatusPaid,
		}}, nil
	}

	v.log.Info("ignoring webhook event", zap.String("event", p.Event))
	return WebhookResult{Event: p.Event}, nil
}
