package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/imrishuroy/go-storefront-checkout/internal/errs"
	"github.com/imrishuroy/go-storefront-checkout/internal/gateway"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
)

func webhookBody(event, providerOrderID, paymentID string) []byte {
	return []byte(fmt.Sprintf(`{"entity":"event","event":%q,"payload":{"payment":{"entity":{"id":%q,"order_id":%q,"status":"captured","amount":99800,"currency":"INR","error_code":"BAD_REQUEST_ERROR","error_description":"Payment was declined"}}}}`,
		event, paymentID, providerOrderID))
}

func TestHandleWebhook_Captured(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "o1", "order_P1")
	ctx := context.Background()
	body := webhookBody(WebhookPaymentCaptured, "order_P1", "pay_1")
	sig := gateway.SignWebhook(testWebhookSecret, body)

	res, err := f.v.HandleWebhook(ctx, body, sig)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if !res.Handled || res.OrderID != "o1" || res.Status != orders.StatusPaid || res.AlreadyPaid {
		t.Fatalf("unexpected result: %+v", res)
	}

	// the relayed client callback arriving later is the idempotent path
	again, err := f.v.Verify(ctx, signed("order_P1", "pay_1"))
	if err != nil || !again.AlreadyPaid {
		t.Fatalf("expected idempotent callback after webhook, got %+v %v", again, err)
	}
}

func TestHandleWebhook_Rejects(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "o1", "order_P1")
	ctx := context.Background()
	body := webhookBody(WebhookPaymentCaptured, "order_P1", "pay_1")

	if _, err := f.v.HandleWebhook(ctx, body, gateway.SignWebhook("wrong", body)); !errors.Is(err, errs.ErrSignatureMismatch) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
	if _, err := f.v.HandleWebhook(ctx, body, ""); !errors.Is(err, errs.ErrSignatureMismatch) {
		t.Fatalf("expected signature mismatch for a missing header, got %v", err)
	}
	if f.status(t, "o1") != orders.StatusCreated {
		t.Fatal("rejected webhooks must not change the order")
	}

	bad := []byte(`{not json`)
	if _, err := f.v.HandleWebhook(ctx, bad, gateway.SignWebhook(testWebhookSecret, bad)); !errors.Is(err, errs.ErrInvalidCallback) {
		t.Fatalf("expected invalid callback, got %v", err)
	}

	orphan := webhookBody(WebhookOrderPaid, "order_GHOST", "pay_9")
	if _, err := f.v.HandleWebhook(ctx, orphan, gateway.SignWebhook(testWebhookSecret, orphan)); !errors.Is(err, errs.ErrUnknownOrder) {
		t.Fatalf("expected unknown order, got %v", err)
	}

	disabled := NewVerifier(Config{Secret: testSecret, Ledger: f.ledger})
	if _, err := disabled.HandleWebhook(ctx, body, gateway.SignWebhook("", body)); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found when webhooks are disabled, got %v", err)
	}
}

func TestHandleWebhook_PaymentFailedKeepsOrderOpen(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "o1", "order_P1")
	ctx := context.Background()

	failed := webhookBody(WebhookPaymentFailed, "order_P1", "pay_1")
	res, err := f.v.HandleWebhook(ctx, failed, gateway.SignWebhook(testWebhookSecret, failed))
	if err != nil || !res.Handled || res.Status != orders.StatusCreated {
		t.Fatalf("unexpected result: %+v %v", res, err)
	}
	if f.events.count(EventPaymentFailed) != 1 {
		t.Fatal("expected a payment.failed event")
	}

	// a second attempt against the same provider order can still succeed
	if _, err := f.v.Verify(ctx, signed("order_P1", "pay_2")); err != nil {
		t.Fatalf("retry after failed attempt: %v", err)
	}
	if f.status(t, "o1") != orders.StatusPaid {
		t.Fatal("expected paid")
	}
}

func TestHandleWebhook_IgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"event":"refund.created","payload":{}}`)
	res, err := f.v.HandleWebhook(context.Background(), body, gateway.SignWebhook(testWebhookSecret, body))
	if err != nil || res.Handled || res.Event != "refund.created" {
		t.Fatalf("unexpected result: %+v %v", res, err)
	}
}

func TestReconcile_WebhookSource(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "o1", "order_P1")

	res, err := f.v.Reconcile(context.Background(), ReconcileMessage{
		ProviderOrderID:   "order_P1",
		ProviderPaymentID: "pay_1",
		ProviderSignature: "webhook-signature",
		Source:            SourceWebhook,
	})
	if err != nil || res.Status != orders.StatusPaid {
		t.Fatalf("reconcile: %+v %v", res, err)
	}
}
