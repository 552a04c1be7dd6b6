// Package payment confirms provider payments against the order ledger.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/errs"
	"github.com/imrishuroy/go-storefront-checkout/internal/gateway"
	"github.com/imrishuroy/go-storefront-checkout/internal/logger"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"go.uber.org/zap"
)

const maxFieldLen = 256

// Event types published after a ledger transition commits.
const (
	EventOrderPaid     = "order.paid"
	EventPaymentFailed = "payment.failed"
)

// Sources of a payment confirmation.
const (
	SourceCallback = "callback"
	SourceWebhook  = "webhook"
)

// Ledger is the part of the order ledger the verifier reads and transitions.
type Ledger interface {
	GetByProviderOrderID(ctx context.Context, providerOrderID string) (*orders.Order, error)
	MarkPaid(ctx context.Context, providerOrderID, paymentID, signature string) error
}

// Queue receives callbacks whose payment verified but could not be recorded.
type Queue interface {
	SendJSON(ctx context.Context, v any, attributes map[string]string) error
}

// Events fans out committed transitions. Delivery is best effort.
type Events interface {
	Publish(ctx context.Context, eventType string, v any) error
}

// Callback is the untrusted payload the client relays from the payment widget.
type Callback struct {
	ProviderOrderID   string `json:"provider_order_id"`
	ProviderPaymentID string `json:"provider_payment_id"`
	ProviderSignature string `json:"provider_signature"`
}

func (cb Callback) validate() error {
	fields := []struct{ name, v string }{
		{"provider_order_id", cb.ProviderOrderID},
		{"provider_payment_id", cb.ProviderPaymentID},
		{"provider_signature", cb.ProviderSignature},
	}
	for _, f := range fields {
		if f.v == "" {
			return errs.E(errs.KindInvalidCallback, f.name+" is required", nil)
		}
		if len(f.v) > maxFieldLen {
			return errs.E(errs.KindInvalidCallback, f.name+" is too long", nil)
		}
	}
	return nil
}

// Result is the outcome of a successful verification.
type Result struct {
	OrderID         string `json:"order_id"`
	ProviderOrderID string `json:"provider_order_id"`
	Status          string `json:"status"`
	AlreadyPaid     bool   `json:"already_paid"`
}

// ReconcileMessage is enqueued when a verified payment could not be committed.
type ReconcileMessage struct {
	OrderID           string    `json:"order_id,omitempty"`
	ProviderOrderID   string    `json:"provider_order_id"`
	ProviderPaymentID string    `json:"provider_payment_id"`
	ProviderSignature string    `json:"provider_signature"`
	Source            string    `json:"source"`
	CorrelationID     string    `json:"correlation_id,omitempty"`
	Reason            string    `json:"reason"`
	EnqueuedAt        time.Time `json:"enqueued_at"`
}

// OrderEvent is the payload published on Events.
type OrderEvent struct {
	OrderID           string    `json:"order_id"`
	UserID            string    `json:"user_id,omitempty"`
	ProviderOrderID   string    `json:"provider_order_id"`
	ProviderPaymentID string    `json:"provider_payment_id,omitempty"`
	AmountMinor       int64     `json:"amount_minor"`
	Currency          string    `json:"currency"`
	Status            string    `json:"status"`
	Reason            string    `json:"reason,omitempty"`
	At                time.Time `json:"at"`
}

type Config struct {
	Secret        string
	WebhookSecret string // empty disables webhooks
	Ledger        Ledger
	Queue         Queue  // optional
	Events        Events // optional
	Metrics       *aws.MetricsClient
	Logger        *zap.Logger
}

// Verifier checks callback signatures and commits created → paid. It holds no
// mutable state and is safe for concurrent use.
type Verifier struct {
	secret        string
	webhookSecret string
	ledger        Ledger
	queue         Queue
	events        Events
	metrics       *aws.MetricsClient
	log           *zap.Logger
	nowFunc       func() time.Time
}

func NewVerifier(cfg Config) *Verifier {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{
		secret:        cfg.Secret,
		webhookSecret: cfg.WebhookSecret,
		ledger:        cfg.Ledger,
		queue:         cfg.Queue,
		events:        cfg.Events,
		metrics:       cfg.Metrics,
		log:           log,
		nowFunc:       time.Now,
	}
}

// Verify authenticates cb and moves the matching order to paid. Repeating a
// successful callback returns AlreadyPaid without writing.
func (v *Verifier) Verify(ctx context.Context, cb Callback) (Result, error) {
	if err := v.authenticate(ctx, cb); err != nil {
		return Result{}, err
	}
	return v.confirm(ctx, cb, SourceCallback)
}

// VerifyOrder is Verify against an order the caller already holds. The
// callback must name that order's provider order.
func (v *Verifier) VerifyOrder(ctx context.Context, cb Callback, expected orders.Order) (Result, error) {
	if err := v.authenticate(ctx, cb); err != nil {
		return Result{}, err
	}
	if expected.ProviderOrderID == "" || expected.ProviderOrderID != cb.ProviderOrderID {
		return Result{}, v.unknownOrder(ctx, cb)
	}
	return v.settle(ctx, cb, &expected, SourceCallback)
}

func (v *Verifier) authenticate(ctx context.Context, cb Callback) error {
	if err := cb.validate(); err != nil {
		return err
	}
	if !gateway.VerifySignature(v.secret, cb.ProviderOrderID, cb.ProviderPaymentID, cb.ProviderSignature) {
		v.log.Error("payment signature mismatch",
			zap.String("request_id", logger.RequestID(ctx)),
			zap.String("provider_order_id", cb.ProviderOrderID),
			zap.String("provider_payment_id", cb.ProviderPaymentID))
		_ = v.metrics.RecordCount(ctx, aws.MetricSignatureMismatch, nil)
		return errs.E(errs.KindSignatureMismatch, "signature does not match", nil)
	}
	return nil
}

// confirm loads the order for an already authenticated cb and settles it.
func (v *Verifier) confirm(ctx context.Context, cb Callback, source string) (Result, error) {
	o, err := v.ledger.GetByProviderOrderID(ctx, cb.ProviderOrderID)
	if err != nil {
		return Result{}, v.commitFailed(ctx, cb, "", source, fmt.Errorf("load order: %w", err))
	}
	if o == nil {
		return Result{}, v.unknownOrder(ctx, cb)
	}
	return v.settle(ctx, cb, o, source)
}

// settle commits an authenticated confirmation against o, a snapshot of the
// order that may be stale.
func (v *Verifier) settle(ctx context.Context, cb Callback, o *orders.Order, source string) (Result, error) {
	switch o.Status {
	case orders.StatusPaid:
		return v.alreadyPaid(ctx, cb, o), nil
	case orders.StatusCreated:
	default:
		return Result{}, finalized(o)
	}

	err := v.ledger.MarkPaid(ctx, cb.ProviderOrderID, cb.ProviderPaymentID, cb.ProviderSignature)
	switch {
	case err == nil:
		v.paid(ctx, cb, o, source)
		return Result{OrderID: o.OrderID, ProviderOrderID: cb.ProviderOrderID, Status: orders.StatusPaid}, nil
	case errors.Is(err, orders.ErrStatusMismatch):
		// lost the race or the snapshot was stale
		cur, rerr := v.ledger.GetByProviderOrderID(ctx, cb.ProviderOrderID)
		if rerr != nil {
			return Result{}, v.commitFailed(ctx, cb, o.OrderID, source, fmt.Errorf("re-read order: %w", rerr))
		}
		if cur == nil {
			return Result{}, v.unknownOrder(ctx, cb)
		}
		if cur.Status == orders.StatusPaid {
			return v.alreadyPaid(ctx, cb, cur), nil
		}
		return Result{}, finalized(cur)
	case errors.Is(err, orders.ErrNotFound):
		return Result{}, v.unknownOrder(ctx, cb)
	default:
		return Result{}, v.commitFailed(ctx, cb, o.OrderID, source, err)
	}
}

func (v *Verifier) paid(ctx context.Context, cb Callback, o *orders.Order, source string) {
	v.log.Info("order paid",
		zap.String("request_id", logger.RequestID(ctx)),
		zap.String("source", source),
		zap.String("order_id", o.OrderID),
		zap.String("provider_order_id", cb.ProviderOrderID),
		zap.String("provider_payment_id", cb.ProviderPaymentID))
	_ = v.metrics.RecordCount(ctx, aws.MetricOrdersPaid, map[string]string{"Source": source})
	v.publish(ctx, EventOrderPaid, OrderEvent{
		OrderID:           o.OrderID,
		UserID:            o.UserID,
		ProviderOrderID:   cb.ProviderOrderID,
		ProviderPaymentID: cb.ProviderPaymentID,
		AmountMinor:       o.AmountMinor,
		Currency:          o.Currency,
		Status:            orders.StatusPaid,
		At:                v.nowFunc().UTC(),
	})
}

func (v *Verifier) alreadyPaid(ctx context.Context, cb Callback, o *orders.Order) Result {
	fields := []zap.Field{
		zap.String("request_id", logger.RequestID(ctx)),
		zap.String("order_id", o.OrderID),
		zap.String("provider_payment_id", cb.ProviderPaymentID),
	}
	if o.ProviderPaymentID != "" && o.ProviderPaymentID != cb.ProviderPaymentID {
		v.log.Warn("paid order received a second payment", append(fields, zap.String("recorded_payment_id", o.ProviderPaymentID))...)
	} else {
		v.log.Info("duplicate payment callback", fields...)
	}
	_ = v.metrics.RecordCount(ctx, aws.MetricDuplicateCallback, nil)
	return Result{OrderID: o.OrderID, ProviderOrderID: cb.ProviderOrderID, Status: orders.StatusPaid, AlreadyPaid: true}
}

func (v *Verifier) unknownOrder(ctx context.Context, cb Callback) error {
	v.log.Warn("callback for unknown provider order",
		zap.String("request_id", logger.RequestID(ctx)),
		zap.String("provider_order_id", cb.ProviderOrderID))
	_ = v.metrics.RecordCount(ctx, aws.MetricUnknownOrder, nil)
	return errs.E(errs.KindUnknownOrder, "no order for "+cb.ProviderOrderID, nil)
}

// commitFailed reports a verified payment the ledger did not record and hands
// it to the reconciliation queue.
func (v *Verifier) commitFailed(ctx context.Context, cb Callback, orderID, source string, cause error) error {
	v.log.Error("verified payment not recorded",
		zap.String("request_id", logger.RequestID(ctx)),
		zap.String("order_id", orderID),
		zap.String("provider_order_id", cb.ProviderOrderID),
		zap.String("provider_payment_id", cb.ProviderPaymentID),
		zap.Error(cause))
	_ = v.metrics.RecordCount(ctx, aws.MetricLedgerCommitFailed, nil)

	if v.queue != nil {
		msg := ReconcileMessage{
			OrderID:           orderID,
			ProviderOrderID:   cb.ProviderOrderID,
			ProviderPaymentID: cb.ProviderPaymentID,
			ProviderSignature: cb.ProviderSignature,
			Source:            source,
			CorrelationID:     logger.RequestID(ctx),
			Reason:            cause.Error(),
			EnqueuedAt:        v.nowFunc().UTC(),
		}
		attrs := map[string]string{"provider_order_id": cb.ProviderOrderID, "correlation_id": msg.CorrelationID}
		if err := v.queue.SendJSON(ctx, msg, attrs); err != nil {
			v.log.Error("failed to enqueue reconciliation",
				zap.String("provider_order_id", cb.ProviderOrderID),
				zap.Error(err))
		}
	}
	return errs.E(errs.KindLedgerCommit, "payment verified but not recorded", cause)
}

func (v *Verifier) publish(ctx context.Context, eventType string, ev OrderEvent) {
	if v.events == nil {
		return
	}
	if err := v.events.Publish(ctx, eventType, ev); err != nil {
		v.log.Warn("failed to publish order event",
			zap.String("event_type", eventType),
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
	}
}

func finalized(o *orders.Order) error {
	return errs.E(errs.KindOrderAlreadyFinalized, fmt.Sprintf("order %s is %s", o.OrderID, o.Status), nil)
}
