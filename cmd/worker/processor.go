package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-lambda-go/events"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/errs"
	"github.com/imrishuroy/go-storefront-checkout/internal/logger"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/payment"
	"go.uber.org/zap"
)

// Reconciler is implemented by *payment.Verifier.
type Reconciler interface {
	Reconcile(ctx context.Context, msg payment.ReconcileMessage) (payment.Result, error)
}

// AttemptCounter is the ledger counter bumped once per delivery.
type AttemptCounter interface {
	IncrementAttempts(ctx context.Context, orderID string) error
}

// Processor drains the reconcile queue. Each message is a verified payment
// whose ledger commit failed in the API.
type Processor struct {
	reconciler Reconciler
	attempts   AttemptCounter
	metrics    *aws.MetricsClient
	log        *zap.Logger
}

func NewProcessor(r Reconciler, attempts AttemptCounter, metrics *aws.MetricsClient, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{reconciler: r, attempts: attempts, metrics: metrics, log: log}
}

// Handle processes a batch and reports the messages SQS should redeliver.
// Messages that can never succeed are logged and acknowledged.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	if n := len(resp.BatchItemFailures); n > 0 {
		p.log.Warn("reconcile batch had retryable failures", zap.Int("failed", n), zap.Int("total", len(ev.Records)))
	}
	return resp, nil
}

// processMessage returns an error only when a redelivery may succeed.
func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg payment.ReconcileMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		p.log.Error("dropping malformed reconcile message", zap.String("message_id", rec.MessageId), zap.Error(err))
		return nil
	}
	if msg.CorrelationID != "" {
		ctx = logger.WithRequestID(ctx, msg.CorrelationID)
	}
	log := p.log.With(
		zap.String("message_id", rec.MessageId),
		zap.String("order_id", msg.OrderID),
		zap.String("provider_order_id", msg.ProviderOrderID),
		zap.String("source", msg.Source),
		zap.String("correlation_id", msg.CorrelationID),
	)

	if msg.OrderID != "" && p.attempts != nil {
		if err := p.attempts.IncrementAttempts(ctx, msg.OrderID); err != nil && !errors.Is(err, orders.ErrNotFound) {
			log.Warn("failed to count reconcile attempt", zap.Error(err))
		}
	}

	res, err := p.reconciler.Reconcile(ctx, msg)
	switch {
	case err == nil:
		_ = p.metrics.RecordCount(ctx, aws.MetricReconciled, map[string]string{"Source": msg.Source})
		log.Info("payment reconciled", zap.String("status", res.Status), zap.Bool("already_paid", res.AlreadyPaid))
		return nil
	case payment.Retryable(err):
		log.Warn("reconcile failed, will retry", zap.Error(err))
		return err
	default:
		// a forged or stale message, or an order that moved on
		log.Error("reconcile rejected", zap.String("kind", string(errs.KindOf(err))), zap.Error(err))
		return nil
	}
}
