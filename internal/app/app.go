// Package app builds the components shared by the API and the reconcile worker.
package app

import (
	"context"
	"fmt"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/checkout"
	"github.com/imrishuroy/go-storefront-checkout/internal/config"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/payment"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Ledger is the full order ledger surface. *orders.Store and
// *orders.PostgresStore both satisfy it.
type Ledger interface {
	checkout.Ledger
	payment.Ledger
	IncrementAttempts(ctx context.Context, orderID string) error
}

// Deps holds the wired components for one process.
type Deps struct {
	Config  *config.Config
	Clients *aws.AWSClients
	Log     *zap.Logger
	Metrics *aws.MetricsClient
	Ledger  Ledger

	closers []func()
}

// Close releases connections opened by New.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// New opens the configured ledger. cfg must already carry its secrets.
func New(ctx context.Context, cfg *config.Config, clients *aws.AWSClients, log *zap.Logger) (*Deps, error) {
	d := &Deps{
		Config:  cfg,
		Clients: clients,
		Log:     log,
		Metrics: aws.NewMetricsClient(clients.CloudWatch, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled),
	}

	switch cfg.LedgerDriver {
	case config.LedgerPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect ledger database: %w", err)
		}
		d.closers = append(d.closers, pool.Close)
		store := orders.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			d.Close()
			return nil, err
		}
		d.Ledger = store
	default:
		d.Ledger = orders.NewStore(clients.DynamoDB, cfg.OrdersTable, cfg.ProviderRefsTable)
	}

	log.Info("dependencies ready",
		zap.String("env", cfg.Env),
		zap.String("ledger", cfg.LedgerDriver),
		zap.Bool("cloudwatch", cfg.CloudWatchEnabled),
		zap.Bool("webhooks", cfg.WebhookSecret != ""))
	return d, nil
}

// Verifier builds the payment verifier. Queue and events are attached only
// when configured. withQueue is false for the worker, which must not
// re-enqueue what it is draining.
func (d *Deps) Verifier(withQueue bool) *payment.Verifier {
	pc := payment.Config{
		Secret:        d.Config.KeySecret,
		WebhookSecret: d.Config.WebhookSecret,
		Ledger:        d.Ledger,
		Metrics:       d.Metrics,
		Logger:        d.Log,
	}
	if withQueue && d.Config.ReconcileQueueURL != "" {
		pc.Queue = aws.NewPublisher(d.Clients.SQS, d.Config.ReconcileQueueURL)
	}
	if d.Config.PaymentEventsTopicARN != "" {
		pc.Events = aws.NewNotifier(d.Clients.SNS, d.Config.PaymentEventsTopicARN)
	}
	return payment.NewVerifier(pc)
}
