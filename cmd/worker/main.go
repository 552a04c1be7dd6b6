package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/imrishuroy/go-storefront-checkout/internal/app"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/config"
	"github.com/imrishuroy/go-storefront-checkout/internal/logger"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := logger.Initialize(cfg.Env); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Log.Sync()

	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		logger.Log.Fatal("failed to init aws clients", zap.Error(err))
	}
	if err := cfg.ApplySecrets(ctx, aws.NewSecretsClient(clients.SecretsManager)); err != nil {
		logger.Log.Fatal("failed to load payment secret", zap.Error(err))
	}
	if err := cfg.ValidateWorker(); err != nil {
		logger.Log.Fatal("invalid config", zap.Error(err))
	}

	deps, err := app.New(ctx, cfg, clients, logger.Log)
	if err != nil {
		logger.Log.Fatal("failed to init dependencies", zap.Error(err))
	}
	defer deps.Close()

	p := NewProcessor(deps.Verifier(false), deps.Ledger, deps.Metrics, logger.Log)

	// RUN_LOCAL=true replays one message from LOCAL_SQS_BODY.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			logger.Log.Fatal("LOCAL_SQS_BODY is required when RUN_LOCAL=true")
		}
		resp, err := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}})
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Log.Fatal("local message failed", zap.Error(err), zap.Int("failures", len(resp.BatchItemFailures)))
		}
		return
	}

	lambda.Start(p.Handle)
}
