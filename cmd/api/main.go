package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-storefront-checkout/internal/address"
	"github.com/imrishuroy/go-storefront-checkout/internal/app"
	"github.com/imrishuroy/go-storefront-checkout/internal/auth"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/checkout"
	"github.com/imrishuroy/go-storefront-checkout/internal/config"
	"github.com/imrishuroy/go-storefront-checkout/internal/gateway"
	"github.com/imrishuroy/go-storefront-checkout/internal/handlers"
	"github.com/imrishuroy/go-storefront-checkout/internal/idempotency"
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
	if err := cfg.Validate(); err != nil {
		logger.Log.Fatal("invalid config", zap.Error(err))
	}

	deps, err := app.New(ctx, cfg, clients, logger.Log)
	if err != nil {
		logger.Log.Fatal("failed to init dependencies", zap.Error(err))
	}
	defer deps.Close()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	addresses := address.NewStore(clients.DynamoDB, cfg.AddressesTable)
	products := catalog.NewStore(clients.DynamoDB, cfg.ProductsTable)

	// product pages read through redis when configured; checkout always reads the table
	var browse handlers.Catalog = products
	if cfg.RedisURL != "" {
		cache, err := catalog.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			logger.Log.Warn("catalog cache disabled", zap.Error(err))
		} else {
			defer cache.Close()
			browse = catalog.NewCachedStore(products, cache, cfg.CatalogCacheTTL, logger.Log)
		}
	}

	r := handlers.NewRouter(handlers.RouterConfig{
		Auth:          auth.NewVerifier(cfg.JWTSecret).Middleware(),
		PaymentsLimit: handlers.PerMinute(cfg.VerifyRatePerMin).Middleware(),
		Orders: handlers.OrdersConfig{
			Checkout: checkout.NewService(checkout.Config{
				Ledger: deps.Ledger,
				Gateway: gateway.New(gateway.Config{
					BaseURL:   cfg.GatewayURL,
					KeyID:     cfg.KeyID,
					KeySecret: cfg.KeySecret,
					Timeout:   cfg.GatewayTimeout,
				}),
				Catalog:   products,
				Addresses: addresses,
				Metrics:   deps.Metrics,
				Logger:    logger.Log,
				Currency:  cfg.Currency,
			}),
			Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL),
		},
		Payments:       deps.Verifier(true),
		Catalog:        browse,
		Addresses:      addresses,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	// RUN_LOCAL=true serves plain HTTP for development.
	if cfg.RunLocal {
		addr := ":" + cfg.Port
		logger.Log.Info("running local server", zap.String("addr", addr))
		if err := r.Run(addr); err != nil {
			logger.Log.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
