package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	LedgerDynamoDB = "dynamodb"
	LedgerPostgres = "postgres"
)

// Config holds the loaded configuration
type Config struct {
	Env      string
	Port     string
	RunLocal bool

	OrdersTable       string
	ProviderRefsTable string
	IdempotencyTable  string
	ProductsTable     string
	AddressesTable    string

	LedgerDriver string
	DatabaseURL  string

	ReconcileQueueURL     string
	PaymentEventsTopicARN string

	GatewayURL        string
	KeyID             string
	KeySecret         string
	WebhookSecret     string
	PaymentSecretName string
	Currency          string
	GatewayTimeout    time.Duration

	JWTSecret string

	CloudWatchEnabled   bool
	CloudWatchNamespace string

	IdempotencyTTL   time.Duration
	VerifyRatePerMin int

	RedisURL        string // optional catalog read cache
	CatalogCacheTTL time.Duration
	AllowedOrigins  []string
}

// SecretFetcher reads a secret string by name.
type SecretFetcher interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

type paymentSecret struct {
	KeyID         string `json:"key_id"`
	KeySecret     string `json:"key_secret"`
	WebhookSecret string `json:"webhook_secret"`
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnv("PORT", "8080"),
		RunLocal: getBool("RUN_LOCAL", false),

		OrdersTable:       getEnv("ORDERS_TABLE", "orders"),
		ProviderRefsTable: getEnv("PROVIDER_REFS_TABLE", "provider_refs"),
		IdempotencyTable:  getEnv("IDEMPOTENCY_TABLE", "idempotency"),
		ProductsTable:     getEnv("PRODUCTS_TABLE", "products"),
		AddressesTable:    getEnv("ADDRESSES_TABLE", "addresses"),

		LedgerDriver: strings.ToLower(getEnv("LEDGER_DRIVER", LedgerDynamoDB)),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		ReconcileQueueURL:     getEnv("RECONCILE_QUEUE_URL", ""),
		PaymentEventsTopicARN: getEnv("PAYMENT_EVENTS_TOPIC_ARN", ""),

		GatewayURL:        getEnv("PAYMENT_GATEWAY_URL", "https://api.razorpay.com"),
		KeyID:             getEnv("PAYMENT_KEY_ID", ""),
		KeySecret:         getEnv("PAYMENT_KEY_SECRET", ""),
		WebhookSecret:     getEnv("PAYMENT_WEBHOOK_SECRET", ""),
		PaymentSecretName: getEnv("PAYMENT_SECRET_NAME", ""),
		Currency:          strings.ToUpper(getEnv("CURRENCY", "INR")),

		JWTSecret: getEnv("AUTH_JWT_SECRET", ""),

		CloudWatchEnabled:   getBool("CLOUDWATCH_ENABLED", false),
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "StorefrontCheckout"),

		RedisURL:       getEnv("REDIS_URL", ""),
		AllowedOrigins: getList("CORS_ALLOWED_ORIGINS"),
	}

	var err error
	if cfg.GatewayTimeout, err = getDuration("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 48*time.Hour); err != nil {
		return nil, err
	}
	if cfg.VerifyRatePerMin, err = getInt("VERIFY_RATE_PER_MIN", 30); err != nil {
		return nil, err
	}
	if cfg.CatalogCacheTTL, err = getDuration("CATALOG_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	switch cfg.LedgerDriver {
	case LedgerDynamoDB:
	case LedgerPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when LEDGER_DRIVER=%s", LedgerPostgres)
		}
	default:
		return nil, fmt.Errorf("unknown LEDGER_DRIVER %q", cfg.LedgerDriver)
	}
	return cfg, nil
}

// ApplySecrets overrides the gateway credentials from PaymentSecretName, a
// JSON secret with key_id, key_secret and webhook_secret.
func (c *Config) ApplySecrets(ctx context.Context, f SecretFetcher) error {
	if c.PaymentSecretName == "" {
		return nil
	}
	raw, err := f.GetSecret(ctx, c.PaymentSecretName)
	if err != nil {
		return fmt.Errorf("load payment secret: %w", err)
	}
	var s paymentSecret
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return fmt.Errorf("parse payment secret %s: %w", c.PaymentSecretName, err)
	}
	if s.KeyID != "" {
		c.KeyID = s.KeyID
	}
	if s.KeySecret != "" {
		c.KeySecret = s.KeySecret
	}
	if s.WebhookSecret != "" {
		c.WebhookSecret = s.WebhookSecret
	}
	return nil
}

// Validate checks the secrets the API cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if c.KeyID == "" {
		missing = append(missing, "PAYMENT_KEY_ID")
	}
	if c.KeySecret == "" {
		missing = append(missing, "PAYMENT_KEY_SECRET")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	return missingError(missing)
}

// ValidateWorker checks what the reconcile worker needs, which is only the
// callback signing secret.
func (c *Config) ValidateWorker() error {
	if c.KeySecret == "" {
		return missingError([]string{"PAYMENT_KEY_SECRET"})
	}
	return nil
}

func missingError(missing []string) error {
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Helper to get an environment variable or return a default
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// getList splits a comma-separated variable, dropping empty entries.
func getList(key string) []string {
	var out []string
	for _, v := range strings.Split(getEnv(key, ""), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}
