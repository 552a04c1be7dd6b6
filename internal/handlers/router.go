package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-storefront-checkout/internal/logger"
)

// RouterConfig groups everything the API serves.
type RouterConfig struct {
	Auth          gin.HandlerFunc // required on user routes
	PaymentsLimit gin.HandlerFunc // optional, applied to /payments/*
	Orders        OrdersConfig
	Payments      PaymentVerifier
	Catalog       Catalog
	Addresses     AddressBook

	AllowedOrigins []string // browser origins; empty disables CORS
}

// NewRouter wires the API routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.RequestLogger())
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key", logger.RequestIDHeader},
			ExposeHeaders:    []string{"Content-Length", "Location", logger.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	RegisterProductRoutes(r, cfg.Catalog)

	payments := r.Group("/")
	if cfg.PaymentsLimit != nil {
		payments.Use(cfg.PaymentsLimit)
	}
	RegisterPaymentRoutes(payments, cfg.Payments)

	user := r.Group("/", cfg.Auth)
	RegisterOrdersRoutes(user, cfg.Orders)
	RegisterAddressRoutes(user, cfg.Addresses)

	return r
}
