package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/imrishuroy/go-storefront-checkout/internal/auth"
	"github.com/imrishuroy/go-storefront-checkout/internal/checkout"
	"github.com/imrishuroy/go-storefront-checkout/internal/errs"
	"github.com/imrishuroy/go-storefront-checkout/internal/idempotency"
	"github.com/imrishuroy/go-storefront-checkout/internal/logger"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/validation"
	"go.uber.org/zap"
)

const (
	maxIdempotencyKeyLen = 128
	maxOrderBody         = 1 << 20
)

// CheckoutService is implemented by *checkout.Service.
type CheckoutService interface {
	CreateOrder(ctx context.Context, req checkout.Request) (checkout.Placed, error)
	Orders(ctx context.Context, userID string) ([]orders.Order, error)
	Order(ctx context.Context, userID, orderID string) (*orders.Order, error)
	Cancel(ctx context.Context, userID, orderID string) (*orders.Order, error)
}

// IdempotencyStore is implemented by *idempotency.Store.
type IdempotencyStore interface {
	CreateIfNotExists(ctx context.Context, key, requestHash string) (bool, error)
	Reclaim(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (*idempotency.IdempotencyRecord, error)
	MarkDone(ctx context.Context, key, orderID, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// OrdersConfig groups dependencies for the orders handler.
type OrdersConfig struct {
	Checkout    CheckoutService
	Idempotency IdempotencyStore
}

// RegisterOrdersRoutes registers routes for order API. r must already
// require authentication.
func RegisterOrdersRoutes(r gin.IRoutes, cfg OrdersConfig) {
	v := validation.New()

	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := auth.UserID(c)

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxOrderBody)
		raw, err := c.GetRawData()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request_too_large", "message": err.Error()})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "message": err.Error()})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))

		// Bind + validate request
		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		// Require idempotency key header
		idempKey := c.GetHeader("Idempotency-Key")
		if idempKey == "" || len(idempKey) > maxIdempotencyKeyLen {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key", "message": "Idempotency-Key header is required"})
			return
		}
		// keys are per user so one user cannot replay another's response
		key := userID + ":" + idempKey
		hash := idempotency.HashRequest(raw)

		created, err := cfg.Idempotency.CreateIfNotExists(ctx, key, hash)
		if err != nil {
			logger.Error(ctx, "idempotency check failed", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "message": "try again"})
			return
		}
		if !created && !resumeIdempotent(c, cfg.Idempotency, key, hash) {
			return
		}

		cart, err := req.Cart()
		if err != nil {
			_ = cfg.Idempotency.MarkFailed(ctx, key, err.Error())
			errs.Write(c, errs.E(errs.KindInvalidCart, err.Error(), nil))
			return
		}

		orderID := uuid.NewString()
		placed, err := cfg.Checkout.CreateOrder(ctx, checkout.Request{
			OrderID:   orderID,
			UserID:    userID,
			AddressID: req.AddressID,
			Cart:      cart,
		})
		if err != nil {
			// mark idempotency failed so the client can retry with the same key
			if merr := cfg.Idempotency.MarkFailed(ctx, key, string(errs.KindOf(err))); merr != nil {
				logger.Error(ctx, "failed to mark idempotency record failed", merr, zap.String("order_id", orderID))
			}
			logger.Warn(ctx, "create order failed", zap.String("order_id", orderID), zap.Error(err))
			errs.Write(c, err)
			return
		}

		responseBody, _ := json.Marshal(placed)
		if err := cfg.Idempotency.MarkDone(ctx, key, placed.OrderID, string(responseBody), http.StatusCreated); err != nil {
			logger.Error(ctx, "failed to store idempotent response", err, zap.String("order_id", placed.OrderID))
		}

		c.Header("Location", fmt.Sprintf("/orders/%s", placed.OrderID))
		c.Data(http.StatusCreated, "application/json; charset=utf-8", responseBody)
	})

	r.GET("/orders", func(c *gin.Context) {
		list, err := cfg.Checkout.Orders(c.Request.Context(), auth.UserID(c))
		if err != nil {
			logger.Error(c.Request.Context(), "list orders failed", err)
			errs.Write(c, err)
			return
		}
		if list == nil {
			list = []orders.Order{}
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		o, err := cfg.Checkout.Order(c.Request.Context(), auth.UserID(c), c.Param("id"))
		if err != nil {
			errs.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	r.POST("/orders/:id/cancel", func(c *gin.Context) {
		o, err := cfg.Checkout.Cancel(c.Request.Context(), auth.UserID(c), c.Param("id"))
		if err != nil {
			errs.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})
}

// resumeIdempotent handles a key that already has a record. It writes the
// response and returns false unless the caller should go on to create the
// order, which happens only after reclaiming a FAILED record.
func resumeIdempotent(c *gin.Context, store IdempotencyStore, key, hash string) bool {
	ctx := c.Request.Context()
	rec, err := store.Get(ctx, key)
	if err != nil {
		logger.Error(ctx, "idempotency lookup failed", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "message": "try again"})
		return false
	}
	if rec == nil {
		// expired between the conditional put and the read
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "idempotency_conflict", "message": "retry the request"})
		return false
	}
	if rec.RequestHash != "" && rec.RequestHash != hash {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "idempotency_key_reused", "message": "Idempotency-Key was used with a different request"})
		return false
	}

	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return false
		}
		c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
		return false
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
		return false
	case idempotency.StatusFailed:
		err := store.Reclaim(ctx, key)
		if errors.Is(err, idempotency.ErrConditionFailed) {
			// another retry reclaimed it first
			c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
			return false
		}
		if err != nil {
			logger.Error(ctx, "idempotency reclaim failed", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "message": "try again"})
			return false
		}
		return true
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
		return false
	}
}
