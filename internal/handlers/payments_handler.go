package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-storefront-checkout/internal/errs"
	"github.com/imrishuroy/go-storefront-checkout/internal/logger"
	"github.com/imrishuroy/go-storefront-checkout/internal/payment"
	"github.com/imrishuroy/go-storefront-checkout/internal/validation"
	"go.uber.org/zap"
)

// WebhookSignatureHeader carries hex(HMAC-SHA256(webhook secret, body)).
const WebhookSignatureHeader = "X-Razorpay-Signature"

const maxWebhookBody = 1 << 20

// PaymentVerifier is implemented by *payment.Verifier.
type PaymentVerifier interface {
	Verify(ctx context.Context, cb payment.Callback) (payment.Result, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) (payment.WebhookResult, error)
}

// RegisterPaymentRoutes registers the callback and webhook endpoints.
func RegisterPaymentRoutes(r gin.IRoutes, verifier PaymentVerifier) {
	v := validation.New()

	r.POST("/payments/verify", func(c *gin.Context) {
		var req validation.CallbackRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		res, err := verifier.Verify(c.Request.Context(), payment.Callback{
			ProviderOrderID:   req.ProviderOrderID,
			ProviderPaymentID: req.ProviderPaymentID,
			ProviderSignature: req.ProviderSignature,
		})
		if err != nil {
			writeVerifyError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"order_id":     res.OrderID,
			"status":       res.Status,
			"already_paid": res.AlreadyPaid,
		})
	})

	r.POST("/payments/webhook", func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "message": err.Error()})
			return
		}
		res, err := verifier.HandleWebhook(c.Request.Context(), body, c.GetHeader(WebhookSignatureHeader))
		if err != nil {
			logger.Warn(c.Request.Context(), "webhook rejected", zap.String("kind", string(errs.KindOf(err))), zap.Error(err))
			errs.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "event": res.Event, "handled": res.Handled})
	})
}

// writeVerifyError renders the callback response. Kinds where money may have
// moved carry the support message from errs.Write.
func writeVerifyError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	msg := "payment could not be verified"
	if errs.NeedsSupport(kind) {
		msg = "payment could not be confirmed, contact support"
	} else if kind == errs.KindOrderAlreadyFinalized {
		msg = "order is no longer awaiting payment"
	} else if kind == errs.KindInvalidCallback {
		msg = err.Error()
	}
	if kind == errs.KindInternal {
		logger.Error(c.Request.Context(), "verify failed", err)
	}
	c.AbortWithStatusJSON(errs.HTTPStatus(kind), gin.H{
		"success":    false,
		"error_code": string(kind),
		"message":    msg,
	})
}
