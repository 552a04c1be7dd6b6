// Package errs defines the error kinds surfaced by the checkout and payment
// flow. Callers branch on Kind instead of on concrete error types.
package errs

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Kind string

const (
	KindInvalidCart           Kind = "invalid_cart"
	KindGatewayUnavailable    Kind = "gateway_unavailable"
	KindGatewayRejected       Kind = "gateway_rejected"
	KindSignatureMismatch     Kind = "signature_mismatch"
	KindOrderAlreadyFinalized Kind = "order_already_finalized"
	KindUnknownOrder          Kind = "unknown_order"
	KindLedgerCommit          Kind = "ledger_commit_failed"

	KindInvalidCallback Kind = "invalid_callback"
	KindLedgerWrite     Kind = "ledger_write_failed"
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindAddressLimit    Kind = "address_limit_reached"
	KindPriceChanged    Kind = "price_changed"
	KindInternal        Kind = "internal"
)

// Error is an application error carrying a Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrUnknownOrder)
// works for every unknown-order error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// E builds an *Error.
func E(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Sentinels for errors.Is.
var (
	ErrInvalidCart           = &Error{Kind: KindInvalidCart, Message: "invalid cart"}
	ErrGatewayUnavailable    = &Error{Kind: KindGatewayUnavailable, Message: "payment gateway unavailable"}
	ErrGatewayRejected       = &Error{Kind: KindGatewayRejected, Message: "payment gateway rejected the order"}
	ErrSignatureMismatch     = &Error{Kind: KindSignatureMismatch, Message: "payment signature mismatch"}
	ErrOrderAlreadyFinalized = &Error{Kind: KindOrderAlreadyFinalized, Message: "order already finalized"}
	ErrUnknownOrder          = &Error{Kind: KindUnknownOrder, Message: "unknown provider order"}
	ErrLedgerCommit          = &Error{Kind: KindLedgerCommit, Message: "payment verified but order could not be recorded"}
	ErrInvalidCallback       = &Error{Kind: KindInvalidCallback, Message: "invalid payment callback"}
	ErrLedgerWrite           = &Error{Kind: KindLedgerWrite, Message: "order ledger write failed"}
	ErrNotFound              = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden             = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrAddressLimit          = &Error{Kind: KindAddressLimit, Message: "address limit reached"}
	ErrPriceChanged          = &Error{Kind: KindPriceChanged, Message: "price changed"}
)

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the response status used by the API.
func HTTPStatus(k Kind) int {
	switch k {
	case KindInvalidCart, KindInvalidCallback, KindSignatureMismatch:
		return http.StatusBadRequest
	case KindGatewayRejected:
		return http.StatusUnprocessableEntity
	case KindGatewayUnavailable, KindLedgerWrite:
		return http.StatusServiceUnavailable
	case KindOrderAlreadyFinalized, KindAddressLimit, KindPriceChanged:
		return http.StatusConflict
	case KindUnknownOrder, KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// NeedsSupport reports kinds where money may have moved without a confirmed
// local record. These are shown to the user as "contact support".
func NeedsSupport(k Kind) bool {
	switch k {
	case KindSignatureMismatch, KindUnknownOrder, KindLedgerCommit:
		return true
	}
	return false
}

// Write renders err as the API error envelope.
func Write(c *gin.Context, err error) {
	kind := KindOf(err)
	msg := "internal error"
	var e *Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	body := gin.H{"error": string(kind), "message": msg}
	if NeedsSupport(kind) {
		body["message"] = "payment could not be confirmed, contact support"
	}
	c.AbortWithStatusJSON(HTTPStatus(kind), body)
}
