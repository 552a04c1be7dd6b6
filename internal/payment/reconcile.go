package payment

import (
	"context"

	"github.com/imrishuroy/go-storefront-checkout/internal/errs"
)

// Reconcile replays a queued confirmation. Callback-sourced messages are
// re-authenticated; webhook-sourced ones were authenticated before they were
// queued. A commit failure is returned rather than queued again, so the
// queue's own redrive policy decides when to give up.
func (v *Verifier) Reconcile(ctx context.Context, msg ReconcileMessage) (Result, error) {
	r := *v
	r.queue = nil

	cb := Callback{
		ProviderOrderID:   msg.ProviderOrderID,
		ProviderPaymentID: msg.ProviderPaymentID,
		ProviderSignature: msg.ProviderSignature,
	}
	switch msg.Source {
	case SourceWebhook:
		if err := cb.validate(); err != nil {
			return Result{}, err
		}
		return r.confirm(ctx, cb, SourceWebhook)
	case SourceCallback, "":
		return r.Verify(ctx, cb)
	}
	return Result{}, errs.E(errs.KindInvalidCallback, "unknown source "+msg.Source, nil)
}

// Retryable reports whether a Reconcile error may succeed on a later attempt.
func Retryable(err error) bool {
	switch errs.KindOf(err) {
	case errs.KindLedgerCommit, errs.KindInternal:
		return true
	}
	return false
}
