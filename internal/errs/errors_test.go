package errs

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIs_MatchesByKind(t *testing.T) {
	err := fmt.Errorf("verify: %w", E(KindUnknownOrder, "no order for order_x", nil))

	if !errors.Is(err, ErrUnknownOrder) {
		t.Fatal("expected errors.Is to match by kind")
	}
	if errors.Is(err, ErrLedgerCommit) {
		t.Fatal("different kinds must not match")
	}
	if KindOf(err) != KindUnknownOrder {
		t.Fatalf("KindOf = %s", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatal("plain errors should be internal")
	}
}

func TestUnwrap(t *testing.T) {
	root := errors.New("connection reset")
	err := E(KindGatewayUnavailable, "create provider order", root)
	if !errors.Is(err, root) {
		t.Fatal("expected cause to be reachable")
	}
}

func TestNeedsSupport(t *testing.T) {
	for _, k := range []Kind{KindSignatureMismatch, KindUnknownOrder, KindLedgerCommit} {
		if !NeedsSupport(k) {
			t.Fatalf("%s should need support", k)
		}
	}
	for _, k := range []Kind{KindInvalidCart, KindGatewayRejected, KindOrderAlreadyFinalized} {
		if NeedsSupport(k) {
			t.Fatalf("%s should be user-recoverable", k)
		}
	}
}

func TestWrite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Write(c, E(KindLedgerCommit, "mark paid", errors.New("throttled")))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	want := `{"error":"ledger_commit_failed","message":"payment could not be confirmed, contact support"}`
	if w.Body.String() != want {
		t.Fatalf("body = %s", w.Body.String())
	}
}
