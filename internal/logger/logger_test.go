package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogger_PropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	Log = zap.New(core)
	t.Cleanup(func() { Log = zap.NewNop() })

	var seen string
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/ping", func(c *gin.Context) {
		seen = RequestID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if seen != "req-123" || w.Header().Get(RequestIDHeader) != "req-123" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, w.Header().Get(RequestIDHeader))
	}
	entries := logs.FilterMessage("Request completed").All()
	if len(entries) != 1 || entries[0].ContextMap()["status"] != int64(http.StatusNoContent) {
		t.Fatalf("unexpected log entries: %+v", entries)
	}
}

func TestRequestLogger_GeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if len(w.Header().Get(RequestIDHeader)) != 36 {
		t.Fatalf("expected a generated uuid, got %q", w.Header().Get(RequestIDHeader))
	}
}

func TestHelpersAttachRequestID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	Log = zap.New(core)
	t.Cleanup(func() { Log = zap.NewNop() })

	ctx := WithRequestID(context.Background(), "abc")
	Warn(ctx, "careful")
	Error(ctx, "broken", nil)

	for _, e := range logs.All() {
		if e.ContextMap()["request_id"] != "abc" {
			t.Fatalf("missing request id on %q", e.Message)
		}
	}
	if RequestID(context.Background()) != "" {
		t.Fatal("expected empty request id")
	}
}
