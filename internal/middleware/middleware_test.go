package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"jefe/internal/logging"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, APIKeyFromContext(c))
	})
	return r
}

func get(r http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	r := newEngine(Auth("secret"))
	if rec := get(r, "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}
	if rec := get(r, APIKeyHeader, "nope"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", rec.Code)
	}
	rec := get(r, APIKeyHeader, "secret")
	if rec.Code != http.StatusOK || rec.Body.String() != "secret" {
		t.Fatalf("expected key in context, got %d %q", rec.Code, rec.Body.String())
	}

	open := newEngine(Auth(""))
	if rec := get(open, "", ""); rec.Code != http.StatusOK {
		t.Fatalf("empty key must disable auth, got %d", rec.Code)
	}
}

func TestRequestLoggerEchoesID(t *testing.T) {
	var buf bytes.Buffer
	r := newEngine(RequestLogger(logging.NewWriter("info", &buf)))

	rec := get(r, RequestIDHeader, "req-1")
	if got := rec.Header().Get(RequestIDHeader); got != "req-1" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
	if !strings.Contains(buf.String(), "GET /x 200") || !strings.Contains(buf.String(), "rid=req-1") {
		t.Fatalf("unexpected log line: %q", buf.String())
	}

	rec = get(r, "", "")
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestRateLimiterPerKey(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	if !rl.Allow("a") || rl.Allow("a") {
		t.Fatal("expected burst of one for key a")
	}
	if !rl.Allow("b") {
		t.Fatal("keys must be limited independently")
	}

	var nilLimiter *RateLimiter
	r := newEngine(nilLimiter.Middleware())
	for i := 0; i < 3; i++ {
		if rec := get(r, "", ""); rec.Code != http.StatusOK {
			t.Fatalf("nil limiter must pass requests, got %d", rec.Code)
		}
	}
}

func TestRateLimiterDropsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	for _, key := range []string{"a", "b", "c"} {
		if !rl.Allow(key) {
			t.Fatalf("expected first request for %s to pass", key)
		}
	}
	if rl.Allow("a") {
		t.Fatal("expected bucket a to be exhausted")
	}

	clock = clock.Add(limiterIdleTTL / 2)
	rl.Allow("c")
	if len(rl.limiters) != 3 {
		t.Fatalf("expected buckets to survive before the idle ttl, got %d", len(rl.limiters))
	}

	clock = clock.Add(limiterIdleTTL/2 + time.Second)
	if !rl.Allow("d") {
		t.Fatal("expected first request for d to pass")
	}
	if len(rl.limiters) != 2 {
		t.Fatalf("expected idle buckets a and b to be dropped, got %d", len(rl.limiters))
	}
	if _, ok := rl.limiters["c"]; !ok {
		t.Fatal("recently used bucket c must be kept")
	}
}
