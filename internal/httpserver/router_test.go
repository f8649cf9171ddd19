package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"jefe/internal/config"
	"jefe/internal/handlers"
	"jefe/internal/repos"
	"jefe/internal/services"
	"jefe/pkg/types"
)

func setupRouter(t *testing.T, cfg config.ServerConfig) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo, err := repos.Open("file::memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	svc := services.NewSyncService(repo, nil)
	h := handlers.NewSyncHandler(svc, nil, "test")
	cfg.Debug = true
	return NewRouter(cfg, h, nil)
}

func do(r http.Handler, method, path, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	r := setupRouter(t, config.ServerConfig{APIKey: "secret"})
	rec := do(r, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status=%d body=%s", rec.Code, rec.Body.String())
	}
	var body types.HealthResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Status != "healthy" || body.Version != "test" {
		t.Fatalf("unexpected health body: %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestSyncRequiresAPIKey(t *testing.T) {
	r := setupRouter(t, config.ServerConfig{APIKey: "secret"})
	rec := do(r, http.MethodPost, "/sync/pull", `{}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(r, http.MethodPost, "/sync/pull", `{}`, "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", rec.Code)
	}
	rec = do(r, http.MethodPost, "/sync/pull", `{}`, "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("pull status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestPushThenPull(t *testing.T) {
	r := setupRouter(t, config.ServerConfig{})
	rec := do(r, http.MethodPost, "/sync/push",
		`{"projects":[{"local_id":7,"server_id":null,"name":"alpha","description":null,"updated_at":"2025-01-01T00:00:00Z"}]}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("push status=%d body=%s", rec.Code, rec.Body.String())
	}
	var pushed types.PushResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pushed); err != nil {
		t.Fatal(err)
	}
	sid, ok := pushed.ServerIDMappings[types.EntityProject][7]
	if !ok || sid == 0 || pushed.ProjectsSynced != 1 {
		t.Fatalf("unexpected push response: %s", rec.Body.String())
	}

	rec = do(r, http.MethodPost, "/sync/pull", `{"entity_types":["project"]}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pull status=%d body=%s", rec.Code, rec.Body.String())
	}
	var pulled types.PullResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pulled); err != nil {
		t.Fatal(err)
	}
	if len(pulled.Projects) != 1 || pulled.Projects[0].ServerID == nil || *pulled.Projects[0].ServerID != sid {
		t.Fatalf("unexpected pull response: %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "local_id") {
		t.Fatalf("pull items must not carry local_id: %s", rec.Body.String())
	}
}

func TestBadRequests(t *testing.T) {
	r := setupRouter(t, config.ServerConfig{})
	rec := do(r, http.MethodPost, "/sync/push", `{"projects":`, "")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "invalid json body") {
		t.Fatalf("expected 400 invalid json body, got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(r, http.MethodPost, "/sync/pull", `{"entity_types":["recipe"]}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown entity type, got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(r, http.MethodPost, "/sync/pull", ``, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected empty pull body to be accepted, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	r := setupRouter(t, config.ServerConfig{APIKey: "k", RateLimit: 0.001, RateBurst: 2})
	for i := 0; i < 2; i++ {
		if rec := do(r, http.MethodPost, "/sync/pull", `{}`, "k"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := do(r, http.MethodPost, "/sync/pull", `{}`, "k")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d body=%s", rec.Code, rec.Body.String())
	}
}
