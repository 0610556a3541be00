package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/adminguard/adminguard/internal/auth"
	"github.com/adminguard/adminguard/internal/config"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Setenv("AG_JWT_SECRET", "test-jwt-secret-that-is-32-chars!!")
	os.Exit(m.Run())
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Logging.Format = "json"
	cfg.Security.CORS.AllowedOrigins = []string{"*"}
	return cfg
}

func newTestRouter(t *testing.T, cfg *config.Config) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	router, bg, err := NewRouter(cfg, sqlxDB, nil)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	t.Cleanup(bg.Shutdown)
	return router, mock
}

func doRequest(router *gin.Engine, method, path string, header http.Header, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthCheck(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())

	for _, path := range []string{"/healthz", "/health"} {
		w := doRequest(router, http.MethodGet, path, nil, "")
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), `"status":"healthy"`) {
			t.Errorf("%s: body = %s", path, w.Body.String())
		}
	}
}

func TestRouter_Version(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())

	w := doRequest(router, http.MethodGet, "/version", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"api_version":"v1"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRouter_AnonymousCanReadSettings(t *testing.T) {
	router, mock := newTestRouter(t, testConfig())
	mock.ExpectQuery("SELECT name, data, updated_at FROM settings").
		WillReturnRows(sqlmock.NewRows([]string{"name", "data", "updated_at"}))

	w := doRequest(router, http.MethodGet, "/api/v1/settings", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("missing X-RateLimit-Limit header on rate limited route")
	}
}

func TestRouter_MutationsRequireAuth(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodPut, "/api/v1/settings"},
		{http.MethodPost, "/api/v1/settings/reset"},
		{http.MethodGet, "/api/v1/security/audit-log"},
		{http.MethodGet, "/api/v1/webhooks"},
		{http.MethodPost, "/api/v1/webhooks"},
	}
	for _, tc := range cases {
		w := doRequest(router, tc.method, tc.path, nil, `{}`)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", tc.method, tc.path, w.Code)
		}
	}
}

func TestRouter_AdminEndpointsRejectNonAdmin(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())

	token, err := auth.GenerateJWT("user-1", false, 0)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	header := http.Header{"Authorization": []string{"Bearer " + token}}

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/security/rate-limit/reset"},
		{http.MethodPost, "/api/v1/webhooks/wh-1/test"},
	}
	for _, tc := range cases {
		w := doRequest(router, tc.method, tc.path, header, `{}`)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s %s: status = %d, want 403", tc.method, tc.path, w.Code)
		}
	}
}

func TestRouter_AdminTokenResetsRateLimit(t *testing.T) {
	token, hash, err := auth.GenerateAdminToken()
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}
	cfg := testConfig()
	cfg.Auth.AdminTokenHash = hash

	router, mock := newTestRouter(t, cfg)
	mock.ExpectQuery("INSERT INTO audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	w := doRequest(router, http.MethodPost, "/api/v1/security/rate-limit/reset", header,
		`{"scope":"user","actor_id":"user-1","action":"settings_save"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	// The audit write completes off the request path.
	deadline := time.Now().Add(2 * time.Second)
	for mock.ExpectationsWereMet() != nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("reset not audited: %v", err)
	}
}

func TestRouter_SecurityHeadersApplied(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())

	w := doRequest(router, http.MethodGet, "/version", nil, "")
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())

	header := http.Header{"Origin": []string{"https://admin.example.com"}}
	w := doRequest(router, http.MethodOptions, "/api/v1/settings", header, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://admin.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestRouter_RequestIDPropagated(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())

	header := http.Header{"X-Request-ID": []string{"req-42"}}
	w := doRequest(router, http.MethodGet, "/version", header, "")
	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
}
