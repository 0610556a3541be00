package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/adminguard/adminguard/internal/audit"
	"github.com/adminguard/adminguard/internal/auth"
	"github.com/adminguard/adminguard/internal/db/models"
	"github.com/adminguard/adminguard/internal/db/repositories"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// identityRouter returns a router that reports the resolved identity.
func identityRouter(adminTokenHash string, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{Authenticate(adminTokenHash, nil)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		isAdmin, _ := c.Get(IsAdminKey)
		admin, _ := isAdmin.(bool)
		c.JSON(http.StatusOK, gin.H{
			"user_id":  CurrentUserID(c),
			"is_admin": admin,
		})
	})
	r.GET("/probe", handlers...)
	return r
}

func doGet(t *testing.T, r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Authenticate
// ---------------------------------------------------------------------------

func TestAuthenticate_NoHeaderIsAnonymous(t *testing.T) {
	w := doGet(t, identityRouter(""), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := w.Body.String(); body != `{"is_admin":false,"user_id":""}` {
		t.Errorf("body = %s", body)
	}
}

func TestAuthenticate_ValidJWT(t *testing.T) {
	token, err := auth.GenerateJWT("user-7", false, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	w := doGet(t, identityRouter(""), "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := w.Body.String(); body != `{"is_admin":false,"user_id":"user-7"}` {
		t.Errorf("body = %s", body)
	}
}

func TestAuthenticate_AdminClaimPropagates(t *testing.T) {
	token, err := auth.GenerateJWT("root-1", true, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	w := doGet(t, identityRouter(""), "Bearer "+token)
	if body := w.Body.String(); body != `{"is_admin":true,"user_id":"root-1"}` {
		t.Errorf("body = %s", body)
	}
}

func TestAuthenticate_InvalidTokenIsRejected(t *testing.T) {
	cases := []string{
		"Bearer garbage.token.here",
		"Bearer ",
		"Basic dXNlcjpwYXNz",
	}
	for _, header := range cases {
		w := doGet(t, identityRouter(""), header)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, w.Code)
		}
	}
}

func TestAuthenticate_RejectionIsAudited(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	logger := audit.NewSecurityLogger(
		repositories.NewAuditRepository(sqlx.NewDb(db, "sqlmock")), nil, audit.Config{})
	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(nil, audit.ActionAuthFailed, sqlmock.AnyArg(), models.AuditStatusFailed,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	r := gin.New()
	r.GET("/probe", Authenticate("", logger), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer garbage.token.here")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	logger.Wait()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("auth failure not audited: %v", err)
	}
}

func TestAuthenticate_AdminToken(t *testing.T) {
	token, hash, err := auth.GenerateAdminToken()
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}

	w := doGet(t, identityRouter(hash), "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := w.Body.String(); body != `{"is_admin":true,"user_id":"admin"}` {
		t.Errorf("body = %s", body)
	}
}

func TestAuthenticate_AdminTokenRejectedWhenUnprovisioned(t *testing.T) {
	token, _, err := auth.GenerateAdminToken()
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}

	w := doGet(t, identityRouter(""), "Bearer "+token)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuthenticate_WrongAdminTokenRejected(t *testing.T) {
	_, hash, err := auth.GenerateAdminToken()
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}
	other, _, err := auth.GenerateAdminToken()
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}

	w := doGet(t, identityRouter(hash), "Bearer "+other)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

// ---------------------------------------------------------------------------
// RequireAuth / RequireAdmin
// ---------------------------------------------------------------------------

func TestRequireAuth_BlocksAnonymous(t *testing.T) {
	w := doGet(t, identityRouter("", RequireAuth()), "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRequireAuth_PassesAuthenticated(t *testing.T) {
	token, err := auth.GenerateJWT("user-1", false, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	w := doGet(t, identityRouter("", RequireAuth()), "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRequireAdmin_BlocksNonAdmin(t *testing.T) {
	token, err := auth.GenerateJWT("user-1", false, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	w := doGet(t, identityRouter("", RequireAuth(), RequireAdmin()), "Bearer "+token)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestRequireAdmin_PassesAdmin(t *testing.T) {
	token, err := auth.GenerateJWT("root-1", true, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	w := doGet(t, identityRouter("", RequireAuth(), RequireAdmin()), "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
