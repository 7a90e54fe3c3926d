package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
)

func newAdminRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mw := NewAdminMiddleware(newTestLogger(t))
	r := gin.New()
	r.Use(mw.Require())
	r.GET("/probe", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func adminProbe(t *testing.T, r *gin.Engine, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if key != "" {
		req.Header.Set("X-Admin-Key", key)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAdminRequireAcceptsCorrectKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	t.Setenv("ADMIN_API_KEY_HASH", string(hash))

	rec := adminProbe(t, newAdminRouter(t), "s3cret")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("correct key rejected: got=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestAdminRequireRejectsWrongKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	t.Setenv("ADMIN_API_KEY_HASH", string(hash))

	rec := adminProbe(t, newAdminRouter(t), "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusUnauthorized)
	}
	if code := errorCode(t, rec); code != apierr.CodeUnauthorized {
		t.Fatalf("unexpected code: got=%q want=%q", code, apierr.CodeUnauthorized)
	}
}

func TestAdminRequireMissingKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	t.Setenv("ADMIN_API_KEY_HASH", string(hash))

	rec := adminProbe(t, newAdminRouter(t), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAdminRequireClosedWithoutHash(t *testing.T) {
	t.Setenv("ADMIN_API_KEY_HASH", "")

	rec := adminProbe(t, newAdminRouter(t), "anything")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("admin surface must stay closed without a hash: got=%d", rec.Code)
	}
}
