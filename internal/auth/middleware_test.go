package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const testSecret = "test-secret"

func signToken(t *testing.T, role string, expiry time.Time) string {
	t.Helper()
	builder := jwt.NewBuilder().
		Issuer("promo-api").
		Expiration(expiry).
		IssuedAt(time.Now())
	if role != "" {
		builder = builder.Claim("role", role)
	}
	tok, err := builder.Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(testSecret)))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

func callProtected(m Middleware, token string) *httptest.ResponseRecorder {
	handler := m.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/rules", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireAdminAcceptsValidToken(t *testing.T) {
	m := Middleware{Secret: testSecret, Issuer: "promo-api"}
	rec := callProtected(m, signToken(t, AdminRole, time.Now().Add(time.Hour)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRequireAdminRejectsMissingToken(t *testing.T) {
	m := Middleware{Secret: testSecret}
	rec := callProtected(m, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAdminRejectsWrongRole(t *testing.T) {
	m := Middleware{Secret: testSecret, Issuer: "promo-api"}
	rec := callProtected(m, signToken(t, "viewer", time.Now().Add(time.Hour)))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequireAdminRejectsExpiredToken(t *testing.T) {
	m := Middleware{Secret: testSecret, Issuer: "promo-api"}
	rec := callProtected(m, signToken(t, AdminRole, time.Now().Add(-time.Hour)))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequireAdminRejectsWrongSecret(t *testing.T) {
	m := Middleware{Secret: "other-secret"}
	rec := callProtected(m, signToken(t, AdminRole, time.Now().Add(time.Hour)))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
