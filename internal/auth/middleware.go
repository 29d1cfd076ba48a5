package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-promo/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// AdminRole is the role claim value required by the admin surface.
const AdminRole = "admin"

// Middleware guards the admin endpoints with HS256 bearer tokens signed with
// the shared secret. There are no user accounts; admin tokens are issued out
// of band by the operator.
type Middleware struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Now       func() time.Time
}

// RequireAdmin enforces a valid bearer token carrying the admin role.
func (m Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := m.authenticate(r)
		switch {
		case errors.Is(err, errNoToken):
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		case err != nil:
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "token is not authorized for this resource", nil)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (m Middleware) authenticate(r *http.Request) error {
	raw := extractToken(r)
	if raw == "" {
		return errNoToken
	}

	now := time.Now()
	if m.Now != nil {
		now = m.Now()
	}

	options := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, []byte(m.Secret)),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
	}
	if m.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(m.ClockSkew))
	}
	if m.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.Issuer))
	}
	if m.Audience != "" {
		options = append(options, jwt.WithAudience(m.Audience))
	}

	tok, err := jwt.Parse([]byte(raw), options...)
	if err != nil {
		return fmt.Errorf("auth: parse token: %w", err)
	}

	role, _ := tok.Get("role")
	if roleStr, ok := role.(string); !ok || roleStr != AdminRole {
		return errors.New("auth: token lacks admin role")
	}
	return nil
}

func extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
