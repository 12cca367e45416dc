package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/Pranjalshukla1602/task-manager/pkg/errors"
	"github.com/Pranjalshukla1602/task-manager/pkg/httputil"
	"github.com/Pranjalshukla1602/task-manager/pkg/logger"
)

type contextKeyType string

const principalKey contextKeyType = "principal"

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	UserID string
	Email  string
	// Token is the raw bearer token presented with the request.
	Token string
}

// TokenValidator resolves a bearer token to a Principal. Rejections should be
// AppErrors; any other error is treated as a server failure.
type TokenValidator func(ctx context.Context, token string) (*Principal, error)

// ErrMissingToken is reported when the Authorization header carries no bearer token.
var ErrMissingToken = apperrors.Unauthorized("Access token required")

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Auth validates the bearer token and injects the resolved Principal into the context.
func Auth(validate TokenValidator, l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				httputil.WriteError(w, r, ErrMissingToken, l)
				return
			}

			principal, err := validate(r.Context(), token)
			if err != nil {
				httputil.WriteError(w, r, err, l)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			ctx = logger.WithUserID(ctx, principal.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// UserIDFromContext returns the authenticated user's ID, or "".
func UserIDFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.UserID
	}
	return ""
}
