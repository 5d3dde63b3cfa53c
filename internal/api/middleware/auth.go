package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/phrazzld/lookbook/internal/api/shared"
	"github.com/phrazzld/lookbook/internal/service/auth"
)

// APIKeyHeader carries a service API key
const APIKeyHeader = "x-api-key"

// KeyVerifier checks a presented API key
type KeyVerifier interface {
	Enabled() bool
	Verify(key string) error
}

// TokenValidator checks a bearer token
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Claims, error)
}

// AuthMiddleware authenticates clients by API key or bearer token
type AuthMiddleware struct {
	keys           KeyVerifier
	tokens         TokenValidator
	allowAnonymous bool
}

// NewAuthMiddleware creates an AuthMiddleware. Either verifier may be nil.
// With allowAnonymous set, requests without credentials are let through;
// credentials that are presented are still checked.
func NewAuthMiddleware(keys KeyVerifier, tokens TokenValidator, allowAnonymous bool) *AuthMiddleware {
	return &AuthMiddleware{keys: keys, tokens: tokens, allowAnonymous: allowAnonymous}
}

// Authenticate records the principal in the request context or rejects the
// request with 401.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		authHeader := r.Header.Get("Authorization")

		switch {
		case key != "":
			if m.keys == nil || !m.keys.Enabled() {
				shared.RespondWithError(w, r, http.StatusUnauthorized, "API keys are not accepted")
				return
			}
			if err := m.keys.Verify(key); err != nil {
				shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "Invalid API key", err,
					shared.WithElevatedLogLevel())
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.WithPrincipal(r.Context(), "api-key")))

		case authHeader != "":
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
				return
			}
			if m.tokens == nil {
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Bearer tokens are not accepted")
				return
			}
			claims, err := m.tokens.ValidateToken(r.Context(), token)
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "Token expired"
				}
				shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, msg, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.WithPrincipal(r.Context(), claims.Subject)))

		case m.allowAnonymous:
			next.ServeHTTP(w, r)

		default:
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		}
	})
}
