package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/api/shared"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/platform/logger"
	"github.com/phrazzld/repurpose/internal/service/auth"
)

// AuthMiddleware authenticates end users with identity-provider bearer tokens.
type AuthMiddleware struct {
	verifier auth.TokenVerifier
}

// NewAuthMiddleware creates a new AuthMiddleware.
func NewAuthMiddleware(verifier auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// bearerToken returns the token of a "Bearer <token>" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate validates the bearer token and adds the user ID to the
// request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			if r.Header.Get("Authorization") == "" {
				shared.RespondWithError(w, r, http.StatusUnauthorized,
					string(domain.CodeUnauthorized), "Authorization header required")
			} else {
				shared.RespondWithError(w, r, http.StatusUnauthorized,
					string(domain.CodeUnauthorized), "Invalid authorization format")
			}
			return
		}

		claims, err := m.verifier.ValidateToken(r.Context(), token)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "Token expired"
			}
			shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized,
				string(domain.CodeUnauthorized), msg, err)
			return
		}

		ctx := shared.WithUserID(r.Context(), claims.UserID)
		ctx = logger.WithLogger(ctx, logger.FromContext(ctx).With("user_id", claims.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID extracts the user ID from the request context.
func GetUserID(r *http.Request) (uuid.UUID, bool) {
	return shared.UserID(r.Context())
}

// RequireInternalSecret guards internal endpoints with a shared bearer
// secret, compared in constant time. Requests without it are rejected
// before reaching next.
func RequireInternalSecret(secret string) func(http.Handler) http.Handler {
	want := []byte(strings.TrimSpace(secret))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || len(want) == 0 || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				shared.RespondWithError(w, r, http.StatusUnauthorized,
					string(domain.CodeUnauthorized), "Unauthorized",
					shared.WithElevatedLogLevel())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
