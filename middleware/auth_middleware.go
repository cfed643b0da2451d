package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/llmpool/gateway/internal/adminauth"
	"github.com/llmpool/gateway/utils"
)

// TokenValidator validates an admin session token and returns its claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*adminauth.Claims, error)
}

// AuthMiddleware guards the admin API behind a signed session token.
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// SessionCookieName is the cookie the admin login handler sets and
// this middleware reads back.
const SessionCookieName = "admin_session"

// RequireAuth is a middleware that requires a valid admin session token,
// supplied either via the Authorization header or the session cookie.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractToken(r)
		if token == "" {
			m.logger.Warn("missing admin session token", zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("admin session validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired session")
			return
		}

		ctx = WithClaims(ctx, &Claims{
			Sub: claims.Subject,
			Iss: claims.Issuer,
		})

		m.logger.Debug("admin authentication successful", zap.String("request_id", requestID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken extracts the session token from the Authorization header
// ("Bearer TOKEN") or, failing that, the session cookie.
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
