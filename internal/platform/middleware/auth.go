package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "vicinity/pkg/domain"
)

// JWTValidator defines the interface for validating JWT tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator. Identity
// arrives pre-authenticated; this layer only extracts it.
type JWTClaims struct {
	Identity string
}

type contextKeyIdentity struct{}

// GetIdentity retrieves the authenticated identity from the context.
func GetIdentity(ctx context.Context) id.Identity {
	identity, ok := ctx.Value(contextKeyIdentity{}).(id.Identity)
	if !ok {
		return ""
	}
	return identity
}

// WithIdentity stores the identity in the context; exported for handler tests.
func WithIdentity(ctx context.Context, identity id.Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity{}, identity)
}

// RequireAuth extracts the bearer token, validates it, and stores the caller
// identity in the request context. Requests without a valid token never reach
// the handler.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			identity, err := id.ParseIdentity(claims.Identity)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - empty identity claim",
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Token carries no identity")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
