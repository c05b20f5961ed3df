package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tripora/credits-api/internal/pkg/jwt"
)

type contextKey string

const authContextKey contextKey = "auth_context"

// Identity is a verified caller identity.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

// AuthContext is computed once per request: the resolved identity (nil when
// none) and whether the caller is privileged. Privileged means an admin
// role or a matching service key.
type AuthContext struct {
	Identity   *Identity
	Privileged bool
}

// Auth resolves the caller's identity from the Authorization header and the
// privilege flag from the role or the X-Service-Key header. It never rejects
// the request: a missing or invalid bearer token degrades to no identity,
// and the owner-scoped actions that need one fail downstream.
func Auth(jwtService *jwt.Service, serviceKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := AuthContext{}

			if claims := resolveClaims(jwtService, r); claims != nil {
				authCtx.Identity = &Identity{UserID: claims.UserID, Role: claims.Role}
				if claims.Role == "admin" {
					authCtx.Privileged = true
				}
			}

			if key := r.Header.Get("X-Service-Key"); key != "" && serviceKey != "" {
				if subtle.ConstantTimeCompare([]byte(key), []byte(serviceKey)) == 1 {
					authCtx.Privileged = true
				}
			}

			ctx := context.WithValue(r.Context(), authContextKey, authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveClaims(jwtService *jwt.Service, r *http.Request) *jwt.Claims {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return nil
	}

	claims, err := jwtService.ValidateAccessToken(parts[1])
	if err != nil {
		// Verification failures degrade to an anonymous request. Never
		// log the credential itself.
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("bearer token rejected")
		return nil
	}
	return claims
}

// GetAuthContext extracts the authorization context from the request context.
func GetAuthContext(ctx context.Context) AuthContext {
	if authCtx, ok := ctx.Value(authContextKey).(AuthContext); ok {
		return authCtx
	}
	return AuthContext{}
}
