/*
auth.go - Bearer JWT request identity

PURPOSE:
  Every /api route runs on behalf of one tenant and one user. The token
  carries both, plus a role; RequireAuth validates it and puts the claims
  and a tenant-scoped logger into the request context. Handlers pass the
  tenant and user to the engine explicitly.

CLAIMS:
  tenant_id  Tenant whose store serves the request
  sub        User id (kiosk operator, canteen admin)
  role       "kiosk" or "admin"; schedule writes and scenarios need admin

SEE ALSO:
  - server.go: Where the middleware is mounted
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/meal-token-engine/logging"
	"github.com/warp/meal-token-engine/meal"
)

const (
	RoleAdmin = "admin"
	RoleKiosk = "kiosk"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("authorization token required")
)

// Claims are the JWT claims of an API caller. Subject is the user id.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) Tenant() meal.TenantID { return meal.TenantID(c.TenantID) }

// TokenManager signs and validates HS256 tokens.
type TokenManager struct {
	secretKey     []byte
	tokenDuration time.Duration
	now           func() time.Time
}

func NewTokenManager(secretKey string, tokenDuration time.Duration) *TokenManager {
	return &TokenManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
		now:           time.Now,
	}
}

// Generate creates a token for userID acting in tenant with role.
func (m *TokenManager) Generate(tenant meal.TenantID, userID, role string) (string, error) {
	now := m.now()
	claims := &Claims{
		TenantID: string(tenant),
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses a token and returns its claims. Tokens without a tenant
// or subject are rejected.
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TenantID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: tenant_id and sub are required", ErrInvalidToken)
	}
	return claims, nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type claimsKey struct{}

// ClaimsFromContext returns the caller claims, or nil outside RequireAuth.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(tm *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", ErrMissingToken)
				return
			}
			parts := strings.Split(header, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "unauthorized", ErrInvalidToken)
				return
			}

			claims, err := tm.Validate(parts[1])
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			log := logging.FromContext(ctx, nil).With(
				"tenant_id", claims.TenantID,
				"user_id", claims.Subject,
			)
			ctx = logging.ContextWithLogger(ctx, log)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole must run after RequireAuth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil || claims.Role != role {
				writeError(w, http.StatusForbidden, "forbidden", fmt.Errorf("role %q required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
