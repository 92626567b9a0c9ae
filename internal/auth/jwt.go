package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin marks back-office operators.
const RoleAdmin = "admin"

var ErrInvalidToken = errors.New("invalid token")

// Claims are the registered claims plus the operator role.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type JWTConfig struct {
	SecretKey string
	Issuer    string
}

// NewJWTConfig expects a validated secret; config.Validate enforces its length.
func NewJWTConfig(secretKey, issuer string) *JWTConfig {
	return &JWTConfig{SecretKey: secretKey, Issuer: issuer}
}

// IssueToken signs an HS256 token for userID.
func (c *JWTConfig) IssueToken(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    c.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.SecretKey))
}

// Parse accepts HMAC-signed tokens from this issuer only.
func (c *JWTConfig) Parse(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(c.SecretKey), nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware reads an optional bearer token. Requests without one pass
// through anonymously; a malformed or invalid token is a 401.
func (c *JWTConfig) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
			return
		}
		claims, err := c.Parse(strings.TrimSpace(raw))
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.Subject, claims.Role)))
	})
}

// RequireAdmin must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identityFrom(r.Context())
		switch {
		case id.userID == "":
			http.Error(w, "Authentication required", http.StatusUnauthorized)
		case id.role != RoleAdmin:
			http.Error(w, "Forbidden", http.StatusForbidden)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

type identityKey struct{}

type identity struct {
	userID string
	role   string
}

func identityFrom(ctx context.Context) identity {
	id, _ := ctx.Value(identityKey{}).(identity)
	return id
}

// WithUser stores the caller in ctx. An empty userID leaves ctx anonymous.
func WithUser(ctx context.Context, userID, role string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, identityKey{}, identity{userID: userID, role: role})
}

func GetUserID(ctx context.Context) string { return identityFrom(ctx).userID }

func GetRole(ctx context.Context) string { return identityFrom(ctx).role }
