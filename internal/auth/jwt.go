package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	httpmiddleware "github.com/wolfeidau/genjobs/internal/http"
)

// minSecretBytes is the smallest HMAC-SHA256 secret accepted.
const minSecretBytes = 32

// Principal is the authenticated caller added to the request context.
type Principal struct {
	Subject string
	Roles   []string
}

// Claims carried by genjobs tokens.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

type contextKey int

const principalContextKey contextKey = iota

// PrincipalFromContext returns nil for unauthenticated requests.
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, _ := ctx.Value(principalContextKey).(*Principal)
	return principal
}

// JWTVerifier validates HS256 bearer tokens issued for one audience.
type JWTVerifier struct {
	secret   []byte
	audience string
}

func NewJWTVerifier(secret []byte, audience string) (*JWTVerifier, error) {
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretBytes)
	}
	if audience == "" {
		return nil, errors.New("jwt audience is required")
	}
	return &JWTVerifier{secret: secret, audience: audience}, nil
}

// Verify parses and validates a token, returning its principal.
func (v *JWTVerifier) Verify(tokenString string) (*Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return nil, err
	}

	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	return &Principal{Subject: claims.Subject, Roles: claims.Roles}, nil
}

// Middleware rejects requests without a valid bearer token. The token may
// also be passed as the access_token query parameter, for callers such as
// beacons that cannot set headers.
func (v *JWTVerifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractToken(r)
			if tokenString == "" {
				zerolog.Ctx(r.Context()).Warn().Msg("Missing bearer token")
				httpmiddleware.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}

			principal, err := v.Verify(tokenString)
			if err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Failed to verify bearer token")
				httpmiddleware.WriteError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IssueToken signs a token for subject valid for ttl.
func IssueToken(secret []byte, audience, subject string, roles []string, ttl time.Duration) (string, error) {
	if len(secret) < minSecretBytes {
		return "", fmt.Errorf("jwt secret must be at least %d bytes", minSecretBytes)
	}

	now := time.Now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func extractToken(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("access_token")
}
