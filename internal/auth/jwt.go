// Package auth resolves bearer tokens to owner ids.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// JWTVerifier checks HS256 tokens signed with a shared secret. The owner is
// taken from the sub claim, falling back to user_id.
type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify returns the owner id carried by token
func (v *JWTVerifier) Verify(token string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	owner, _ := claims["sub"].(string)
	if owner == "" {
		owner, _ = claims["user_id"].(string)
	}
	if owner == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return owner, nil
}

// Issue signs a token for ownerID; used by tooling and tests
func (v *JWTVerifier) Issue(ownerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   ownerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.issuer != "" {
		claims.Issuer = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// DevVerifier accepts any token with the given prefix and maps it to a fixed
// owner. Only for local development.
type DevVerifier struct {
	Prefix  string
	OwnerID string
}

func (d DevVerifier) Verify(token string) (string, error) {
	if strings.HasPrefix(token, d.Prefix) {
		return d.OwnerID, nil
	}
	return "", ErrInvalidToken
}

// Verifier is implemented by JWTVerifier and DevVerifier
type Verifier interface {
	Verify(token string) (string, error)
}

type ownerKey struct{}

// WithOwner stores the authenticated owner id in ctx
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFrom returns the owner id stored by Middleware
func OwnerFrom(ctx context.Context) string {
	v, _ := ctx.Value(ownerKey{}).(string)
	return v
}

// BearerToken extracts the token from an Authorization header
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", ErrMissingToken
	}
	t := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	if t == "" {
		return "", ErrMissingToken
	}
	return t, nil
}
