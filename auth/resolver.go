package auth

import (
	"fmt"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// Resolver extracts the verified principal identity from a request. The core
// trusts the returned id; authentication itself belongs to the identity
// provider.
type Resolver interface {
	Resolve(r *http.Request) (principalID string, err error)
}

// JWKSResolver verifies a bearer token against the identity provider's JWKS.
type JWKSResolver struct {
	BaseURL string
}

// Resolve validates the Authorization header and returns the principal id.
func (j *JWKSResolver) Resolve(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", fmt.Errorf("missing bearer token")
	}
	token := strings.TrimSpace(authHeader[len(bearerPrefix):])
	claims, err := ValidateToken(j.BaseURL, token)
	if err != nil {
		return "", err
	}
	id := PrincipalIDFromClaims(claims)
	if id == "" {
		return "", fmt.Errorf("token has no principal id")
	}
	return id, nil
}

// HeaderResolver trusts the X-Principal-ID header. For local development and
// tests only; never run it in front of real traffic.
type HeaderResolver struct{}

// Resolve returns the X-Principal-ID header value.
func (HeaderResolver) Resolve(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get("X-Principal-ID"))
	if id == "" {
		return "", fmt.Errorf("missing X-Principal-ID header")
	}
	return id, nil
}

// NewResolver returns the JWKS resolver when baseURL is configured, otherwise
// the header resolver.
func NewResolver(baseURL string) Resolver {
	if baseURL != "" {
		return &JWKSResolver{BaseURL: baseURL}
	}
	return HeaderResolver{}
}
