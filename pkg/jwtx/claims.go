package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussiebroadwan/tabsession/pkg/credential"
)

var (
	ErrMalformed    = errors.New("jwtx: malformed token")
	ErrMissingClaim = errors.New("jwtx: missing claim")
)

// Claims are the access-token claims the client cares about. Tokens are
// treated as opaque apart from these, nothing here is verified.
type Claims struct {
	jwt.RegisteredClaims

	// Role of the authenticated user, mirrored into credential.Identity.
	Role string `json:"role,omitempty"`

	// Email is optional and only used for display.
	Email string `json:"email,omitempty"`
}

// parser never checks signatures or time based claims, we only read them.
var parser = jwt.NewParser(jwt.WithoutClaimsValidation())

// ParseClaims decodes the payload of token without verifying its signature.
func ParseClaims(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMalformed
	}

	var claims Claims
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return &claims, nil
}

// ExpiresAt returns the exp claim of token.
func ExpiresAt(token string) (time.Time, error) {
	claims, err := ParseClaims(token)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: exp", ErrMissingClaim)
	}
	return claims.ExpiresAt.Time, nil
}

// NewAccess wraps token into a credential.Access, filling the expiry and
// issued instants from its claims. Undecodable tokens keep zero instants and
// will be treated as expiring by the Oracle.
func NewAccess(token string) credential.Access {
	access := credential.Access{Token: token}

	claims, err := ParseClaims(token)
	if err != nil {
		return access
	}
	if claims.ExpiresAt != nil {
		access.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	if claims.IssuedAt != nil {
		access.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	return access
}
