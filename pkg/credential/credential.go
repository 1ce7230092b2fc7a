// Package credential holds the session material a tab keeps between
// requests: the short-lived access token, the durable refresh token and the
// cached identity of the logged in user.
package credential

import (
	"time"
)

// Access is the short-lived bearer credential attached to authenticated
// requests. It lives in tab-scoped storage only and is never persisted across
// restarts.
type Access struct {
	// Token is the opaque bearer token as issued by the auth API.
	Token string `json:"token" cbor:"token"`

	// ExpiresAt is derived from the token's exp claim. Zero when the claim is
	// missing or the token could not be decoded.
	ExpiresAt time.Time `json:"expires_at" cbor:"expires_at"`

	// IssuedAt is derived from the token's iat claim, zero when absent.
	IssuedAt time.Time `json:"issued_at" cbor:"issued_at"`
}

// IsZero reports whether no access token is held.
func (a Access) IsZero() bool { return a.Token == "" }

// Refresh is the long-lived, server revocable credential used only to obtain
// new access tokens.
type Refresh string

func (r Refresh) String() string { return string(r) }

// Identity is the denormalised user payload cached for synchronous "who is
// logged in" queries. Role must always match the role claim of the access
// token it was stored with.
type Identity struct {
	ID       string         `json:"id" cbor:"id"`
	Role     string         `json:"role" cbor:"role"`
	Verified bool           `json:"is_verified" cbor:"is_verified"`
	Email    string         `json:"email,omitempty" cbor:"email,omitempty"`
	Name     string         `json:"name,omitempty" cbor:"name,omitempty"`
	Profile  map[string]any `json:"profile,omitempty" cbor:"profile,omitempty"`
}

// Set is everything written by a single store put. The three values are
// always written together so Identity.Role never drifts from the access
// token's role claim.
type Set struct {
	Access   Access
	Refresh  Refresh
	Identity Identity
}
