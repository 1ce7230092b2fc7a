package jwtx

import (
	"time"
)

// DefaultRefreshThreshold is how close to expiry an access token may get
// before it is renewed.
const DefaultRefreshThreshold = 60 * time.Second

// Oracle answers "is this token about to expire" without any network access.
// The zero value uses the wall clock.
type Oracle struct {
	// Now overrides the clock, mostly for tests running on virtual time.
	Now func() time.Time
}

func (o Oracle) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// IsExpiringSoon reports whether token expires in less than threshold.
//
// Any decode failure (malformed token, unreadable payload, missing or
// non-numeric exp) reports true: an undecodable token is never valid.
func (o Oracle) IsExpiringSoon(token string, threshold time.Duration) bool {
	expiresAt, err := ExpiresAt(token)
	if err != nil {
		return true
	}
	return expiresAt.Sub(o.now()) < threshold
}

// IsExpiringSoon is Oracle{}.IsExpiringSoon on the wall clock.
func IsExpiringSoon(token string, threshold time.Duration) bool {
	return Oracle{}.IsExpiringSoon(token, threshold)
}
