// Package jwtxtest mints throwaway access tokens for tests. The signing key
// is fixed and public, the tokens are only ever decoded, never verified.
package jwtxtest

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussiebroadwan/tabsession/pkg/jwtx"
)

var testKey = []byte("jwtxtest-not-a-secret")

// Token returns an HS256 token for subject/role issued at now and expiring
// after ttl.
func Token(subject, role string, now time.Time, ttl time.Duration) string {
	return Mint(jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	})
}

// Mint signs arbitrary claims. It panics on failure since the input is
// always test controlled.
func Mint(claims jwt.Claims) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testKey)
	if err != nil {
		panic("jwtxtest: " + err.Error())
	}
	return token
}
