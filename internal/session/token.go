package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// fallbackLifetime applies when neither expires_in nor a JWT exp claim is available.
const fallbackLifetime = time.Hour

// Token is a bearer token issued by the OAuth2 login endpoint.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ValidAt reports whether the token can still be used at now without renewal.
func (t Token) ValidAt(now time.Time, margin time.Duration) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-margin))
}

// expiryFor works out when a freshly issued token expires: from expires_in
// when the server sent it, else from the token's own exp claim, else one hour.
func expiryFor(value string, expiresIn int64, issuedAt time.Time) time.Time {
	if expiresIn > 0 {
		return issuedAt.Add(time.Duration(expiresIn) * time.Second)
	}
	if exp, ok := jwtExpiry(value); ok {
		return exp
	}
	return issuedAt.Add(fallbackLifetime)
}

// jwtExpiry reads the exp claim without verifying the signature. The device
// has no key for CmControl's tokens; the claim is only a scheduling hint.
func jwtExpiry(value string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(value, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
