package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry peeks at the exp claim of a stored token without verifying the
// signature. The token is opaque to this package; the peek only exists so a
// clearly expired token can be discarded before a network round trip. A
// non-JWT token reports no expiry and is always presented to the service.
func TokenExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func tokenExpired(token string, now time.Time) bool {
	exp, ok := TokenExpiry(token)
	return ok && exp.Before(now)
}
