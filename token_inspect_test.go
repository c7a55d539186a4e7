package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

func TestTokenExpiryReadsExpClaim(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	got, ok := TokenExpiry(signedToken(t, exp))
	require.True(t, ok)
	assert.Equal(t, exp.Unix(), got.Unix())
}

func TestTokenExpiryOpaqueToken(t *testing.T) {
	_, ok := TokenExpiry("not-a-jwt")
	assert.False(t, ok)
}

func TestTokenExpiryMissingClaim(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"})
	signed, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)

	_, ok := TokenExpiry(signed)
	assert.False(t, ok)
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()

	assert.True(t, tokenExpired(signedToken(t, now.Add(-time.Minute)), now))
	assert.False(t, tokenExpired(signedToken(t, now.Add(time.Minute)), now))

	// opaque tokens are never considered expired locally
	assert.False(t, tokenExpired("opaque-bearer", now))
}
