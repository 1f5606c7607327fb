package credentials

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Store reads and writes the credential pair. Implementations never
// return errors: a storage failure is logged and reads as "absent".
type Store interface {
	AccessToken() string
	SetAccessToken(token string)
	RefreshToken() string
	SetTokens(access, refresh string)
	ClearTokens()
	HasTokens() bool
}

// TokenExpiry returns the exp claim of a JWT access token without
// verifying its signature. Opaque tokens report ok == false.
func TokenExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
