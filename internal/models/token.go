package models

import "time"

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// ReservedClaims are claim names the token service controls; values for
// these keys in caller-supplied extra claims are ignored.
var ReservedClaims = map[string]bool{
	"sub":    true,
	"exp":    true,
	"iat":    true,
	"nbf":    true,
	"type":   true,
	"jti":    true,
	"family": true,
}

// TokenClaims is the decoded claim set of an access or refresh token.
type TokenClaims struct {
	UserID    string
	Type      string
	JTI       string
	Family    string // set on refresh tokens only
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extra     map[string]any // caller-supplied claims, reserved keys excluded
}

// Remaining returns the token's remaining lifetime, zero if already expired.
func (c *TokenClaims) Remaining(now time.Time) time.Duration {
	d := c.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// TokenPair is an access/refresh token pair issued at login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // access token lifetime in seconds
}
