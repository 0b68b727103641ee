package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/taskhive/taskhive/internal/models"
)

// BlacklistStore is the TTL'd denylist of revoked token identifiers.
// Entries self-expire at the token's natural expiry.
type BlacklistStore interface {
	BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error
	IsTokenBlacklisted(ctx context.Context, jti string) (bool, error)
	BlacklistFamily(ctx context.Context, family string, ttl time.Duration) error
	IsFamilyBlacklisted(ctx context.Context, family string) (bool, error)
}

// TokenManager issues, validates, and rotates JWT access/refresh tokens.
type TokenManager struct {
	secret             []byte
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	blacklist          BlacklistStore
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry, refreshExpiry time.Duration, blacklist BlacklistStore) *TokenManager {
	return &TokenManager{
		secret:             []byte(secret),
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		blacklist:          blacklist,
	}
}

func (tm *TokenManager) AccessTokenExpiry() time.Duration  { return tm.accessTokenExpiry }
func (tm *TokenManager) RefreshTokenExpiry() time.Duration { return tm.refreshTokenExpiry }

// CreateAccessToken mints a short-lived access token. Caller-supplied extra
// claims are merged into the payload; reserved claim names are ignored.
func (tm *TokenManager) CreateAccessToken(userID string, extra map[string]any) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}

	now := time.Now()
	claims := jwt.MapClaims{}
	for k, v := range extra {
		if models.ReservedClaims[k] {
			continue
		}
		claims[k] = v
	}
	claims["sub"] = userID
	claims["type"] = models.TokenTypeAccess
	claims["iat"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(now.Add(tm.accessTokenExpiry))
	claims["jti"] = uuid.New().String()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, nil
}

// CreateRefreshToken mints a long-lived refresh token. An empty family
// starts a new token family; a non-empty one continues it across rotations.
// The issued claims are returned so callers can key sessions by JTI.
func (tm *TokenManager) CreateRefreshToken(userID, family string) (string, *models.TokenClaims, error) {
	if userID == "" {
		return "", nil, fmt.Errorf("user id is required")
	}
	if family == "" {
		family = uuid.New().String()
	}

	now := time.Now()
	expiresAt := now.Add(tm.refreshTokenExpiry)
	jti := uuid.New().String()

	claims := jwt.MapClaims{
		"sub":    userID,
		"type":   models.TokenTypeRefresh,
		"iat":    jwt.NewNumericDate(now),
		"exp":    jwt.NewNumericDate(expiresAt),
		"jti":    jti,
		"family": family,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return tokenString, &models.TokenClaims{
		UserID:    userID,
		Type:      models.TokenTypeRefresh,
		JTI:       jti,
		Family:    family,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// DecodeToken verifies signature and expiry only. Blacklist and type checks
// belong to the Validate methods.
func (tm *TokenManager) DecodeToken(tokenString string) (*models.TokenClaims, error) {
	mapClaims := jwt.MapClaims{}

	token, err := jwt.ParseWithClaims(tokenString, mapClaims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, models.ErrTokenInvalid
	}
	if !token.Valid {
		return nil, models.ErrTokenInvalid
	}

	return claimsFromMap(mapClaims)
}

// ValidateAccessToken decodes and rejects non-access or blacklisted tokens.
func (tm *TokenManager) ValidateAccessToken(ctx context.Context, tokenString string) (*models.TokenClaims, error) {
	claims, err := tm.DecodeToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeAccess {
		return nil, models.ErrTokenInvalid
	}

	blacklisted, err := tm.blacklist.IsTokenBlacklisted(ctx, claims.JTI)
	if err != nil {
		return nil, err
	}
	if blacklisted {
		return nil, models.ErrTokenRevoked
	}

	return claims, nil
}

// ValidateRefreshToken decodes and rejects non-refresh or blacklisted tokens.
func (tm *TokenManager) ValidateRefreshToken(ctx context.Context, tokenString string) (*models.TokenClaims, error) {
	claims, err := tm.DecodeToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeRefresh {
		return nil, models.ErrTokenInvalid
	}

	blacklisted, err := tm.blacklist.IsTokenBlacklisted(ctx, claims.JTI)
	if err != nil {
		return nil, err
	}
	if blacklisted {
		return nil, models.ErrTokenRevoked
	}

	return claims, nil
}

// BlacklistToken marks a JTI revoked for ttl. A non-positive ttl means the
// token has already expired and there is nothing to store.
func (tm *TokenManager) BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return tm.blacklist.BlacklistToken(ctx, jti, ttl)
}

func (tm *TokenManager) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	return tm.blacklist.IsTokenBlacklisted(ctx, jti)
}

// BlacklistFamily revokes every token descended from one login at once,
// the response to suspected refresh-token theft.
func (tm *TokenManager) BlacklistFamily(ctx context.Context, family string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return tm.blacklist.BlacklistFamily(ctx, family, ttl)
}

func (tm *TokenManager) IsFamilyBlacklisted(ctx context.Context, family string) (bool, error) {
	return tm.blacklist.IsFamilyBlacklisted(ctx, family)
}

// RefreshTokens rotates a refresh token: validates the old one, rejects
// blacklisted families, mints a new pair in the same family, and blacklists
// the old JTI for its remaining lifetime so a racing second rotation of the
// same token fails validation.
func (tm *TokenManager) RefreshTokens(ctx context.Context, oldRefreshToken string, extra map[string]any) (string, string, *models.TokenClaims, error) {
	oldClaims, err := tm.ValidateRefreshToken(ctx, oldRefreshToken)
	if err != nil {
		return "", "", nil, err
	}

	familyBlacklisted, err := tm.blacklist.IsFamilyBlacklisted(ctx, oldClaims.Family)
	if err != nil {
		return "", "", nil, err
	}
	if familyBlacklisted {
		return "", "", nil, models.ErrTokenRevoked
	}

	accessToken, err := tm.CreateAccessToken(oldClaims.UserID, extra)
	if err != nil {
		return "", "", nil, err
	}

	refreshToken, newClaims, err := tm.CreateRefreshToken(oldClaims.UserID, oldClaims.Family)
	if err != nil {
		return "", "", nil, err
	}

	if err := tm.BlacklistToken(ctx, oldClaims.JTI, oldClaims.Remaining(time.Now())); err != nil {
		return "", "", nil, err
	}

	return accessToken, refreshToken, newClaims, nil
}

func claimsFromMap(mapClaims jwt.MapClaims) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	sub, err := mapClaims.GetSubject()
	if err != nil || sub == "" {
		return nil, models.ErrTokenInvalid
	}
	claims.UserID = sub

	tokenType, _ := mapClaims["type"].(string)
	if tokenType == "" {
		return nil, models.ErrTokenInvalid
	}
	claims.Type = tokenType

	jti, _ := mapClaims["jti"].(string)
	if jti == "" {
		return nil, models.ErrTokenInvalid
	}
	claims.JTI = jti

	claims.Family, _ = mapClaims["family"].(string)

	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	exp, err := mapClaims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, models.ErrTokenInvalid
	}
	claims.ExpiresAt = exp.Time

	for k, v := range mapClaims {
		if models.ReservedClaims[k] {
			continue
		}
		if claims.Extra == nil {
			claims.Extra = make(map[string]any)
		}
		claims.Extra[k] = v
	}

	return claims, nil
}
