package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kinbay/kinbay/internal/shared"
)

const (
	tokenIssuer     = "kinbay"
	accessAudience  = "kinbay:access"
	refreshAudience = "kinbay:refresh"
)

// TokenIssuer signs and verifies HS256 access and refresh tokens.
type TokenIssuer struct {
	secret     []byte
	ttl        time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// RefreshClaims identifies a stored refresh token.
type RefreshClaims struct {
	UserID  int64
	TokenID string
}

// NewTokenIssuer builds a TokenIssuer. Non-positive TTLs fall back to 15
// minutes for access tokens and 7 days for refresh tokens.
func NewTokenIssuer(secret string, ttl, refreshTTL time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("auth: token secret required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, refreshTTL: refreshTTL, now: time.Now}, nil
}

// Issue returns a signed access token for userID and its expiry.
func (t *TokenIssuer) Issue(userID int64) (string, time.Time, error) {
	return t.sign(userID, uuid.NewString(), accessAudience, t.ttl)
}

// IssueRefresh returns a signed refresh token whose jti is tokenID.
func (t *TokenIssuer) IssueRefresh(userID int64, tokenID string) (string, time.Time, error) {
	return t.sign(userID, tokenID, refreshAudience, t.refreshTTL)
}

// Parse verifies an access token and returns the subject user id.
func (t *TokenIssuer) Parse(raw string) (int64, error) {
	userID, _, err := t.parse(raw, accessAudience)
	return userID, err
}

// ParseRefresh verifies a refresh token signature, audience and expiry.
func (t *TokenIssuer) ParseRefresh(raw string) (RefreshClaims, error) {
	userID, tokenID, err := t.parse(raw, refreshAudience)
	if err != nil {
		return RefreshClaims{}, err
	}
	if _, err := uuid.Parse(tokenID); err != nil {
		return RefreshClaims{}, fmt.Errorf("invalid refresh token id: %w", shared.ErrUnauthorized)
	}
	return RefreshClaims{UserID: userID, TokenID: tokenID}, nil
}

func (t *TokenIssuer) sign(userID int64, tokenID, audience string, ttl time.Duration) (string, time.Time, error) {
	now := t.now().UTC()
	expiresAt := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   strconv.FormatInt(userID, 10),
		Audience:  jwt.ClaimStrings{audience},
		ID:        tokenID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (t *TokenIssuer) parse(raw, audience string) (int64, string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return 0, "", fmt.Errorf("invalid token: %w", shared.ErrUnauthorized)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, "", fmt.Errorf("invalid token subject: %w", shared.ErrUnauthorized)
	}
	return userID, claims.ID, nil
}
