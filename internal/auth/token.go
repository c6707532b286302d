package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/xiaomao8090/kazay-website/internal/models"
)

const adminTokenType = "admin"

// TokenManager issues and validates the long-lived admin credential granted
// after a verified login.
type TokenManager struct {
	secret string
	expiry time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, expiry time.Duration) *TokenManager {
	return &TokenManager{
		secret: secret,
		expiry: expiry,
	}
}

// Expiry returns the lifetime of issued tokens.
func (tm *TokenManager) Expiry() time.Duration {
	return tm.expiry
}

// GenerateAdminToken creates a signed admin token with a unique JTI.
func (tm *TokenManager) GenerateAdminToken(username, email string) (string, error) {
	now := time.Now()
	claims := &models.AdminClaims{
		Type:     adminTokenType,
		Username: username,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign admin token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.AdminClaims, error) {
	claims := &models.AdminClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != adminTokenType || claims.Username == "" {
		return nil, fmt.Errorf("invalid token: wrong type")
	}
	return claims, nil
}
