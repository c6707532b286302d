package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaomao8090/kazay-website/internal/auth"
	"github.com/xiaomao8090/kazay-website/internal/models"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := auth.NewTokenManager("test-secret", 24*time.Hour)

	token, err := tm.GenerateAdminToken("admin", "admin@example.com")
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, "admin@example.com", claims.Email)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestTokenManager_UniqueJTI(t *testing.T) {
	tm := auth.NewTokenManager("test-secret", time.Hour)

	a, _ := tm.GenerateAdminToken("admin", "admin@example.com")
	b, _ := tm.GenerateAdminToken("admin", "admin@example.com")

	ca, err := tm.ValidateToken(a)
	require.NoError(t, err)
	cb, err := tm.ValidateToken(b)
	require.NoError(t, err)
	assert.NotEqual(t, ca.ID, cb.ID)
}

func TestTokenManager_RejectsWrongType(t *testing.T) {
	claims := &models.AdminClaims{
		Type:     "refresh",
		Username: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = auth.NewTokenManager("test-secret", time.Hour).ValidateToken(signed)
	assert.Error(t, err)
}

func TestTokenManager_RejectsNoneAlgorithm(t *testing.T) {
	claims := &models.AdminClaims{Type: "admin", Username: "admin"}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = auth.NewTokenManager("test-secret", time.Hour).ValidateToken(unsigned)
	assert.Error(t, err)
}
