package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-circulation-backend/internal/domain"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)

	for _, actor := range []domain.Actor{domain.StaffActor(7), domain.PatronActor(42)} {
		token, err := tm.GenerateAccessToken(actor)
		require.NoError(t, err)

		claims, err := tm.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, actor, claims.Actor())
		assert.NotEmpty(t, claims.ID)
	}
}

func TestTokenManager_RejectsSystemActor(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)
	_, err := tm.GenerateAccessToken(domain.SystemActor)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestTokenManager_Expired(t *testing.T) {
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tm := &tokenManager{secret: []byte("secret"), ttl: time.Minute, now: func() time.Time { return issued }}
	token, err := tm.GenerateAccessToken(domain.StaffActor(1))
	require.NoError(t, err)

	tm.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = tm.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenManager_WrongSecret(t *testing.T) {
	token, err := NewTokenManager("secret", time.Hour).GenerateAccessToken(domain.StaffActor(1))
	require.NoError(t, err)

	_, err = NewTokenManager("other", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_ForgedRole(t *testing.T) {
	claims := ActorClaims{
		ActorID: 3,
		Role:    domain.ActorSystem,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{accessAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewTokenManager("secret", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrUnknownRole)
}
