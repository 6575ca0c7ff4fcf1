package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", 1)
	userID := uuid.New()

	token, err := svc.Generate(userID, "dana@example.com", "teacher")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "dana@example.com", claims.Email)
	assert.Equal(t, "teacher", claims.Role)
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a", 1).Generate(uuid.New(), "x@example.com", "student")
	require.NoError(t, err)

	_, err = NewJWTService("secret-b", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTRejectsGarbage(t *testing.T) {
	svc := NewJWTService("test-secret", 1)
	_, err := svc.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
