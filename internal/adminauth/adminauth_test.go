package adminauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPassword(t *testing.T) {
	a := New("correct-password", "sign-secret", time.Hour)

	assert.NoError(t, a.CheckPassword("correct-password"))
	assert.ErrorIs(t, a.CheckPassword("wrong"), ErrInvalidCredentials)
}

func TestIssueAndValidateSession(t *testing.T) {
	a := New("correct-password", "sign-secret", time.Hour)

	token, expiresAt, err := a.IssueSession()
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := a.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, Subject, claims.Subject)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	a := New("correct-password", "sign-secret", time.Hour)
	other := New("correct-password", "different-secret", time.Hour)

	token, _, err := a.IssueSession()
	require.NoError(t, err)

	_, err = other.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	a := New("correct-password", "sign-secret", -time.Minute)

	token, _, err := a.IssueSession()
	require.NoError(t, err)

	_, err = a.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	a := New("correct-password", "sign-secret", time.Hour)

	_, err := a.ValidateToken(context.Background(), "not-a-jwt")
	assert.Error(t, err)
}

func TestValidateTokenAcceptsRawPassword(t *testing.T) {
	a := New("correct-password", "sign-secret", time.Hour)

	claims, err := a.ValidateToken(context.Background(), "correct-password")
	require.NoError(t, err)
	assert.Equal(t, Subject, claims.Subject)
}

func TestValidateTokenRejectsWrongRawPassword(t *testing.T) {
	a := New("correct-password", "sign-secret", time.Hour)

	_, err := a.ValidateToken(context.Background(), "wrong-password")
	assert.Error(t, err)
}
