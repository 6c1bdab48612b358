package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/codexam/internal/config"
	"github.com/stretchr/testify/require"
)

func newTestAuth(at time.Time) *AuthService {
	s := NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour, BcryptCost: 4})
	s.now = func() time.Time { return at }
	return s
}

func TestSessionTokenOutlivesLongExam(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	auth := newTestAuth(now)
	sessionID, studentID := uuid.New(), uuid.New()
	deadline := now.Add(3 * time.Hour)

	token, err := auth.GenerateSessionToken(sessionID, studentID, deadline)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, TokenTypeSession, claims.TokenType)
	require.Equal(t, sessionID, claims.SessionID)
	require.Equal(t, studentID, claims.StudentID)
	require.Equal(t, deadline.Add(sessionTokenSlack).Unix(), claims.ExpiresAt.Unix())

	auth.now = func() time.Time { return deadline.Add(sessionTokenSlack + time.Minute) }
	_, err = auth.ValidateToken(token)
	require.Error(t, err)
}

func TestSessionTokenShortExamUsesConfiguredExpiry(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	auth := newTestAuth(now)

	token, err := auth.GenerateSessionToken(uuid.New(), uuid.New(), now.Add(10*time.Minute))
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
}

func TestAdminTokenRejectsOtherSecret(t *testing.T) {
	now := time.Now()
	auth := newTestAuth(now)
	token, err := auth.GenerateAdminToken(7)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, TokenTypeAdmin, claims.TokenType)
	require.Equal(t, 7, claims.AdminID)

	other := NewAuthService(&config.Config{JWTSecret: "other", JWTExpiry: time.Hour})
	_, err = other.ValidateToken(token)
	require.Error(t, err)
}

func TestPasswordRoundTrip(t *testing.T) {
	auth := newTestAuth(time.Now())
	hash, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	require.NoError(t, auth.CheckPassword(hash, "hunter22"))
	require.ErrorIs(t, auth.CheckPassword(hash, "hunter23"), ErrInvalidCredentials)
}
