package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/classline/classline/internal/models"
)

func testUser(id, role string) *models.User {
	user := &models.User{Name: "Test", Email: id + "@example.com", Role: role}
	user.ID = id
	return user
}

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.Error(t, err)
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	service, err := NewJWTService(JWTConfig{Secret: "test-secret", Issuer: "classline"})
	require.NoError(t, err)

	token, err := service.GenerateAccessToken(testUser("user-1", models.RoleTeacher))
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := service.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, models.RoleTeacher, claims.Role)
	require.Equal(t, "classline", claims.Issuer)
}

func TestGenerateAccessTokenRequiresUser(t *testing.T) {
	service, err := NewJWTService(JWTConfig{Secret: "test-secret"})
	require.NoError(t, err)

	_, err = service.GenerateAccessToken(nil)
	require.Error(t, err)

	_, err = service.GenerateAccessToken(&models.User{})
	require.Error(t, err)
}

func TestValidateAccessTokenRejectsExpired(t *testing.T) {
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := issued

	service, err := NewJWTService(JWTConfig{
		Secret:         "test-secret",
		AccessTokenTTL: time.Hour,
		Clock:          func() time.Time { return clock },
	})
	require.NoError(t, err)

	token, err := service.GenerateAccessToken(testUser("user-1", models.RoleParent))
	require.NoError(t, err)

	clock = issued.Add(30 * time.Minute)
	_, err = service.ValidateAccessToken(token)
	require.NoError(t, err)

	clock = issued.Add(2 * time.Hour)
	_, err = service.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestValidateAccessTokenRejectsWrongIssuer(t *testing.T) {
	issuing, err := NewJWTService(JWTConfig{Secret: "test-secret", Issuer: "someone-else"})
	require.NoError(t, err)
	validating, err := NewJWTService(JWTConfig{Secret: "test-secret", Issuer: "classline"})
	require.NoError(t, err)

	token, err := issuing.GenerateAccessToken(testUser("user-1", models.RoleParent))
	require.NoError(t, err)

	_, err = validating.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestValidateAccessTokenRejectsTampered(t *testing.T) {
	service, err := NewJWTService(JWTConfig{Secret: "test-secret"})
	require.NoError(t, err)
	other, err := NewJWTService(JWTConfig{Secret: "different-secret"})
	require.NoError(t, err)

	token, err := other.GenerateAccessToken(testUser("user-1", models.RoleParent))
	require.NoError(t, err)

	_, err = service.ValidateAccessToken(token)
	require.Error(t, err)

	_, err = service.ValidateAccessToken("")
	require.Error(t, err)

	_, err = service.ValidateAccessToken("not.a.jwt")
	require.Error(t, err)
}
