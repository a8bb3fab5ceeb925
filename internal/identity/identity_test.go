package identity

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(Config{SecretKey: "test-secret", TokenTTL: time.Hour, Issuer: "wastewatch"})
	require.NoError(t, err)
	return a
}

func TestNewAuthenticator_RequiresSecret(t *testing.T) {
	_, err := NewAuthenticator(Config{})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestIssueAndValidate(t *testing.T) {
	a := newTestAuthenticator(t)

	token, err := a.IssueToken("dispatcher-7", domain.RoleOperator)
	require.NoError(t, err)

	subject, role, err := a.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "dispatcher-7", subject)
	assert.Equal(t, domain.RoleOperator, role)
}

func TestIssueToken_InvalidRole(t *testing.T) {
	a := newTestAuthenticator(t)

	_, err := a.IssueToken("x", domain.Role("root"))
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestValidateToken_Rejects(t *testing.T) {
	a := newTestAuthenticator(t)

	t.Run("expired", func(t *testing.T) {
		issued := time.Now().Add(-2 * time.Hour)
		a.now = func() time.Time { return issued }
		token, err := a.IssueToken("x", domain.RoleViewer)
		require.NoError(t, err)
		a.now = time.Now

		_, _, err = a.ValidateToken(context.Background(), token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewAuthenticator(Config{SecretKey: "other", Issuer: "wastewatch"})
		require.NoError(t, err)
		token, err := other.IssueToken("x", domain.RoleAdmin)
		require.NoError(t, err)

		_, _, err = a.ValidateToken(context.Background(), token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: domain.RoleAdmin}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, _, err = a.ValidateToken(context.Background(), token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := a.ValidateToken(context.Background(), "not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
