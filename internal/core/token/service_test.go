package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestIssueAndDecode(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	svc := NewWithClock(at(now))

	tk, err := svc.IssueToken("D1", "secret", time.Minute, "client-1")
	require.NoError(t, err)
	assert.NotEmpty(t, tk.AccessToken)
	assert.Equal(t, 60, tk.ExpireIn)

	claims, err := svc.DecodeToken(tk.AccessToken, "secret")
	require.NoError(t, err)
	assert.Equal(t, "D1", claims.Subject)
	assert.Equal(t, "client-1", claims.ClientID)
	assert.Equal(t, now.Add(time.Minute).Unix(), claims.ExpiresAt.Unix())
}

func TestDecodeExpired(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	tk, err := NewWithClock(at(now)).IssueToken("D1", "secret", time.Minute, "")
	require.NoError(t, err)

	later := NewWithClock(at(now.Add(2 * time.Minute)))

	_, err = later.DecodeToken(tk.AccessToken, "secret")
	assert.ErrorIs(t, err, ErrExpiredToken)

	claims, err := later.DecodeTokenWithError(tk.AccessToken, "secret")
	assert.ErrorIs(t, err, ErrExpiredToken)
	require.NotNil(t, claims)
	assert.Equal(t, "D1", claims.Subject)
}

func TestDecodeInvalid(t *testing.T) {
	svc := New()
	tk, err := svc.IssueToken("D1", "secret", time.Hour, "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"other secret", tk.AccessToken, "other"},
		{"other algorithm", tk.AccessToken, "HS512:secret"},
		{"garbage", "not-a-token", "secret"},
		{"empty token", "", "secret"},
		{"empty secret", tk.AccessToken, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := svc.DecodeTokenWithError(tt.token, tt.secret)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Nil(t, claims)
		})
	}
}

func TestAlgorithmPrefix(t *testing.T) {
	svc := New()
	for _, secret := range []string{"HS256:k", "HS384:k", "HS512:k", "plain:with:colons"} {
		tk, err := svc.IssueToken("D9", secret, time.Hour, "")
		require.NoError(t, err, secret)

		claims, err := svc.DecodeToken(tk.AccessToken, secret)
		require.NoError(t, err, secret)
		assert.Equal(t, "D9", claims.Subject)
	}
}

func TestIssueRequiresSubjectAndSecret(t *testing.T) {
	svc := New()
	_, err := svc.IssueToken("", "secret", time.Hour, "")
	assert.Error(t, err)
	_, err = svc.IssueToken("D1", "", time.Hour, "")
	assert.Error(t, err)
}
