package privilege

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartgate/chartgate/internal/clock"
)

var testNow = time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

func newTestGuard(t *testing.T, secret string) (*Guard, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(testNow)
	guard, err := NewGuard(Config{
		Secret:     secret,
		SigningKey: []byte("test-signing-key-0123456789abcdef"),
	}, clk)
	require.NoError(t, err)
	return guard, clk
}

func TestGuard_CheckSecret(t *testing.T) {
	guard, _ := newTestGuard(t, "s3cret")

	assert.True(t, guard.Enabled())
	assert.True(t, guard.CheckSecret("s3cret"))
	assert.False(t, guard.CheckSecret("S3CRET"))
	assert.False(t, guard.CheckSecret("s3cret "))
	assert.False(t, guard.CheckSecret(""))
}

func TestGuard_CheckSecret_Disabled(t *testing.T) {
	guard, _ := newTestGuard(t, "")

	assert.False(t, guard.Enabled())
	assert.False(t, guard.CheckSecret(""))
	assert.False(t, guard.CheckSecret("anything"))
}

func TestGuard_Issue(t *testing.T) {
	guard, _ := newTestGuard(t, "s3cret")

	token, err := guard.Issue()
	require.NoError(t, err)

	assert.NotEmpty(t, token.Value)
	assert.Equal(t, testNow.Add(24*time.Hour), token.ExpiresAt)
	assert.Equal(t, DefaultTokenTTL, guard.TTL())
	assert.NoError(t, guard.Verify(token.Value))
	assert.True(t, guard.Privileged(token.Value))
}

func TestGuard_IssueUniqueTokens(t *testing.T) {
	guard, _ := newTestGuard(t, "s3cret")

	a, err := guard.Issue()
	require.NoError(t, err)
	b, err := guard.Issue()
	require.NoError(t, err)

	assert.NotEqual(t, a.Value, b.Value)
}

func TestGuard_Verify(t *testing.T) {
	t.Run("valid until expiry", func(t *testing.T) {
		guard, clk := newTestGuard(t, "s3cret")
		token, err := guard.Issue()
		require.NoError(t, err)

		clk.Advance(24*time.Hour - time.Second)
		assert.NoError(t, guard.Verify(token.Value))

		clk.Advance(time.Second)
		assert.ErrorIs(t, guard.Verify(token.Value), ErrTokenExpired)
		assert.False(t, guard.Privileged(token.Value))
	})

	t.Run("rejects empty value", func(t *testing.T) {
		guard, _ := newTestGuard(t, "s3cret")
		assert.ErrorIs(t, guard.Verify(""), ErrInvalidToken)
	})

	t.Run("rejects legacy literal cookie value", func(t *testing.T) {
		guard, _ := newTestGuard(t, "s3cret")
		assert.ErrorIs(t, guard.Verify("true"), ErrInvalidToken)
	})

	t.Run("rejects tampered token", func(t *testing.T) {
		guard, _ := newTestGuard(t, "s3cret")
		token, err := guard.Issue()
		require.NoError(t, err)

		tampered := token.Value[:len(token.Value)-2] + "xx"
		assert.ErrorIs(t, guard.Verify(tampered), ErrInvalidToken)
	})

	t.Run("rejects token signed with another key", func(t *testing.T) {
		guard, _ := newTestGuard(t, "s3cret")
		other, err := NewGuard(Config{Secret: "s3cret"}, clock.NewManual(testNow))
		require.NoError(t, err)

		token, err := other.Issue()
		require.NoError(t, err)

		assert.ErrorIs(t, guard.Verify(token.Value), ErrInvalidToken)
	})

	t.Run("rejects unsigned token", func(t *testing.T) {
		guard, _ := newTestGuard(t, "s3cret")

		claims := jwt.RegisteredClaims{
			Subject:   operatorSubject,
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		}
		value, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		assert.ErrorIs(t, guard.Verify(value), ErrInvalidToken)
	})

	t.Run("rejects foreign subject", func(t *testing.T) {
		guard, _ := newTestGuard(t, "s3cret")

		claims := jwt.RegisteredClaims{
			Subject:   "someone-else",
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		}
		value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(guard.key)
		require.NoError(t, err)

		assert.ErrorIs(t, guard.Verify(value), ErrInvalidToken)
	})

	t.Run("rejects token without expiry", func(t *testing.T) {
		guard, _ := newTestGuard(t, "s3cret")

		claims := jwt.RegisteredClaims{Subject: operatorSubject}
		value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(guard.key)
		require.NoError(t, err)

		assert.ErrorIs(t, guard.Verify(value), ErrTokenExpired)
	})
}

func TestNewGuard_Defaults(t *testing.T) {
	guard, err := NewGuard(Config{Secret: "s3cret", TokenTTL: -time.Minute}, nil)
	require.NoError(t, err)

	assert.Len(t, guard.key, 32)
	assert.Equal(t, DefaultTokenTTL, guard.TTL())

	token, err := guard.Issue()
	require.NoError(t, err)
	assert.True(t, guard.Privileged(token.Value))
}
