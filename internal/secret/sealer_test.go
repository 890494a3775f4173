package secret

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) string {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(b)
}

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer(testKey(t))
	require.NoError(t, err)
	assert.True(t, s.Encrypting())

	sealed, err := s.Seal("hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "xc1:"))
	assert.NotContains(t, sealed, "hunter2")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestSealer_WrongKey(t *testing.T) {
	a, err := NewSealer(testKey(t))
	require.NoError(t, err)
	b, err := NewSealer(testKey(t))
	require.NoError(t, err)

	sealed, err := a.Seal("secret")
	require.NoError(t, err)
	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrOpen)

	noKey, err := NewSealer("")
	require.NoError(t, err)
	_, err = noKey.Open(sealed)
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestSealer_NoKey(t *testing.T) {
	s, err := NewSealer("")
	require.NoError(t, err)
	assert.False(t, s.Encrypting())

	sealed, err := s.Seal("pw")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "plain:"))

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "pw", plain)

	// 历史明文
	plain, err = s.Open("legacy")
	require.NoError(t, err)
	assert.Equal(t, "legacy", plain)
}

func TestNewSealer_BadKey(t *testing.T) {
	_, err := NewSealer("not-base64!!")
	assert.Error(t, err)
	_, err = NewSealer(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestNewDeviceToken(t *testing.T) {
	a, err := NewDeviceToken()
	require.NoError(t, err)
	b, err := NewDeviceToken()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestSealer_Tampered(t *testing.T) {
	s, err := NewSealer(testKey(t))
	require.NoError(t, err)
	sealed, err := s.Seal("secret")
	require.NoError(t, err)

	blob, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, "xc1:"))
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff
	_, err = s.Open("xc1:" + base64.StdEncoding.EncodeToString(blob))
	assert.ErrorIs(t, err, ErrOpen)

	// 每次加密使用新 nonce
	again, err := s.Seal("secret")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again)
}
