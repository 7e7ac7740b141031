package crypto

import (
	"encoding/base64"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordRoundTrip(t *testing.T) {
	h, err := HashPassword("correct horse")
	require.NoError(t, err)
	require.True(t, VerifyPassword("correct horse", h))
	require.False(t, VerifyPassword("correct horse ", h))

	h2, err := HashPassword("correct horse")
	require.NoError(t, err)
	require.NotEqual(t, h, h2, "salt must be random")
}

func TestVerifyPasswordMalformed(t *testing.T) {
	require.False(t, VerifyPassword("x", ""))
	require.False(t, VerifyPassword("x", "not base64!"))
	require.False(t, VerifyPassword("x", base64.StdEncoding.EncodeToString([]byte("short"))))
}

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("master-secret")
	require.NoError(t, err)

	for _, p := range []string{"", "admin", "abcd efgh ijkl mnop", "ünïcødé ✓"} {
		a, err := c.Encrypt(p)
		require.NoError(t, err)
		b, err := c.Encrypt(p)
		require.NoError(t, err)
		require.NotEqual(t, a, b)

		got, err := c.Decrypt(a)
		require.NoError(t, err)
		require.Equal(t, p, got)
	}
}

func TestCipherRejectsTamperingAndWrongKey(t *testing.T) {
	c, err := NewCipher("master-secret")
	require.NoError(t, err)
	other, err := NewCipher("another-secret")
	require.NoError(t, err)

	ct, err := c.Encrypt("hunter2")
	require.NoError(t, err)

	_, err = other.Decrypt(ct)
	require.ErrorIs(t, err, ErrDecrypt)

	raw, _ := base64.StdEncoding.DecodeString(ct)
	raw[len(raw)-1] ^= 0x01
	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(raw))
	require.ErrorIs(t, err, ErrDecrypt)

	raw[0] = 0x02
	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(raw))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = c.Decrypt("%%%")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestCipherConcurrentUse(t *testing.T) {
	c, err := NewCipher("master-secret")
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ct, err := c.Encrypt("pw")
			assert.NoError(t, err)
			pt, err := c.Decrypt(ct)
			assert.NoError(t, err)
			assert.Equal(t, "pw", pt)
		}()
	}
	wg.Wait()
}

func TestNewCipherRequiresSecret(t *testing.T) {
	_, err := NewCipher("")
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestHMAC(t *testing.T) {
	sig := SignHMAC([]byte("1700000000.{}"), "whsec_x")
	require.Len(t, sig, 64)
	require.True(t, VerifyHMAC([]byte("1700000000.{}"), "whsec_x", sig))
	require.False(t, VerifyHMAC([]byte("1700000001.{}"), "whsec_x", sig))
	require.False(t, VerifyHMAC([]byte("1700000000.{}"), "whsec_y", sig))
	require.False(t, VerifyHMAC([]byte("1700000000.{}"), "whsec_x", "zz"))
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(32)
	require.NoError(t, err)
	b := MustRandomToken(32)
	require.Len(t, a, 43)
	require.NotEqual(t, a, b)
	require.NotContains(t, a, "+")
	require.NotContains(t, a, "/")
	require.NotContains(t, a, "=")
}
