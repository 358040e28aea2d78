package credential

import (
	"bytes"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsort/internal/model"
)

func testKey() []byte {
	return bytes.Repeat([]byte{7}, 32)
}

func TestCipherSealsCredentials(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	creds := model.Credentials{
		Host: "imap.example.com", Port: "993", TLS: true,
		Username: "agent", Password: "hunter2",
		Expiry: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	ct, err := c.SealCredentials(creds)
	require.NoError(t, err)
	assert.NotContains(t, ct, "hunter2")

	got, err := c.OpenCredentials(ct)
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestCipherNonceIsRandom(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	a, err := c.EncryptString("sk-test")
	require.NoError(t, err)
	b, err := c.EncryptString("sk-test")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCipherRejectsTamperingAndWrongKey(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)
	ct, err := c.EncryptString("secret")
	require.NoError(t, err)

	other, err := NewCipher(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	_, err = other.DecryptString(ct)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = c.DecryptString("not base64!")
	assert.ErrorIs(t, err, ErrDecrypt)
	_, err = c.DecryptString("")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNewCipherRejectsShortKey(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.Error(t, err)
	_, err = NewCipherFromBase64("%%%")
	assert.Error(t, err)
}

func TestMasterKeyGeneratedOnce(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)

	first, err := MasterKey(ring)
	require.NoError(t, err)
	assert.Len(t, first, 32)

	second, err := MasterKey(ring)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, Delete(ring))
	third, err := MasterKey(ring)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}
