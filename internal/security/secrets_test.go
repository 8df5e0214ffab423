package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return []byte("01234567890123456789012345678901")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m, err := NewManager(testKey())
	require.NoError(t, err)

	plaintext := []byte("super-secret-value")
	ciphertext, err := m.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := m.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestNewManagerRejectsWrongKeyLength(t *testing.T) {
	_, err := NewManager([]byte("too-short"))
	assert.Error(t, err)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	m, err := NewManager(testKey())
	require.NoError(t, err)

	ciphertext, err := m.Encrypt([]byte("hello"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = m.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestSealOpenRoundTrip(t *testing.T) {
	m, err := NewManager(testKey())
	require.NoError(t, err)

	secret, err := m.Seal("db-password.default", "generic", []byte("hunter2"), map[string]string{"owner": "platform"})
	require.NoError(t, err)
	assert.Equal(t, "db-password.default", secret.Key)

	plaintext, err := m.Open(secret)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(plaintext))
}

func TestNewManagerFromPasswordRejectsEmpty(t *testing.T) {
	_, err := NewManagerFromPassword("")
	assert.Error(t, err)
}
