// Package security provides AES-256-GCM encryption for Secret payloads
// at rest; plaintext never reaches the store or the API response body.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/cuemby/fleetd/internal/types"
)

// Manager encrypts and decrypts Secret data with a single 32-byte key.
type Manager struct {
	encryptionKey []byte
}

// NewManager returns a Manager using key, which must be 32 bytes
// (AES-256).
func NewManager(key []byte) (*Manager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}
	return &Manager{encryptionKey: key}, nil
}

// NewManagerFromPassword derives a 32-byte key from password via SHA-256.
func NewManagerFromPassword(password string) (*Manager, error) {
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	hash := sha256.Sum256([]byte(password))
	return NewManager(hash[:])
}

// Encrypt encrypts plaintext with AES-256-GCM, prepending the nonce.
func (m *Manager) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot encrypt empty data")
	}

	block, err := aes.NewCipher(m.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt; ciphertext must carry its nonce prefix.
func (m *Manager) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("cannot decrypt empty data")
	}

	block, err := aes.NewCipher(m.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

// Seal builds a Secret with data encrypted under m.
func (m *Manager) Seal(key, kind string, plaintext []byte, metadata map[string]string) (*types.Secret, error) {
	if key == "" {
		return nil, fmt.Errorf("secret key cannot be empty")
	}
	encrypted, err := m.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypting secret %s: %w", key, err)
	}
	return &types.Secret{
		Key:      key,
		Kind:     kind,
		Data:     encrypted,
		Metadata: metadata,
	}, nil
}

// Open decrypts and returns a Secret's plaintext payload.
func (m *Manager) Open(secret *types.Secret) ([]byte, error) {
	if secret == nil {
		return nil, fmt.Errorf("secret cannot be nil")
	}
	return m.Decrypt(secret.Data)
}
