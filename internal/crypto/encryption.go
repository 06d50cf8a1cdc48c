package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// EncryptionService encrypts secret values at rest. Each secret scope gets
// its own key derived from the master key, so a leaked scope key cannot
// decrypt another scope's values.
type EncryptionService struct {
	masterKey []byte
}

// NewEncryptionService creates an encryption service from a 32-byte
// hex-encoded master key (64 characters).
func NewEncryptionService(masterKeyHex string) (*EncryptionService, error) {
	if masterKeyHex == "" {
		return nil, errors.New("encryption master key is required")
	}

	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid master key format (must be hex): %w", err)
	}
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (64 hex characters), got %d bytes", len(masterKey))
	}

	return &EncryptionService{masterKey: masterKey}, nil
}

// deriveScopeKey derives the encryption key for a secret scope using HKDF.
// scope is "<scope_type>:<scope_id>" ("global:" for global secrets).
func (e *EncryptionService) deriveScopeKey(scope string) ([]byte, error) {
	if scope == "" {
		return nil, errors.New("scope is required for key derivation")
	}

	hkdfReader := hkdf.New(sha256.New, e.masterKey, []byte(scope), []byte("breadcrumbd-secret-encryption"))

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, fmt.Errorf("failed to derive scope key: %w", err)
	}
	return key, nil
}

// Encrypt encrypts plaintext with AES-256-GCM under the scope's derived key
// and returns base64 ciphertext with the nonce prepended.
func (e *EncryptionService) Encrypt(scope string, plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}

	key, err := e.deriveScopeKey(scope)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt for the same scope
func (e *EncryptionService) Decrypt(scope string, ciphertextB64 string) ([]byte, error) {
	if ciphertextB64 == "" {
		return nil, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	key, err := e.deriveScopeKey(scope)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptString is a convenience wrapper for string values
func (e *EncryptionService) EncryptString(scope, plaintext string) (string, error) {
	return e.Encrypt(scope, []byte(plaintext))
}

// DecryptString is a convenience wrapper for string values
func (e *EncryptionService) DecryptString(scope, ciphertext string) (string, error) {
	plaintext, err := e.Decrypt(scope, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// GenerateMasterKey generates a new random 32-byte master key (for setup)
func GenerateMasterKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
