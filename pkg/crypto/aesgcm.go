package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidAESKeySize   = errors.New("invalid AES key size")
	ErrCiphertextTooShort  = errors.New("ciphertext too short, cannot extract nonce")
	ErrValueDecryptionFail = errors.New("stored value decryption failed")
)

const (
	// AES-256 requires a 32-byte key.
	aes256KeyBytes = 32
	// GCM standard nonce size.
	gcmNonceSizeBytes = 12
)

func newGCM(aesKeyHex string) (cipher.AEAD, error) {
	key, err := hex.DecodeString(aesKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode AES key from hex: %w", err)
	}
	if len(key) != aes256KeyBytes {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAESKeySize, aes256KeyBytes, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher block: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return aesgcm, nil
}

// ValidateAESKey checks that aesKeyHex is a hex encoded 32-byte key.
func ValidateAESKey(aesKeyHex string) error {
	_, err := newGCM(aesKeyHex)
	return err
}

// EncryptAESGCM seals plaintext with a random nonce. The result is nonce (12 bytes) + ciphertext.
func EncryptAESGCM(aesKeyHex string, plaintext []byte) ([]byte, error) {
	aesgcm, err := newGCM(aesKeyHex)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcmNonceSizeBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptAESGCM opens a value produced by EncryptAESGCM.
func DecryptAESGCM(aesKeyHex string, sealed []byte) ([]byte, error) {
	aesgcm, err := newGCM(aesKeyHex)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcmNonceSizeBytes {
		return nil, fmt.Errorf("%w: length %d, minimum %d", ErrCiphertextTooShort, len(sealed), gcmNonceSizeBytes)
	}

	nonce := sealed[:gcmNonceSizeBytes]
	ciphertext := sealed[gcmNonceSizeBytes:]

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// Usually "cipher: message authentication failed", i.e. wrong key or tampered value.
		return nil, ErrValueDecryptionFail
	}
	return plaintext, nil
}
