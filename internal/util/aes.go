package util

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

const (
	AESKeySize = 32
	GCMTagSize = 16
)

// SealGCM encrypts plainText with AES-256-GCM under the caller-supplied nonce
// and returns the ciphertext and the authentication tag separately. The nonce
// length selects the GCM nonce size.
func SealGCM(plainText, rawKey, nonce, aad []byte) (cipherText, tag []byte, err error) {
	gcm, err := newGCM(rawKey, len(nonce))
	if err != nil {
		return nil, nil, err
	}

	sealed := gcm.Seal(nil, nonce, plainText, aad)
	split := len(sealed) - gcm.Overhead()
	return sealed[:split], sealed[split:], nil
}

// OpenGCM verifies tag over cipherText and aad and only then returns the
// plaintext. No plaintext is returned when verification fails.
func OpenGCM(cipherText, tag, rawKey, nonce, aad []byte) ([]byte, error) {
	gcm, err := newGCM(rawKey, len(nonce))
	if err != nil {
		return nil, err
	}
	if len(tag) != gcm.Overhead() {
		return nil, fmt.Errorf("invalid tag size: got %d, want %d", len(tag), gcm.Overhead())
	}

	sealed := make([]byte, 0, len(cipherText)+len(tag))
	sealed = append(sealed, cipherText...)
	sealed = append(sealed, tag...)

	plainText, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}
	return plainText, nil
}

func newGCM(rawKey []byte, nonceSize int) (cipher.AEAD, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
