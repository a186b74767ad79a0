package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/env"
)

const (
	ivLength      = 12
	authTagLength = 16
)

// ErrDecryption is returned for malformed or tampered ciphertext.
var ErrDecryption = errors.New("decryption failed")

var encryptionKey []byte

// SetupVault loads the process-wide encryption key from APP_ENCRYPTION_KEY
// (64 hex chars, 32 bytes). A missing or malformed key is a startup error.
func SetupVault() {
	raw := strings.TrimSpace(env.GetEnv("APP_ENCRYPTION_KEY", ""))
	if raw == "" {
		panic("APP_ENCRYPTION_KEY is not set")
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		panic(fmt.Sprintf("APP_ENCRYPTION_KEY is not valid hex: %v", err))
	}
	if len(key) != 32 {
		panic("APP_ENCRYPTION_KEY must be exactly 32 bytes (64 hex characters)")
	}
	encryptionKey = key
}

func gcmCipher() (cipher.AEAD, error) {
	if len(encryptionKey) == 0 {
		return nil, errors.New("encryption key is not initialized, call SetupVault first")
	}
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivLength)
}

// Encrypt encrypts a plaintext string with AES-256-GCM and returns a hex
// blob in the format iv:authTag:ciphertext.
func Encrypt(plaintext string) (string, error) {
	gcm, err := gcmCipher()
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	// Seal appends the auth tag to the ciphertext; split it back out so the
	// stored format stays iv:tag:cipher.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	if len(sealed) < authTagLength {
		return "", errors.New("unexpected sealed length")
	}
	ciphertext := sealed[:len(sealed)-authTagLength]
	authTag := sealed[len(sealed)-authTagLength:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(authTag),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt reverses Encrypt. Any malformed or tampered blob yields
// ErrDecryption, never incorrect plaintext.
func Decrypt(blob string) (string, error) {
	gcm, err := gcmCipher()
	if err != nil {
		return "", err
	}

	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: invalid format", ErrDecryption)
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivLength {
		return "", fmt.Errorf("%w: invalid iv", ErrDecryption)
	}
	authTag, err := hex.DecodeString(parts[1])
	if err != nil || len(authTag) != authTagLength {
		return "", fmt.Errorf("%w: invalid auth tag", ErrDecryption)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext", ErrDecryption)
	}

	plaintext, err := gcm.Open(nil, iv, append(ciphertext, authTag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryption)
	}
	return string(plaintext), nil
}

// Redact returns the last 4 characters of a secret for safe display.
func Redact(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
