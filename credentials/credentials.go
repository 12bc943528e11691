// Package credentials seals credential fields at rest with AES-256-GCM under
// a key derived per user with PBKDF2-SHA256.
//
// Sealed values look like
//
//	encrypted:<base64 iv>:<base64 salt>:<base64 ciphertext>
//
// where the ciphertext carries the GCM tag.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	prefix = "encrypted:"

	ivLength   = 12
	saltLength = 16
	keyLength  = 32
	iterations = 100_000
)

var (
	// ErrNoSecret is returned when the Sealer has no application secret.
	ErrNoSecret = errors.New("credentials: encryption secret is not set")

	// ErrInvalidFormat is returned for a value that has the sealed prefix but
	// not the sealed layout.
	ErrInvalidFormat = errors.New("credentials: invalid encrypted data format")

	// ErrDecrypt is returned when authentication fails, eg. a wrong secret,
	// wrong user or tampered value.
	ErrDecrypt = errors.New("credentials: data decryption failed")
)

// IsSealed reports whether v is in the sealed format.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, prefix)
}

// Sealer seals and opens values for a user. The zero value has no secret and
// fails every cryptographic operation with ErrNoSecret.
type Sealer struct {
	Secret string
}

// Seal encrypts plaintext for userID. Empty and already sealed values are
// returned unchanged.
func (s Sealer) Seal(plaintext, userID string) (string, error) {
	if plaintext == "" || IsSealed(plaintext) {
		return plaintext, nil
	}

	iv := make([]byte, ivLength)
	salt := make([]byte, saltLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("credentials: generate iv: %w", err)
	}
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("credentials: generate salt: %w", err)
	}

	gcm, err := s.aead(userID, salt)
	if err != nil {
		return "", err
	}
	ct := gcm.Seal(nil, iv, []byte(plaintext), nil)

	enc := base64.StdEncoding
	return prefix + enc.EncodeToString(iv) + ":" + enc.EncodeToString(salt) + ":" + enc.EncodeToString(ct), nil
}

// Open decrypts a sealed value for userID. Values that are not sealed are
// legacy plaintext and are returned unchanged.
func (s Sealer) Open(value, userID string) (string, error) {
	if value == "" || !IsSealed(value) {
		return value, nil
	}

	parts := strings.Split(value, ":")
	if len(parts) != 4 {
		return "", ErrInvalidFormat
	}

	enc := base64.StdEncoding
	iv, err := enc.DecodeString(parts[1])
	if err != nil || len(iv) != ivLength {
		return "", ErrInvalidFormat
	}
	salt, err := enc.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return "", ErrInvalidFormat
	}
	ct, err := enc.DecodeString(parts[3])
	if err != nil {
		return "", ErrInvalidFormat
	}

	gcm, err := s.aead(userID, salt)
	if err != nil {
		return "", err
	}
	pt, err := gcm.Open(nil, iv, ct, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(pt), nil
}

// Migrate seals value if it is still plaintext. changed reports whether the
// caller should persist the result.
func (s Sealer) Migrate(value, userID string) (sealed string, changed bool, err error) {
	if value == "" || IsSealed(value) {
		return value, false, nil
	}
	sealed, err = s.Seal(value, userID)
	if err != nil {
		return "", false, err
	}
	return sealed, true, nil
}

func (s Sealer) aead(userID string, salt []byte) (cipher.AEAD, error) {
	if s.Secret == "" {
		return nil, ErrNoSecret
	}

	key := pbkdf2.Key([]byte(s.Secret+userID), salt, iterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credentials: create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
