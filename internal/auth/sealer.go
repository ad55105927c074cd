package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sealPrefix marks a value produced by Seal. Values without it are treated as
// plaintext, so a database written before a key was configured stays readable.
const sealPrefix = "v1:"

// CredentialSealer encrypts OAuth credentials before they reach the database.
//
// WHY ENCRYPT TOKENS AT REST?
// Access and refresh tokens let anyone read a user's WakaTime data. Unlike
// passwords they cannot be hashed, since the sync job must present them to
// WakaTime. They are sealed with an AEAD instead. A stolen database file
// is useless without CREDENTIAL_KEY.
//
// XChaCha20-Poly1305 is used because its 24-byte nonce can be drawn at random
// for every value without any realistic risk of reuse.
type CredentialSealer struct {
	key []byte
}

// NewCredentialSealer derives the AEAD key from secret with HKDF-SHA256.
func NewCredentialSealer(secret string) (*CredentialSealer, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: credential key must be at least 16 characters")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("coding-leaderboard credentials v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("auth: deriving credential key: %w", err)
	}
	return &CredentialSealer{key: key}, nil
}

// Seal encrypts plaintext. The empty string stays empty so "no refresh token"
// keeps its meaning in the database.
func (s *CredentialSealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("auth: creating cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("auth: generating nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Unprefixed values are returned unchanged.
func (s *CredentialSealer) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealPrefix) {
		return value, nil
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealPrefix))
	if err != nil {
		return "", fmt.Errorf("auth: decoding sealed credential: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("auth: creating cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("auth: sealed credential too short")
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("auth: opening sealed credential: %w", err)
	}
	return string(plaintext), nil
}
