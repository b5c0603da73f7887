package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "v1."

// Sealed encrypts credentials with XChaCha20-Poly1305. Tokens have the form
// "v1." + base64url(nonce || ciphertext).
type Sealed struct {
	aead cipher.AEAD
}

// NewSealed creates a Sealed vault from a 32 byte key.
func NewSealed(key []byte) (*Sealed, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating sealed vault: %w", err)
	}
	return &Sealed{aead: aead}, nil
}

// NewSealedFromKey decodes a base64 (standard or URL alphabet) key.
func NewSealedFromKey(encoded string) (*Sealed, error) {
	if encoded == "" {
		return nil, fmt.Errorf("sealed vault requires VAULT_KEY")
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		key, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("decoding vault key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("vault key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}

	return NewSealed(key)
}

func (s *Sealed) Seal(credential string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(credential)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(credential), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (s *Sealed) Open(token string) (string, error) {
	encoded, ok := strings.CutPrefix(token, sealedPrefix)
	if !ok {
		return "", ErrMalformedToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	ns := s.aead.NonceSize()
	if len(raw) < ns+s.aead.Overhead() {
		return "", ErrMalformedToken
	}

	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("opening credential: %w", err)
	}
	return string(plain), nil
}
