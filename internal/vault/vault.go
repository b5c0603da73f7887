// Package vault turns a user's bearer credential into an opaque token that can
// be stored next to a scheduled email, and recovers it at dispatch time.
//
// Three implementations share the Vault interface:
//
//   - Base64 reversibly encodes the credential. It matches the historical
//     storage format and offers obfuscation only: anyone who can read the
//     store can recover the live credential.
//   - Sealed encrypts with XChaCha20-Poly1305 under a key held in the
//     process configuration, away from the data.
//   - Keyring keeps the credential out of the store entirely and persists
//     only a reference to a keyring item.
package vault

import (
	"errors"
	"fmt"
)

// ErrMalformedToken is returned when a stored token cannot be decoded.
var ErrMalformedToken = errors.New("vault: malformed credential token")

// Vault seals credentials for storage and opens them for use.
type Vault interface {
	Seal(credential string) (string, error)
	Open(token string) (string, error)
}

// Mode names a Vault implementation in configuration.
type Mode string

const (
	ModeBase64  Mode = "base64"
	ModeSealed  Mode = "sealed"
	ModeKeyring Mode = "keyring"
)

// Options configures New.
type Options struct {
	Mode Mode

	// Key is the base64-encoded 32 byte key for ModeSealed.
	Key string

	// KeyringDir and KeyringPassword configure the file backend for ModeKeyring.
	KeyringDir      string
	KeyringPassword string
}

// New builds the Vault selected by opts.Mode.
func New(opts Options) (Vault, error) {
	switch opts.Mode {
	case "", ModeBase64:
		return Base64{}, nil
	case ModeSealed:
		return NewSealedFromKey(opts.Key)
	case ModeKeyring:
		return OpenKeyring(opts.KeyringDir, opts.KeyringPassword)
	}
	return nil, fmt.Errorf("unknown vault mode %q", opts.Mode)
}
