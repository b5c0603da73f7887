package client

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const keyringService = "sendlater-cli"

// ErrNoToken is returned when no access token has been stored for a user.
var ErrNoToken = errors.New("no access token stored; run `sendlater login` first")

// TokenStore keeps per-user Gmail access tokens in the OS keyring.
type TokenStore struct {
	ring keyring.Keyring
}

func NewTokenStore(ring keyring.Keyring) *TokenStore {
	return &TokenStore{ring: ring}
}

// OpenTokenStore opens the platform keyring, falling back to an encrypted
// file under dir.
func OpenTokenStore(dir, filePassword string) (*TokenStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(filePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &TokenStore{ring: ring}, nil
}

func (s *TokenStore) Get(userEmail string) (string, error) {
	item, err := s.ring.Get(userEmail)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("getting token for %q: %w", userEmail, err)
	}
	return string(item.Data), nil
}

func (s *TokenStore) Set(userEmail, token string) error {
	err := s.ring.Set(keyring.Item{
		Key:   userEmail,
		Data:  []byte(token),
		Label: "SendLater access token",
	})
	if err != nil {
		return fmt.Errorf("setting token for %q: %w", userEmail, err)
	}
	return nil
}

func (s *TokenStore) Delete(userEmail string) error {
	if err := s.ring.Remove(userEmail); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting token for %q: %w", userEmail, err)
	}
	return nil
}
