package vault

import (
	"fmt"
	"strings"

	"github.com/99designs/keyring"
	"github.com/google/uuid"
)

const (
	serviceName   = "sendlater"
	keyringPrefix = "kr:"
)

// Keyring keeps credentials in a keyring and stores only "kr:<uuid>"
// references alongside the scheduled email.
type Keyring struct {
	ring keyring.Keyring
}

// NewKeyring wraps an already opened keyring.
func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

// OpenKeyring opens the encrypted file backend rooted at dir.
func OpenKeyring(dir, password string) (*Keyring, error) {
	if dir == "" || password == "" {
		return nil, fmt.Errorf("keyring vault requires KEYRING_DIR and KEYRING_PASSWORD")
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:      serviceName,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          dir,
		FilePasswordFunc: keyring.FixedStringPrompt(password),
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}

	return NewKeyring(ring), nil
}

func (k *Keyring) Seal(credential string) (string, error) {
	ref := uuid.New().String()

	err := k.ring.Set(keyring.Item{
		Key:   ref,
		Data:  []byte(credential),
		Label: "scheduled send credential",
	})
	if err != nil {
		return "", fmt.Errorf("storing credential %s: %w", ref, err)
	}

	return keyringPrefix + ref, nil
}

func (k *Keyring) Open(token string) (string, error) {
	ref, ok := strings.CutPrefix(token, keyringPrefix)
	if !ok || ref == "" {
		return "", ErrMalformedToken
	}

	item, err := k.ring.Get(ref)
	if err != nil {
		return "", fmt.Errorf("getting credential %s: %w", ref, err)
	}

	return string(item.Data), nil
}
