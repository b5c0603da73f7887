package vault

import (
	"encoding/base64"
	"fmt"
)

// Base64 stores credentials as standard base64. This is obfuscation, not
// encryption; prefer Sealed or Keyring outside development.
type Base64 struct{}

func (Base64) Seal(credential string) (string, error) {
	return base64.StdEncoding.EncodeToString([]byte(credential)), nil
}

func (Base64) Open(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return string(raw), nil
}
