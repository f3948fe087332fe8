package auth

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService the keyring service credentials are stored under.
const DefaultKeyringService = "courier"

var (
	keyringGet = keyring.Get
	keyringSet = keyring.Set
	keyringDel = keyring.Delete
)

// KeyringPassword returns the password stored for user under service.
func KeyringPassword(service, user string) (string, error) {
	password, err := keyringGet(service, user)
	if err != nil {
		return "", fmt.Errorf("keyring lookup %s/%s: %w", service, user, err)
	}
	return password, nil
}

// StorePassword saves the password for user under service.
func StorePassword(service, user, password string) error {
	return keyringSet(service, user, password)
}

// DeletePassword removes the password for user under service.
func DeletePassword(service, user string) error {
	return keyringDel(service, user)
}

// NewDigestFromKeyring returns a Digest whose password is read from the keyring.
func NewDigestFromKeyring(service, user string) (*Digest, error) {
	password, err := KeyringPassword(service, user)
	if err != nil {
		return nil, err
	}
	return NewDigest(user, password), nil
}
