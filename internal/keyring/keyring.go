// Package keyring caches image passwords in the OS keyring, keyed by the
// image ID from the catalog so a renamed image keeps its entry.
package keyring

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const serviceName = "lockimg"

// ErrNotFound is returned when no password is stored for an image.
var ErrNotFound = keyring.ErrNotFound

// SavePassword stores a password in the OS keyring
func SavePassword(imageID string, password string) error {
	return keyring.Set(serviceName, imageID, password)
}

// GetPassword retrieves a password from the OS keyring
func GetPassword(imageID string) (string, error) {
	return keyring.Get(serviceName, imageID)
}

// DeletePassword removes a password from the OS keyring
func DeletePassword(imageID string) error {
	return keyring.Delete(serviceName, imageID)
}

// HasPassword checks if a password is stored in the keyring
func HasPassword(imageID string) bool {
	_, err := keyring.Get(serviceName, imageID)
	return err == nil
}

// IsNotFound reports whether err means there was no entry.
func IsNotFound(err error) bool {
	return errors.Is(err, keyring.ErrNotFound)
}
