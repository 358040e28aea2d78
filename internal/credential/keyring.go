package credential

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	serviceName  = "mailsort"
	masterKeyKey = "master-key"
)

// OpenKeyring returns the system keyring used for the master key.
func OpenKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailsort/keyring",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailsort-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// MasterKey loads the encryption key from ring, generating and storing a
// new random key on first use.
func MasterKey(ring keyring.Keyring) ([]byte, error) {
	item, err := ring.Get(masterKeyKey)
	if err == nil {
		key, decErr := base64.StdEncoding.DecodeString(string(item.Data))
		if decErr != nil || len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("stored master key is malformed")
		}
		return key, nil
	}
	if !errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, fmt.Errorf("getting master key: %w", err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}
	err = ring.Set(keyring.Item{
		Key:         masterKeyKey,
		Data:        []byte(base64.StdEncoding.EncodeToString(key)),
		Label:       "mailsort credential key",
		Description: "Encrypts stored mailbox credentials and API keys",
	})
	if err != nil {
		return nil, fmt.Errorf("storing master key: %w", err)
	}
	return key, nil
}

// Delete removes the master key. Stored credentials become unreadable.
func Delete(ring keyring.Keyring) error {
	if err := ring.Remove(masterKeyKey); err != nil {
		return fmt.Errorf("deleting master key: %w", err)
	}
	return nil
}
