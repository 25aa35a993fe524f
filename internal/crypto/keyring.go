package crypto

import (
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

// Keyring provides secure key storage abstraction
type Keyring interface {
	GetKey() (string, error)
	SetKey(password string) error
	DeleteKey() error
	IsAvailable() bool
}

const (
	ServiceName = "tallybook"
	KeyName     = "db-encryption-key"

	// EnvKey overrides the stored key; useful for CI and headless hosts
	EnvKey = "TALLYBOOK_DB_KEY"
)

// ErrNoKey is returned when no key is stored anywhere
var ErrNoKey = errors.New("database encryption key not found")

// NewKeyring returns a keyring that reads TALLYBOOK_DB_KEY first and falls
// back to the OS credential store (Keychain, Secret Service, Credential
// Manager)
func NewKeyring() Keyring {
	return &chainKeyring{
		env:    envKeyring{name: EnvKey},
		system: systemKeyring{service: ServiceName, user: KeyName},
	}
}

type chainKeyring struct {
	env    envKeyring
	system systemKeyring
}

func (k *chainKeyring) GetKey() (string, error) {
	if key, err := k.env.GetKey(); err == nil {
		return key, nil
	}
	return k.system.GetKey()
}

// SetKey stores the key in the OS store. When that store is unusable the
// error tells the user to export the env var instead.
func (k *chainKeyring) SetKey(password string) error {
	if password == "" {
		return errors.New("password cannot be empty")
	}
	if err := k.system.SetKey(password); err != nil {
		return fmt.Errorf("%w; set the %s environment variable instead", err, EnvKey)
	}
	return nil
}

func (k *chainKeyring) DeleteKey() error {
	if k.env.IsAvailable() {
		return fmt.Errorf("key comes from %s; unset it manually", EnvKey)
	}
	return k.system.DeleteKey()
}

func (k *chainKeyring) IsAvailable() bool {
	return k.env.IsAvailable() || k.system.IsAvailable()
}

type envKeyring struct {
	name string
}

func (k envKeyring) GetKey() (string, error) {
	key := os.Getenv(k.name)
	if key == "" {
		return "", fmt.Errorf("%w: %s not set", ErrNoKey, k.name)
	}
	return key, nil
}

func (k envKeyring) IsAvailable() bool {
	return os.Getenv(k.name) != ""
}

type systemKeyring struct {
	service string
	user    string
}

// GetKey retrieves the encryption key from the OS credential store
func (k systemKeyring) GetKey() (string, error) {
	key, err := keyring.Get(k.service, k.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w in keyring", ErrNoKey)
		}
		return "", fmt.Errorf("failed to retrieve key from keyring: %w", err)
	}

	if key == "" {
		return "", errors.New("encryption key is empty")
	}

	return key, nil
}

// SetKey stores the encryption key in the OS credential store
func (k systemKeyring) SetKey(password string) error {
	if err := keyring.Set(k.service, k.user, password); err != nil {
		return fmt.Errorf("failed to store key in keyring: %w", err)
	}
	return nil
}

// DeleteKey removes the encryption key from the OS credential store
func (k systemKeyring) DeleteKey() error {
	err := keyring.Delete(k.service, k.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w in keyring", ErrNoKey)
		}
		return fmt.Errorf("failed to delete key from keyring: %w", err)
	}
	return nil
}

// IsAvailable probes the store with a throwaway entry
func (k systemKeyring) IsAvailable() bool {
	testKey := "__tallybook_availability_test__"
	if err := keyring.Set(k.service, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(k.service, testKey)
	return true
}
