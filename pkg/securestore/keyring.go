package securestore

import (
	"context"
	"errors"

	"github.com/99designs/keyring"
)

// KeyringConfig selects and configures the OS keyring.
type KeyringConfig struct {
	// Service scopes items to the app, e.g. "swellwatch".
	Service string

	// Backends restricts which keyring backends may be used. Empty means
	// whatever the platform offers, in keyring's preference order.
	Backends []keyring.BackendType

	// FileDir and FilePassword configure the encrypted-file fallback
	// backend on hosts with no native keyring.
	FileDir      string
	FilePassword string
}

// Keyring stores secrets in the OS credential store.
type Keyring struct {
	ring    keyring.Keyring
	service string
}

// OpenKeyring opens the platform keyring described by cfg.
func OpenKeyring(cfg KeyringConfig) (*Keyring, error) {
	kcfg := keyring.Config{
		ServiceName:              cfg.Service,
		AllowedBackends:          cfg.Backends,
		KeychainTrustApplication: true,
		KeychainSynchronizable:   false,
		FileDir:                  cfg.FileDir,
	}
	if cfg.FilePassword != "" {
		kcfg.FilePasswordFunc = keyring.FixedStringPrompt(cfg.FilePassword)
	}

	ring, err := keyring.Open(kcfg)
	if err != nil {
		return nil, Unavailable("open keyring", err)
	}
	return NewKeyring(ring, cfg.Service), nil
}

// NewKeyring wraps an already open keyring.
func NewKeyring(ring keyring.Keyring, service string) *Keyring {
	return &Keyring{ring: ring, service: service}
}

func (k *Keyring) Get(_ context.Context, key string) (string, error) {
	item, err := k.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", Unavailable("keyring get", err)
	}
	return string(item.Data), nil
}

func (k *Keyring) Set(_ context.Context, key, value string) error {
	err := k.ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(value),
		Label:       k.service + ": " + key,
		Description: "swellwatch session credential",
	})
	if err != nil {
		return Unavailable("keyring set", err)
	}
	return nil
}

func (k *Keyring) Delete(_ context.Context, key string) error {
	err := k.ring.Remove(key)
	if err == nil || errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return Unavailable("keyring remove", err)
}
