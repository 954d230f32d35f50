// Package securestore persists small secrets (the renewal credential) behind
// a narrow get/set/delete interface.
//
// Backends:
//
//   - Memory: process lifetime only, for tests and ephemeral shells
//   - File: a single JSON file sealed with a passphrase derived key
//   - Keyring: the OS credential store (Keychain, Secret Service, WinCred)
//   - Redis: a shared store for shells hosted server-side
//   - drivers/sqlite: an embedded database with migrations
//
// Every backend reports a missing key as ErrNotFound and any failure to reach
// the underlying store as an error wrapping ErrUnavailable. Deleting a key
// that does not exist is not an error.
package securestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/swellwatch/pkg/cryptox"
)

// DefaultKey is the fixed slot the renewal credential lives in.
const DefaultKey = "swellwatch.renewal_credential"

var (
	ErrNotFound    = errors.New("securestore: not found")
	ErrUnavailable = errors.New("securestore: unavailable")
)

// Store is the key-value interface every backend implements.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds while
// the cause stays inspectable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// seal encrypts value bound to key when a sealer is configured.
func seal(s *cryptox.Sealer, key, value string) ([]byte, error) {
	if s == nil {
		return []byte(value), nil
	}
	return s.Seal([]byte(value), []byte(key))
}

// open reverses seal. A value that fails to open is unreachable rather than
// missing: the caller must not mistake a wrong passphrase for a logout.
func open(s *cryptox.Sealer, key string, data []byte) (string, error) {
	if s == nil {
		return string(data), nil
	}
	plain, err := s.Open(data, []byte(key))
	if err != nil {
		return "", Unavailable("open sealed value", err)
	}
	return string(plain), nil
}
