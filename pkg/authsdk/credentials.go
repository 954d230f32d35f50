package authsdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aussiebroadwan/swellwatch/pkg/cryptox"
	"github.com/aussiebroadwan/swellwatch/pkg/securestore"
)

// errCredentialsChanged is returned by setCredentialsAt when another writer
// (login, logout) got in first.
var errCredentialsChanged = errors.New("authsdk: credentials changed during renewal")

// renewalState is what memory knows about the persisted renewal credential.
type renewalState int

const (
	renewalUnknown renewalState = iota
	renewalPresent
	renewalAbsent
)

// CredentialStore owns both credentials. The access credential lives only
// in memory; the renewal credential lives in a securestore.Store under a
// single key. All writers go through its methods.
type CredentialStore struct {
	secure securestore.Store
	key    string
	logger *slog.Logger

	// writeMu serializes secure-store mutations so a logout can never be
	// overtaken by an in-flight renewal's write.
	writeMu sync.Mutex

	mu      sync.RWMutex
	access  string
	renewal renewalState
	// revoked is set by ClearAll. A renewal credential that survived a
	// failed delete must not bring the session back.
	revoked bool
	// epoch increments on every successful credential write and on
	// ClearAll.
	epoch uint64
}

// StoreOption configures a CredentialStore.
type StoreOption func(*CredentialStore)

// WithStoreKey overrides securestore.DefaultKey.
func WithStoreKey(key string) StoreOption {
	return func(s *CredentialStore) { s.key = key }
}

// WithStoreLogger sets the logger for storage failures.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *CredentialStore) { s.logger = l }
}

// NewCredentialStore returns an empty store persisting renewal credentials
// in secure.
func NewCredentialStore(secure securestore.Store, opts ...StoreOption) *CredentialStore {
	s := &CredentialStore{
		secure: secure,
		key:    securestore.DefaultKey,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Access returns the in-memory access credential.
func (s *CredentialStore) Access() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access, s.access != ""
}

// SetAccess overwrites the access credential in memory.
func (s *CredentialStore) SetAccess(access string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
}

// Renewal reads the renewal credential from the secure store. It returns
// ErrNoRenewalCredential when there is none and an error wrapping
// ErrStorageUnavailable when the store cannot be read.
func (s *CredentialStore) Renewal(ctx context.Context) (string, error) {
	s.mu.RLock()
	revoked, epoch := s.revoked, s.epoch
	s.mu.RUnlock()

	if revoked {
		return "", ErrNoRenewalCredential
	}

	v, err := s.secure.Get(ctx, s.key)
	switch {
	case errors.Is(err, securestore.ErrNotFound) || (err == nil && v == ""):
		s.observe(epoch, renewalAbsent)
		return "", ErrNoRenewalCredential
	case err != nil:
		s.observe(epoch, renewalUnknown)
		return "", fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	if !s.observe(epoch, renewalPresent) {
		// A ClearAll ran while we were reading; the value is already dead.
		return "", ErrNoRenewalCredential
	}
	return v, nil
}

// observe records what a read saw, unless a write happened since the read
// started. Reports whether the read is still current.
func (s *CredentialStore) observe(epoch uint64, state renewalState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		return false
	}
	s.renewal = state
	return true
}

// SetRenewal persists a renewal credential. On failure the previous value
// may or may not survive; memory treats it as unknown.
func (s *CredentialStore) SetRenewal(ctx context.Context, renewal string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.writeRenewal(ctx, renewal)
}

// writeRenewal does the write. Caller holds writeMu.
func (s *CredentialStore) writeRenewal(ctx context.Context, renewal string) error {
	if renewal == "" {
		return ErrMalformedTokenResponse
	}

	err := s.secure.Set(ctx, s.key, renewal)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.renewal = renewalUnknown
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	s.epoch++
	s.renewal = renewalPresent
	s.revoked = false
	return nil
}

// SetCredentials stores a full pair: renewal first, then access. The access
// credential is only installed once the renewal credential is safe.
func (s *CredentialStore) SetCredentials(ctx context.Context, access, renewal string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.writeRenewal(ctx, renewal); err != nil {
		return err
	}
	s.SetAccess(access)
	return nil
}

// setCredentialsAt is SetCredentials for the coordinator: it refuses with
// errCredentialsChanged when anything wrote credentials since epoch.
func (s *CredentialStore) setCredentialsAt(ctx context.Context, epoch uint64, access, renewal string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.currentEpoch() != epoch {
		return errCredentialsChanged
	}
	if err := s.writeRenewal(ctx, renewal); err != nil {
		return err
	}
	s.SetAccess(access)
	return nil
}

func (s *CredentialStore) currentEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// ClearAll forgets both credentials and best-effort deletes the persisted
// value. It cannot fail: a failed delete is logged, and the store stays
// revoked in memory so the leftover value is never used.
func (s *CredentialStore) ClearAll(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()

	s.deletePersisted(ctx)
}

// clearAt clears only if nothing wrote credentials since epoch, so a stale
// failure cannot wipe a newer login. Reports whether it cleared.
func (s *CredentialStore) clearAt(ctx context.Context, epoch uint64) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	s.clearLocked()
	s.mu.Unlock()

	s.deletePersisted(ctx)
	return true
}

// dropAccessAt forgets the access credential if nothing wrote credentials
// since epoch. The persisted renewal credential is left alone.
func (s *CredentialStore) dropAccessAt(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	s.access = ""
	return true
}

// clearLocked resets memory. Caller holds mu.
func (s *CredentialStore) clearLocked() {
	s.access = ""
	s.renewal = renewalAbsent
	s.revoked = true
	s.epoch++
}

// deletePersisted removes the stored value. Caller holds writeMu.
func (s *CredentialStore) deletePersisted(ctx context.Context) {
	err := s.secure.Delete(context.WithoutCancel(ctx), s.key)
	if err != nil && !errors.Is(err, securestore.ErrNotFound) {
		s.logger.Warn("failed to delete renewal credential", slog.Any("err", err))
	}
}

// HasRenewal reports whether a usable renewal credential is persisted.
// An unreachable store counts as none.
func (s *CredentialStore) HasRenewal(ctx context.Context) bool {
	_, err := s.Renewal(ctx)
	return err == nil
}

// HasCredentials is the memory-only session view: an access credential is
// held, or a renewal credential is known to be persisted and not revoked.
func (s *CredentialStore) HasCredentials() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access != "" || (s.renewal == renewalPresent && !s.revoked)
}

// fingerprint is the only form in which a credential may reach a log.
func fingerprint(token string) slog.Attr {
	return slog.String("fp", cryptox.LogFingerprint(token))
}
