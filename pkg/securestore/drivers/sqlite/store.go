// Package sqlite is a securestore backend on an embedded sqlite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/swellwatch/pkg/cryptox"
	"github.com/aussiebroadwan/swellwatch/pkg/securestore"
	_ "modernc.org/sqlite"
)

const (
	getSecret    = `SELECT value FROM secrets WHERE key = ?`
	upsertSecret = `INSERT INTO secrets (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	deleteSecret = `DELETE FROM secrets WHERE key = ?`
)

// Store keeps sealed secrets in a sqlite table. The sealer is required:
// the database file is not itself a protected location.
type Store struct {
	db     *sql.DB
	sealer *cryptox.Sealer
	now    func() time.Time
}

var _ securestore.Store = (*Store)(nil)

// NewStore opens dsn and returns a store sealing values with sealer. Call
// ApplyMigrations before first use.
func NewStore(dsn string, sealer *cryptox.Sealer) (*Store, error) {
	if sealer == nil {
		return nil, errors.New("sqlite securestore: sealer is required")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// One writer keeps sqlite from returning SQLITE_BUSY under concurrent sets.
	db.SetMaxOpenConns(1)

	return &Store{db: db, sealer: sealer, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, getSecret, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", securestore.ErrNotFound
	}
	if err != nil {
		return "", securestore.Unavailable("sqlite get", err)
	}

	plain, err := s.sealer.Open(data, []byte(key))
	if err != nil {
		return "", securestore.Unavailable("open sealed value", err)
	}
	return string(plain), nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	data, err := s.sealer.Seal([]byte(value), []byte(key))
	if err != nil {
		return securestore.Unavailable("seal value", err)
	}

	if _, err := s.db.ExecContext(ctx, upsertSecret, key, data, s.now().UTC()); err != nil {
		return securestore.Unavailable("sqlite set", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, deleteSecret, key); err != nil {
		return securestore.Unavailable("sqlite delete", err)
	}
	return nil
}
