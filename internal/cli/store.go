package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
	"github.com/aussiebroadwan/swellwatch/pkg/cryptox"
	"github.com/aussiebroadwan/swellwatch/pkg/securestore"
	sqlitestore "github.com/aussiebroadwan/swellwatch/pkg/securestore/drivers/sqlite"
	"github.com/redis/go-redis/v9"
)

// openStore builds the secure store cfg describes. The returned close
// function releases whatever the backend holds open.
func openStore(cfg StoreConfig) (securestore.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Type {
	case StoreMemory:
		return securestore.NewMemory(), noop, nil

	case StoreFile:
		s, err := securestore.NewFile(cfg.Path, cfg.Passphrase)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return s, noop, nil

	case StoreKeyring:
		kcfg := securestore.KeyringConfig{
			Service:      cfg.Service,
			FileDir:      cfg.Path,
			FilePassword: cfg.Passphrase,
		}
		if cfg.Backend != "" {
			kcfg.Backends = []keyring.BackendType{keyring.BackendType(cfg.Backend)}
		}
		s, err := securestore.OpenKeyring(kcfg)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil

	case StoreSQLite:
		sealer, err := cryptox.NewPassphraseSealer(cfg.Passphrase, nil)
		if err != nil {
			return nil, nil, err
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create store directory: %w", err)
		}

		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.Path)
		s, err := sqlitestore.NewStore(dsn, sealer)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		if err := s.ApplyMigrations(); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("failed to apply store migrations: %w", err)
		}
		return s, s.Close, nil

	case StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Addr})

		var opts []securestore.RedisOption
		if cfg.Passphrase != "" {
			sealer, err := cryptox.NewPassphraseSealer(cfg.Passphrase, nil)
			if err != nil {
				_ = client.Close()
				return nil, nil, err
			}
			opts = append(opts, securestore.WithRedisSealer(sealer))
		}
		return securestore.NewRedis(client, opts...), client.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown store type %q", cfg.Type)
}
