package securestore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/swellwatch/pkg/cryptox"
	"github.com/aussiebroadwan/swellwatch/pkg/securestore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, opts ...securestore.RedisOption) (*securestore.Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return securestore.NewRedis(client, opts...), mr
}

// backends returns one fresh instance of each backend under a shared
// contract test.
func backends(t *testing.T) map[string]securestore.Store {
	t.Helper()

	file, err := securestore.NewFile(filepath.Join(t.TempDir(), "store.json"), "correct horse")
	require.NoError(t, err)

	redisStore, _ := newRedisStore(t)

	return map[string]securestore.Store{
		"memory":  securestore.NewMemory(),
		"file":    file,
		"keyring": securestore.NewKeyring(keyring.NewArrayKeyring(nil), "swellwatch"),
		"redis":   redisStore,
	}
}

func TestStores_Contract(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, securestore.DefaultKey)
			require.ErrorIs(t, err, securestore.ErrNotFound)

			require.NoError(t, s.Set(ctx, securestore.DefaultKey, "R1"))
			v, err := s.Get(ctx, securestore.DefaultKey)
			require.NoError(t, err)
			require.Equal(t, "R1", v)

			require.NoError(t, s.Set(ctx, securestore.DefaultKey, "R2"))
			v, err = s.Get(ctx, securestore.DefaultKey)
			require.NoError(t, err)
			require.Equal(t, "R2", v)

			require.NoError(t, s.Delete(ctx, securestore.DefaultKey))
			_, err = s.Get(ctx, securestore.DefaultKey)
			require.ErrorIs(t, err, securestore.ErrNotFound)

			// Deleting a missing key is fine.
			require.NoError(t, s.Delete(ctx, securestore.DefaultKey))
		})
	}
}

func TestFile_PersistsAndSealsOnDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "store.json")

	s, err := securestore.NewFile(path, "correct horse")
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", "plain-secret-value"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "plain-secret-value")

	reopened, err := securestore.NewFile(path, "correct horse")
	require.NoError(t, err)
	v, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "plain-secret-value", v)
}

func TestFile_WrongPassphraseIsUnavailable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	s, err := securestore.NewFile(path, "correct horse")
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", "v"))

	other, err := securestore.NewFile(path, "battery staple")
	require.NoError(t, err)

	_, err = other.Get(ctx, "k")
	require.ErrorIs(t, err, securestore.ErrUnavailable)
	require.NotErrorIs(t, err, securestore.ErrNotFound)
}

func TestFile_CorruptFileIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s, err := securestore.NewFile(path, "correct horse")
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "k")
	require.ErrorIs(t, err, securestore.ErrUnavailable)
}

func TestFile_EmptyPassphrase(t *testing.T) {
	_, err := securestore.NewFile(filepath.Join(t.TempDir(), "x.json"), "")
	require.ErrorIs(t, err, cryptox.ErrEmptyPassword)
}

func TestRedis_PrefixTTLAndSealing(t *testing.T) {
	ctx := context.Background()

	sealer, err := cryptox.NewPassphraseSealer("correct horse", nil)
	require.NoError(t, err)

	s, mr := newRedisStore(t,
		securestore.WithRedisPrefix("user:42:"),
		securestore.WithRedisSealer(sealer),
		securestore.WithRedisTTL(time.Hour),
	)

	require.NoError(t, s.Set(ctx, "k", "plain-secret-value"))

	require.True(t, mr.Exists("user:42:k"))
	raw, err := mr.Get("user:42:k")
	require.NoError(t, err)
	require.NotContains(t, raw, "plain-secret-value")
	require.Equal(t, time.Hour, mr.TTL("user:42:k"))

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "plain-secret-value", v)

	mr.FastForward(2 * time.Hour)
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, securestore.ErrNotFound)
}

func TestRedis_ServerDownIsUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	s := securestore.NewRedis(client)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, securestore.ErrUnavailable)
	require.ErrorIs(t, s.Set(ctx, "k", "v"), securestore.ErrUnavailable)
}

func TestKeyring_UsesItemKey(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	s := securestore.NewKeyring(ring, "swellwatch")

	require.NoError(t, s.Set(context.Background(), securestore.DefaultKey, "R1"))

	item, err := ring.Get(securestore.DefaultKey)
	require.NoError(t, err)
	require.Equal(t, "R1", string(item.Data))
	require.Contains(t, item.Label, "swellwatch")
}
