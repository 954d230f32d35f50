//go:build e2e

package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/swellwatch/internal/authtest"
	"github.com/aussiebroadwan/swellwatch/pkg/authsdk"
	"github.com/aussiebroadwan/swellwatch/pkg/cryptox"
	"github.com/aussiebroadwan/swellwatch/pkg/securestore"
	"github.com/aussiebroadwan/swellwatch/pkg/slogx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	redisImage = "redis:7-alpine"

	testEmail    = "kelly@example.com"
	testPassword = "barrels-all-day"
	passphrase   = "e2e-sealing-passphrase"
)

// setupRedis starts a throwaway redis container and returns a client for it.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        redisImage,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	return client
}

// redisStore seals values so the container never holds a usable credential.
func redisStore(t *testing.T, client *redis.Client) *securestore.Redis {
	t.Helper()

	sealer, err := cryptox.NewPassphraseSealer(passphrase, nil)
	require.NoError(t, err)
	return securestore.NewRedis(client, securestore.WithRedisSealer(sealer))
}

func newSession(srv *authtest.Server, store securestore.Store) *authsdk.Session {
	return authsdk.NewSession(authsdk.NewClient(srv.URL), store,
		authsdk.WithSessionLogger(slogx.Discard()),
	)
}

func waitReady(t *testing.T, s *authsdk.Session) {
	t.Helper()
	select {
	case <-s.Ready():
	case <-time.After(10 * time.Second):
		t.Fatal("session never finished initializing")
	}
}
