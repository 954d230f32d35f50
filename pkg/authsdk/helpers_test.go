package authsdk_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/swellwatch/internal/authtest"
	"github.com/aussiebroadwan/swellwatch/pkg/authsdk"
	"github.com/aussiebroadwan/swellwatch/pkg/securestore"
	"github.com/aussiebroadwan/swellwatch/pkg/slogx"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "kelly@example.com"
	testPassword = "barrels-all-day"
)

// flakyStore wraps a store and fails selected operations on demand.
type flakyStore struct {
	securestore.Store
	failGet    atomic.Bool
	failSet    atomic.Bool
	failDelete atomic.Bool
}

var errLocked = errors.New("keychain locked")

func (f *flakyStore) Get(ctx context.Context, key string) (string, error) {
	if f.failGet.Load() {
		return "", securestore.Unavailable("get", errLocked)
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key, value string) error {
	if f.failSet.Load() {
		return securestore.Unavailable("set", errLocked)
	}
	return f.Store.Set(ctx, key, value)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if f.failDelete.Load() {
		return securestore.Unavailable("delete", errLocked)
	}
	return f.Store.Delete(ctx, key)
}

func newSession(t *testing.T, srv *authtest.Server, secure securestore.Store, opts ...authsdk.SessionOption) *authsdk.Session {
	t.Helper()

	opts = append([]authsdk.SessionOption{authsdk.WithSessionLogger(slogx.Discard())}, opts...)
	return authsdk.NewSession(authsdk.NewClient(srv.URL), secure, opts...)
}

// loggedIn returns a session logged in as the test user.
func loggedIn(t *testing.T, srv *authtest.Server, secure securestore.Store) *authsdk.Session {
	t.Helper()

	require.NoError(t, srv.SeedUser(testEmail, testPassword))
	s := newSession(t, srv, secure)
	require.NoError(t, s.Login(context.Background(), testEmail, testPassword))
	return s
}

func getAlerts(t *testing.T, s *authsdk.Session) (*http.Response, error) {
	t.Helper()
	return s.Execute(context.Background(), http.MethodGet, authtest.AlertsPath, nil, nil)
}

func closeBody(resp *http.Response) {
	if resp != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
}

func waitReady(t *testing.T, s *authsdk.Session) {
	t.Helper()
	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("session never finished initializing")
	}
}

func bearer(token string) string { return "Bearer " + token }

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	outcomes []authsdk.Outcome
	failures []bool
}

func (o *recordingObserver) RenewalStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) RenewalFinished(outcome authsdk.Outcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) AuthorizationFailed(retried bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, retried)
}
