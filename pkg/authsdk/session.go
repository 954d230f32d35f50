package authsdk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/swellwatch/pkg/jwtx"
	"github.com/aussiebroadwan/swellwatch/pkg/securestore"
)

// Session is the surface the presentation shell uses: login, register,
// logout, the authenticated flag and the request pipeline. It is safe for
// concurrent use.
type Session struct {
	client      *Client
	store       *CredentialStore
	coordinator *RefreshCoordinator
	pipeline    *Pipeline
	logger      *slog.Logger

	startOnce    sync.Once
	ready        chan struct{}
	initializing atomic.Bool
}

type sessionConfig struct {
	logger       *slog.Logger
	observer     Observer
	renewTimeout time.Duration
	storeKey     string
	httpClient   *http.Client
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

// WithSessionLogger sets the logger shared by the session's components.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(c *sessionConfig) { c.logger = l }
}

// WithSessionObserver receives renewal and authorization-failure events.
func WithSessionObserver(o Observer) SessionOption {
	return func(c *sessionConfig) { c.observer = o }
}

// WithSessionRenewTimeout bounds each renewal cycle.
func WithSessionRenewTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.renewTimeout = d }
}

// WithSessionStoreKey overrides the secure-store key of the renewal
// credential.
func WithSessionStoreKey(key string) SessionOption {
	return func(c *sessionConfig) { c.storeKey = key }
}

// WithSessionHTTPClient sets the client for resource requests. Defaults to
// the auth client's.
func WithSessionHTTPClient(hc *http.Client) SessionOption {
	return func(c *sessionConfig) { c.httpClient = hc }
}

// NewSession wires a credential store over secure, a refresh coordinator
// renewing through client, and a pipeline against client's base URL. The
// session reports initializing until Start has resolved.
func NewSession(client *Client, secure securestore.Store, opts ...SessionOption) *Session {
	cfg := sessionConfig{
		logger:       slog.Default(),
		observer:     NopObserver{},
		renewTimeout: DefaultRenewTimeout,
		storeKey:     securestore.DefaultKey,
		httpClient:   client.HTTPClient,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := NewCredentialStore(secure,
		WithStoreKey(cfg.storeKey),
		WithStoreLogger(cfg.logger),
	)
	coordinator := NewRefreshCoordinator(store, client,
		WithRenewTimeout(cfg.renewTimeout),
		WithCoordinatorLogger(cfg.logger),
		WithCoordinatorObserver(cfg.observer),
	)
	pipeline := NewPipeline(store, coordinator,
		WithHTTPClient(cfg.httpClient),
		WithBaseURL(client.BaseURL),
		WithPipelineLogger(cfg.logger),
		WithPipelineObserver(cfg.observer),
	)

	s := &Session{
		client:      client,
		store:       store,
		coordinator: coordinator,
		pipeline:    pipeline,
		logger:      cfg.logger,
		ready:       make(chan struct{}),
	}
	s.initializing.Store(true)
	return s
}

// Start launches the one silent renewal that restores a persisted session.
// It returns immediately; Ready is closed once the attempt resolves. Only
// the first call has any effect.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.restore(ctx)
	})
}

// Ready is closed when the startup renewal has resolved.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// restore never reports failure: whatever goes wrong, the session ends up
// logged out and initialization is over. The attempt resolves on the
// renewal's own outcome, not on ctx; only the renew timeout bounds it.
func (s *Session) restore(ctx context.Context) {
	defer close(s.ready)
	defer s.initializing.Store(false)

	ctx = context.WithoutCancel(ctx)
	epoch := s.store.currentEpoch()

	if _, err := s.coordinator.Renew(ctx); err != nil {
		switch {
		case errors.Is(err, ErrStorageUnavailable):
			// The persisted credential may still be good; keep it for the
			// next launch.
			s.logger.Warn("failed to read stored session", slog.Any("err", err))
			return
		case errors.Is(err, ErrNoRenewalCredential):
			s.logger.Info("no stored session to restore")
		default:
			s.logger.Warn("failed to restore session", slog.Any("err", err))
		}
		s.store.clearAt(ctx, epoch)
		return
	}
	s.logger.Info("session restored")
}

// Login authenticates and stores the issued credentials.
func (s *Session) Login(ctx context.Context, identifier, secret string) error {
	if errs := ValidateCredentials(identifier, secret, false); errs != nil {
		return &ValidationError{Fields: errs}
	}

	tokens, err := s.client.Login(ctx, identifier, secret)
	if err != nil {
		return err
	}
	return s.establish(ctx, tokens)
}

// Register creates an account and stores its first credentials.
func (s *Session) Register(ctx context.Context, identifier, secret string) error {
	if errs := ValidateCredentials(identifier, secret, true); errs != nil {
		return &ValidationError{Fields: errs}
	}

	tokens, err := s.client.Register(ctx, identifier, secret)
	if err != nil {
		return err
	}
	return s.establish(ctx, tokens)
}

// establish stores a fresh pair. If the renewal credential cannot be kept
// the session is not established at all.
func (s *Session) establish(ctx context.Context, tokens *TokenResponse) error {
	if err := s.store.SetCredentials(ctx, tokens.AccessToken, tokens.RefreshToken); err != nil {
		s.store.ClearAll(ctx)
		return err
	}
	s.logger.Info("session established", fingerprint(tokens.RefreshToken))
	return nil
}

// Logout forgets all credentials. It cannot fail.
func (s *Session) Logout(ctx context.Context) {
	s.store.ClearAll(ctx)
	s.logger.Info("logged out")
}

// IsAuthenticated is derived from the credential store: an access
// credential is held, or a renewal credential is known and not revoked.
func (s *Session) IsAuthenticated() bool { return s.store.HasCredentials() }

// IsInitializing is true until the startup renewal has resolved.
func (s *Session) IsInitializing() bool { return s.initializing.Load() }

// Identity decodes the current access credential for display. The claims
// are not verified and must not drive authorization decisions.
func (s *Session) Identity() (jwtx.Claims, bool) {
	access, ok := s.store.Access()
	if !ok {
		return jwtx.Claims{}, false
	}
	claims, err := jwtx.Peek(access)
	if err != nil {
		return jwtx.Claims{}, false
	}
	return claims, true
}

// Store exposes the credential store, mainly for status displays.
func (s *Session) Store() *CredentialStore { return s.store }

// Coordinator exposes the refresh coordinator.
func (s *Session) Coordinator() *RefreshCoordinator { return s.coordinator }

// Pipeline exposes the request pipeline.
func (s *Session) Pipeline() *Pipeline { return s.pipeline }

// Do sends req through the pipeline.
func (s *Session) Do(req *http.Request) (*http.Response, error) { return s.pipeline.Do(req) }

// Execute builds a request against the base URL and sends it through the
// pipeline.
func (s *Session) Execute(
	ctx context.Context,
	method, path string,
	body io.Reader,
	headers map[string]string,
) (*http.Response, error) {
	return s.pipeline.Execute(ctx, method, path, body, headers)
}

// HTTPClient returns a client whose transport is the pipeline.
func (s *Session) HTTPClient() *http.Client { return s.pipeline.HTTPClient() }
