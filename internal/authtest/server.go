// Package authtest runs an in-process swellwatch backend for tests.
//
// It implements the auth contract of the real API (login, register and
// rotating refresh under /api/v1/auth) plus a protected and a public
// resource, and exposes hooks that make concurrency scenarios
// deterministic: a barrier that holds requests until N have arrived, forced
// refresh rejection, forced access expiry and call counters.
package authtest

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/swellwatch/pkg/cryptox"
	"github.com/aussiebroadwan/swellwatch/pkg/httpx"
	"github.com/aussiebroadwan/swellwatch/pkg/jwtx"
	"github.com/aussiebroadwan/swellwatch/pkg/slogx"
)

const (
	AuthPath   = "/api/v1/auth"
	AlertsPath = "/api/v1/alerts"
	SpotsPath  = "/api/v1/spots"

	Issuer = "swellwatch-test"
)

// testSecret signs access tokens. Tests never see it; clients only peek.
var testSecret = []byte("swellwatch-authtest-hs256-secret-0001")

// testPasswordParams keep hashing cheap so suites stay fast.
var testPasswordParams = cryptox.PasswordParams{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	KeyLength:   32,
	SaltLength:  16,
}

type user struct {
	ID           string
	Email        string
	PasswordHash string
}

type refreshRecord struct {
	UserID    string
	ExpiresAt time.Time
	Used      bool
}

// Server is a fake swellwatch backend on an httptest server.
type Server struct {
	URL string

	srv        *httptest.Server
	signer     *jwtx.HS256Signer
	verifier   *jwtx.HS256Verifier
	logger     *slog.Logger
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	users   map[string]*user          // by email
	refresh map[string]*refreshRecord // by token fingerprint
	issued  map[string]bool           // access jti -> revoked
	seen    []string                  // Authorization headers on protected calls

	loginCalls     atomic.Int64
	registerCalls  atomic.Int64
	refreshCalls   atomic.Int64
	protectedCalls atomic.Int64

	rejectRefresh atomic.Bool
	rejectAccess  atomic.Bool
	refreshStatus atomic.Int32
	refreshDelay  atomic.Int64
	barrier       atomic.Pointer[Barrier]
}

type Option func(*Server)

// WithAccessTTL overrides the 15 minute access token lifetime.
func WithAccessTTL(d time.Duration) Option { return func(s *Server) { s.accessTTL = d } }

// WithRefreshTTL overrides the 7 day refresh token lifetime.
func WithRefreshTTL(d time.Duration) Option { return func(s *Server) { s.refreshTTL = d } }

// WithLogger routes server logs, which are discarded by default.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// NewServer starts a fake backend and registers its shutdown with tb.
func NewServer(tb testing.TB, opts ...Option) *Server {
	tb.Helper()

	signer, err := jwtx.NewSignerHS256(testSecret)
	if err != nil {
		tb.Fatalf("authtest: signer: %v", err)
	}

	s := &Server{
		signer:     signer,
		verifier:   jwtx.NewVerifierHS256(testSecret, Issuer),
		logger:     slogx.Discard(),
		accessTTL:  jwtx.DefaultAccessTokenTTL,
		refreshTTL: jwtx.DefaultRefreshTokenTTL,
		now:        time.Now,
		users:      make(map[string]*user),
		refresh:    make(map[string]*refreshRecord),
		issued:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.srv = httptest.NewServer(s.routes())
	s.URL = s.srv.URL
	tb.Cleanup(s.srv.Close)

	return s
}

// Close stops the server early, e.g. to simulate the backend going away.
func (s *Server) Close() { s.srv.Close() }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+AuthPath+"/register", s.handleRegister)
	mux.HandleFunc("POST "+AuthPath+"/login", s.handleLogin)
	mux.HandleFunc("POST "+AuthPath+"/refresh", s.handleRefresh)

	protected := func(h http.HandlerFunc) http.Handler {
		// The gate sits outside authn so that a barrier holds requests that
		// are about to be refused, which is the race under test.
		return s.gate(httpx.AuthnMiddleware(s.verifier, s.checkAccess)(h))
	}
	mux.Handle("GET "+AlertsPath, protected(s.handleListAlerts))
	mux.Handle("POST "+AlertsPath, protected(s.handleCreateAlert))

	mux.HandleFunc("GET "+SpotsPath, s.handleListSpots)

	return slogx.HTTPMiddleware(s.logger)(mux)
}
