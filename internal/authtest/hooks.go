package authtest

import (
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/swellwatch/pkg/cryptox"
	"github.com/aussiebroadwan/swellwatch/pkg/httpx"
)

// Barrier holds protected requests until n of them have arrived, then lets
// every one through at once. Later requests pass without waiting.
type Barrier struct {
	n       int
	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func newBarrier(n int) *Barrier {
	return &Barrier{n: n, release: make(chan struct{})}
}

func (b *Barrier) arrive(r *http.Request) {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.n {
		close(b.release)
	}
	b.mu.Unlock()

	select {
	case <-b.release:
	case <-r.Context().Done():
	}
}

// Released is closed once n requests have arrived.
func (b *Barrier) Released() <-chan struct{} { return b.release }

// gate records the call and applies the barrier, if any.
func (s *Server) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.protectedCalls.Add(1)

		s.mu.Lock()
		s.seen = append(s.seen, r.Header.Get("Authorization"))
		s.mu.Unlock()

		if b := s.barrier.Load(); b != nil {
			b.arrive(r)
		}
		next.ServeHTTP(w, r)
	})
}

// HoldProtected installs a barrier for the next n protected requests.
func (s *Server) HoldProtected(n int) *Barrier {
	b := newBarrier(n)
	s.barrier.Store(b)
	return b
}

// RejectRefresh makes every refresh call fail with 401 while on.
func (s *Server) RejectRefresh(on bool) { s.rejectRefresh.Store(on) }

// FailRefresh makes refresh calls answer with status (e.g. 503). Zero
// restores normal behaviour.
func (s *Server) FailRefresh(status int) { s.refreshStatus.Store(int32(status)) } // #nosec G115

// RejectAccess makes protected endpoints refuse every access token while on.
func (s *Server) RejectAccess(on bool) { s.rejectAccess.Store(on) }

// SetRefreshDelay stalls refresh calls, widening the window in which other
// callers must join the in-flight renewal.
func (s *Server) SetRefreshDelay(d time.Duration) { s.refreshDelay.Store(int64(d)) }

// ExpireAccess revokes every access token issued so far, as if they had all
// run out. Tokens issued afterwards are accepted.
func (s *Server) ExpireAccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for jti := range s.issued {
		s.issued[jti] = true
	}
}

func (s *Server) LoginCalls() int64     { return s.loginCalls.Load() }
func (s *Server) RegisterCalls() int64  { return s.registerCalls.Load() }
func (s *Server) RefreshCalls() int64   { return s.refreshCalls.Load() }
func (s *Server) ProtectedCalls() int64 { return s.protectedCalls.Load() }

// AuthorizationHeaders returns the Authorization header of every protected
// call in arrival order; an absent header is recorded as "".
func (s *Server) AuthorizationHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

// RefreshTokenState reports whether token was ever issued and whether it has
// been spent by a rotation.
func (s *Server) RefreshTokenState(token string) (known, used bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.refresh[cryptox.FingerprintToken(token)]
	if !ok {
		return false, false
	}
	return true, rec.Used
}

// SeedUser creates an account directly, bypassing the register endpoint.
func (s *Server) SeedUser(email, password string) error {
	hash, err := cryptox.HashPassword(password, testPasswordParams)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[email] = &user{ID: newUserID(), Email: email, PasswordHash: hash}
	return nil
}

// IssueTokens mints a pair for an existing user without touching the call
// counters, for seeding a persisted renewal credential.
func (s *Server) IssueTokens(email string) (access, renewal string, err error) {
	s.mu.Lock()
	u, ok := s.users[email]
	s.mu.Unlock()
	if !ok {
		return "", "", errUnknownUser
	}

	resp, err := s.issue(u)
	if err != nil {
		return "", "", err
	}
	return resp.AccessToken, resp.RefreshToken, nil
}

// writeValidation writes a 422 in the backend's validation error shape.
func writeValidation(w http.ResponseWriter, field, msg, kind string) {
	loc := []string{"body"}
	if field != "" {
		loc = append(loc, field)
	}
	httpx.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": []map[string]any{{"loc": loc, "msg": msg, "type": kind}},
	})
}
