package authtest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"time"
	"unicode/utf8"

	"github.com/aussiebroadwan/swellwatch/pkg/cryptox"
	"github.com/aussiebroadwan/swellwatch/pkg/httpx"
	"github.com/aussiebroadwan/swellwatch/pkg/idx"
	"github.com/aussiebroadwan/swellwatch/pkg/jwtx"
	"github.com/aussiebroadwan/swellwatch/pkg/slogx"
)

var (
	errUnknownUser   = errors.New("authtest: unknown user")
	errAccessRevoked = errors.New("authtest: access token revoked")
)

type credentialsBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Alert is the protected resource served at AlertsPath.
type Alert struct {
	ID       string  `json:"id"`
	SpotID   int     `json:"spot_id"`
	MinScore float64 `json:"min_score"`
	Owner    string  `json:"owner,omitempty"`
}

// Spot is the public resource served at SpotsPath.
type Spot struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func newUserID() string { return idx.New().String() }

// decodeCredentials parses and validates a login/register body. It writes
// the 422 itself and returns false when the body is unusable.
func decodeCredentials(w http.ResponseWriter, r *http.Request, register bool) (credentialsBody, bool) {
	var body credentialsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeValidation(w, "", "invalid JSON body", "json_invalid")
		return body, false
	}

	addr, err := mail.ParseAddress(body.Email)
	if err != nil || addr.Address != body.Email {
		writeValidation(w, "email", "value is not a valid email address", "value_error")
		return body, false
	}

	if register {
		n := utf8.RuneCountInString(body.Password)
		switch {
		case n < 8:
			writeValidation(w, "password", "String should have at least 8 characters", "string_too_short")
			return body, false
		case n > 128:
			writeValidation(w, "password", "String should have at most 128 characters", "string_too_long")
			return body, false
		}
	}
	return body, true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.registerCalls.Add(1)

	body, ok := decodeCredentials(w, r, true)
	if !ok {
		return
	}

	hash, err := cryptox.HashPassword(body.Password, testPasswordParams)
	if err != nil {
		httpx.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.mu.Lock()
	if _, exists := s.users[body.Email]; exists {
		s.mu.Unlock()
		httpx.WriteDetail(w, http.StatusConflict, "Email already registered")
		return
	}
	u := &user{ID: newUserID(), Email: body.Email, PasswordHash: hash}
	s.users[body.Email] = u
	s.mu.Unlock()

	s.writeTokens(w, r, u, http.StatusCreated)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.loginCalls.Add(1)

	body, ok := decodeCredentials(w, r, false)
	if !ok {
		return
	}

	s.mu.Lock()
	u, exists := s.users[body.Email]
	s.mu.Unlock()

	if !exists || cryptox.VerifyPassword(body.Password, u.PasswordHash) != nil {
		httpx.WriteDetail(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	s.writeTokens(w, r, u, http.StatusOK)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	log := slogx.FromContext(r.Context(), s.logger)

	if d := time.Duration(s.refreshDelay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}

	if status := int(s.refreshStatus.Load()); status != 0 {
		httpx.WriteDetail(w, status, http.StatusText(status))
		return
	}

	var body refreshBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeValidation(w, "refresh_token", "Field required", "missing")
		return
	}

	if s.rejectRefresh.Load() {
		httpx.WriteDetail(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}

	s.mu.Lock()
	rec, ok := s.refresh[cryptox.FingerprintToken(body.RefreshToken)]
	if !ok || rec.Used || !s.now().Before(rec.ExpiresAt) {
		s.mu.Unlock()
		log.Info("refresh token refused", "known", ok)
		httpx.WriteDetail(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}
	rec.Used = true

	var u *user
	for _, candidate := range s.users {
		if candidate.ID == rec.UserID {
			u = candidate
			break
		}
	}
	s.mu.Unlock()

	if u == nil {
		httpx.WriteDetail(w, http.StatusUnauthorized, "User not found")
		return
	}

	s.writeTokens(w, r, u, http.StatusOK)
}

func (s *Server) writeTokens(w http.ResponseWriter, r *http.Request, u *user, status int) {
	resp, err := s.issue(u)
	if err != nil {
		slogx.FromContext(r.Context(), s.logger).Error("issue tokens", "err", err)
		httpx.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	httpx.WriteJSON(w, status, resp)
}

// issue mints an access JWT and a fresh single-use refresh token for u.
func (s *Server) issue(u *user) (tokenBody, error) {
	now := s.now()

	claims := jwtx.NewAccessClaims(u.ID, u.Email, Issuer, s.accessTTL, now)
	access, err := s.signer.Sign(claims)
	if err != nil {
		return tokenBody{}, err
	}

	refresh, err := cryptox.GenerateToken(cryptox.TokenSize384)
	if err != nil {
		return tokenBody{}, err
	}

	s.mu.Lock()
	s.issued[claims.ID] = false
	s.refresh[cryptox.FingerprintToken(refresh)] = &refreshRecord{
		UserID:    u.ID,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	s.mu.Unlock()

	return tokenBody{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

// checkAccess refuses tokens revoked by ExpireAccess or RejectAccess.
func (s *Server) checkAccess(c jwtx.Claims) error {
	if s.rejectAccess.Load() {
		return errAccessRevoked
	}
	if err := c.ValidateType(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if revoked, ok := s.issued[c.ID]; !ok || revoked {
		return errAccessRevoked
	}
	return nil
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	claims, _ := httpx.ClaimsFromContext(r.Context())
	httpx.WriteJSON(w, http.StatusOK, []Alert{
		{ID: "a1", SpotID: 1, MinScore: 6.5, Owner: claims.Email},
		{ID: "a2", SpotID: 3, MinScore: 7, Owner: claims.Email},
	})
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var alert Alert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		writeValidation(w, "", "invalid JSON body", "json_invalid")
		return
	}

	claims, _ := httpx.ClaimsFromContext(r.Context())
	alert.ID = idx.New().Short()
	alert.Owner = claims.Email
	httpx.WriteJSON(w, http.StatusCreated, alert)
}

func (s *Server) handleListSpots(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, []Spot{
		{ID: 1, Name: "Bells Beach"},
		{ID: 2, Name: "Snapper Rocks"},
		{ID: 3, Name: "Margaret River"},
	})
}
