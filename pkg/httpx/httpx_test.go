package httpx_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/swellwatch/pkg/httpx"
	"github.com/aussiebroadwan/swellwatch/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) httpx.Middleware {
		return func(next http.RoundTripper) http.RoundTripper {
			return httpx.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
				order = append(order, name)
				return next.RoundTrip(r)
			})
		}
	}

	base := httpx.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		order = append(order, "base")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})

	rt := httpx.Chain(base, mark("first"), nil, mark("second"))
	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	_, err := rt.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second", "base"}, order)
}

func TestRateLimitDisabled(t *testing.T) {
	require.Nil(t, httpx.RateLimit(httpx.RateLimitConfig{}))
	require.Equal(t, "unlimited", httpx.RateLimitConfig{}.String())
}

func TestRateLimitWaitHonoursContext(t *testing.T) {
	calls := 0
	base := httpx.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})

	rt := httpx.Chain(base, httpx.RateLimit(httpx.RateLimitConfig{
		RequestsPerWindow: 1,
		Window:            time.Hour,
		Burst:             1,
	}))

	// First request uses the burst
	_, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://example.test/", nil))
	require.NoError(t, err)

	// Second has to wait an hour, the deadline cuts it short
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil).WithContext(ctx)
	_, err = rt.RoundTrip(req)
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		got, ok := httpx.BearerToken(req)
		require.Equal(t, tt.want, got, "header %q", tt.header)
		require.Equal(t, tt.ok, ok, "header %q", tt.header)
	}
}

func TestAuthnMiddleware(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	signer, err := jwtx.NewSignerHS256(secret)
	require.NoError(t, err)
	token, err := signer.Sign(jwtx.NewAccessClaims("9", "a@b.c", "", time.Minute, time.Now()))
	require.NoError(t, err)

	h := httpx.AuthnMiddleware(jwtx.NewVerifierHS256(secret, ""), nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := httpx.ClaimsFromContext(r.Context())
			require.True(t, ok)
			require.Equal(t, "9", claims.Subject)
			w.WriteHeader(http.StatusOK)
		}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer invalid.jwt.token")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}
