package authsdk_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/swellwatch/internal/authtest"
	"github.com/aussiebroadwan/swellwatch/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

func TestClient_RegisterLoginRefresh(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t)
	c := authsdk.NewClient(srv.URL + "/")
	ctx := context.Background()

	reg, err := c.Register(ctx, testEmail, testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, reg.AccessToken)
	require.NotEmpty(t, reg.RefreshToken)
	require.Equal(t, "bearer", reg.TokenType)

	login, err := c.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)
	require.NotEqual(t, reg.RefreshToken, login.RefreshToken)

	rotated, err := c.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	// The spent credential is single-use.
	_, err = c.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, authsdk.ErrRenewalRejected)

	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Equal(t, "Invalid or expired refresh token", apiErr.Detail)
}

func TestClient_ErrorMapping(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t)
	require.NoError(t, srv.SeedUser(testEmail, testPassword))
	c := authsdk.NewClient(srv.URL)
	ctx := context.Background()

	t.Run("wrong password", func(t *testing.T) {
		_, err := c.Login(ctx, testEmail, "not-the-password")
		require.ErrorIs(t, err, authsdk.ErrInvalidCredentials)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := c.Login(ctx, "nobody@example.com", testPassword)
		require.ErrorIs(t, err, authsdk.ErrInvalidCredentials)
	})

	t.Run("duplicate registration", func(t *testing.T) {
		_, err := c.Register(ctx, testEmail, testPassword)
		require.ErrorIs(t, err, authsdk.ErrIdentifierAlreadyRegistered)
	})

	t.Run("server validation", func(t *testing.T) {
		_, err := c.Register(ctx, "new@example.com", "short")
		var verr *authsdk.ValidationError
		require.ErrorAs(t, err, &verr)
		require.Contains(t, verr.Fields, "password")
	})

	t.Run("server error on refresh", func(t *testing.T) {
		srv.FailRefresh(http.StatusServiceUnavailable)
		t.Cleanup(func() { srv.FailRefresh(0) })

		_, err := c.Refresh(ctx, "anything")
		require.NotErrorIs(t, err, authsdk.ErrRenewalRejected)

		var apiErr *authsdk.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	})
}

func TestClient_NetworkError(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t)
	c := authsdk.NewClient(srv.URL)
	srv.Close()

	_, err := c.Login(context.Background(), testEmail, testPassword)
	var netErr *authsdk.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.Contains(t, netErr.Op, "/login")
}

func TestClient_MalformedTokenResponse(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"A1","token_type":"bearer"}`))
	}))
	t.Cleanup(ts.Close)

	_, err := authsdk.NewClient(ts.URL).Login(context.Background(), testEmail, testPassword)
	require.ErrorIs(t, err, authsdk.ErrMalformedTokenResponse)
}

func TestClient_PlainTextErrorBody(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream timeout", http.StatusBadGateway)
	}))
	t.Cleanup(ts.Close)

	_, err := authsdk.NewClient(ts.URL).Refresh(context.Background(), "R1")
	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	require.Equal(t, "upstream timeout", apiErr.Detail)
}
