package authsdk_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/swellwatch/internal/authtest"
	"github.com/aussiebroadwan/swellwatch/pkg/authsdk"
	"github.com/aussiebroadwan/swellwatch/pkg/securestore"
	"github.com/stretchr/testify/require"
)

func TestPipeline_LoginThenExecuteAttachesCredential(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t)
	s := loggedIn(t, srv, securestore.NewMemory())
	access, ok := s.Store().Access()
	require.True(t, ok)

	resp, err := getAlerts(t, s)
	require.NoError(t, err)
	defer closeBody(resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{bearer(access)}, srv.AuthorizationHeaders())
	require.Zero(t, srv.RefreshCalls())
}

func TestPipeline_PublicEndpointsPassThrough(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t)
	s := newSession(t, srv, securestore.NewMemory())

	resp, err := s.Execute(context.Background(), http.MethodGet, authtest.SpotsPath, nil, nil)
	require.NoError(t, err)
	defer closeBody(resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var spots []authtest.Spot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&spots))
	require.NotEmpty(t, spots)
}

func TestPipeline_ExpiredCredentialIsRenewedAndRetried(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := authtest.NewServer(t)
	s := loggedIn(t, srv, securestore.NewMemory())

	a1, _ := s.Store().Access()
	r1, err := s.Store().Renewal(ctx)
	require.NoError(t, err)

	srv.ExpireAccess()

	resp, err := getAlerts(t, s)
	require.NoError(t, err)
	defer closeBody(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, srv.RefreshCalls())

	a2, _ := s.Store().Access()
	r2, err := s.Store().Renewal(ctx)
	require.NoError(t, err)
	require.NotEqual(t, a1, a2)
	require.NotEqual(t, r1, r2)

	_, used := srv.RefreshTokenState(r1)
	require.True(t, used, "R1 was spent by the rotation")
	require.Equal(t, []string{bearer(a1), bearer(a2)}, srv.AuthorizationHeaders())
}

func TestPipeline_ConcurrentFailuresRenewOnce(t *testing.T) {
	t.Parallel()

	const n = 8
	srv := authtest.NewServer(t)
	s := loggedIn(t, srv, securestore.NewMemory())
	before, _ := s.Store().Access()

	srv.ExpireAccess()
	srv.HoldProtected(n)
	srv.SetRefreshDelay(50 * time.Millisecond)

	statuses := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := getAlerts(t, s)
			errs[i] = err
			if err == nil {
				statuses[i] = resp.StatusCode
				closeBody(resp)
			}
		}()
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		require.Equal(t, http.StatusOK, statuses[i])
	}
	require.EqualValues(t, 1, srv.RefreshCalls())

	after, _ := s.Store().Access()
	require.NotEqual(t, before, after)

	headers := srv.AuthorizationHeaders()
	require.Len(t, headers, 2*n)
	for _, h := range headers[:n] {
		require.Equal(t, bearer(before), h)
	}
	for _, h := range headers[n:] {
		require.Equal(t, bearer(after), h, "every retry carries the one renewed credential")
	}
}

func TestPipeline_ConcurrentFailuresShareRejection(t *testing.T) {
	t.Parallel()

	const n = 3
	ctx := context.Background()
	srv := authtest.NewServer(t)
	secure := securestore.NewMemory()
	s := loggedIn(t, srv, secure)

	srv.ExpireAccess()
	srv.RejectRefresh(true)
	srv.HoldProtected(n)
	srv.SetRefreshDelay(50 * time.Millisecond)

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := getAlerts(t, s)
			closeBody(resp)
			errs[i] = err
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, authsdk.ErrRenewalRejected)
	}
	require.EqualValues(t, 1, srv.RefreshCalls())

	_, ok := s.Store().Access()
	require.False(t, ok)
	_, err := s.Store().Renewal(ctx)
	require.ErrorIs(t, err, authsdk.ErrNoRenewalCredential)
	_, err = secure.Get(ctx, securestore.DefaultKey)
	require.ErrorIs(t, err, securestore.ErrNotFound)
	require.False(t, s.IsAuthenticated())

	// Later calls see no renewal credential and skip the network renewal.
	resp, err := getAlerts(t, s)
	require.NoError(t, err)
	defer closeBody(resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.EqualValues(t, 1, srv.RefreshCalls())
}

func TestPipeline_SecondFailureIsTerminal(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t)
	s := loggedIn(t, srv, securestore.NewMemory())
	srv.RejectAccess(true)

	resp, err := getAlerts(t, s)
	require.NoError(t, err)
	defer closeBody(resp)

	require.True(t, authsdk.IsAuthorizationFailure(resp))
	require.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
	require.EqualValues(t, 1, srv.RefreshCalls())
	require.EqualValues(t, 2, srv.ProtectedCalls(), "one original attempt and one retry")
	require.True(t, s.IsAuthenticated(), "a refused retry does not end the session")
}

func TestPipeline_AfterLogoutNoHeaderIsSent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := authtest.NewServer(t)
	s := loggedIn(t, srv, securestore.NewMemory())

	s.Logout(ctx)

	_, ok := s.Store().Access()
	require.False(t, ok)
	_, err := s.Store().Renewal(ctx)
	require.ErrorIs(t, err, authsdk.ErrNoRenewalCredential)

	resp, err := getAlerts(t, s)
	require.NoError(t, err)
	defer closeBody(resp)

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, []string{""}, srv.AuthorizationHeaders())
	require.Zero(t, srv.RefreshCalls())
}

func TestPipeline_RenewalServerErrorSurfaces(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t)
	s := loggedIn(t, srv, securestore.NewMemory())
	srv.ExpireAccess()
	srv.FailRefresh(http.StatusServiceUnavailable)

	resp, err := getAlerts(t, s)
	require.Nil(t, resp)

	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	require.False(t, s.IsAuthenticated())
}

func TestPipeline_NetworkErrorDoesNotRenew(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t)
	s := loggedIn(t, srv, securestore.NewMemory())
	srv.Close()

	_, err := getAlerts(t, s)
	var netErr *authsdk.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.Zero(t, srv.RefreshCalls())
	require.True(t, s.IsAuthenticated())
}

func TestPipeline_StorageUnavailableCountsAsNoCredential(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := authtest.NewServer(t)
	secure := &flakyStore{Store: securestore.NewMemory()}
	s := loggedIn(t, srv, secure)
	persisted, err := secure.Get(ctx, securestore.DefaultKey)
	require.NoError(t, err)

	srv.ExpireAccess()
	secure.failGet.Store(true)

	resp, err := getAlerts(t, s)
	require.NoError(t, err)
	closeBody(resp)

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Zero(t, srv.RefreshCalls())
	require.False(t, s.IsAuthenticated())

	// Once the store is readable again the kept credential renews.
	secure.failGet.Store(false)
	got, err := secure.Get(ctx, securestore.DefaultKey)
	require.NoError(t, err)
	require.Equal(t, persisted, got)

	resp, err = getAlerts(t, s)
	require.NoError(t, err)
	defer closeBody(resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, srv.RefreshCalls())
	require.True(t, s.IsAuthenticated())
}

// opaqueReader hides its concrete type so http.NewRequest sets no GetBody.
type opaqueReader struct{ io.Reader }

func TestPipeline_RetryReplaysBody(t *testing.T) {
	t.Parallel()

	const payload = `{"spot_id":2,"min_score":7.5}`

	tests := []struct {
		name string
		body func() io.Reader
	}{
		{"with GetBody", func() io.Reader { return strings.NewReader(payload) }},
		{"buffered", func() io.Reader { return opaqueReader{strings.NewReader(payload)} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := authtest.NewServer(t)
			s := loggedIn(t, srv, securestore.NewMemory())
			srv.ExpireAccess()

			resp, err := s.Execute(context.Background(), http.MethodPost, authtest.AlertsPath, tt.body(),
				map[string]string{"Content-Type": "application/json"})
			require.NoError(t, err)
			defer closeBody(resp)

			require.Equal(t, http.StatusCreated, resp.StatusCode)
			require.EqualValues(t, 1, srv.RefreshCalls())

			var alert authtest.Alert
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&alert))
			require.Equal(t, 2, alert.SpotID)
			require.InDelta(t, 7.5, alert.MinScore, 0.001)
			require.Equal(t, testEmail, alert.Owner)
		})
	}
}

func TestPipeline_HTTPClientRoutesThroughPipeline(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t)
	s := loggedIn(t, srv, securestore.NewMemory())
	srv.ExpireAccess()

	resp, err := s.HTTPClient().Get(srv.URL + authtest.AlertsPath)
	require.NoError(t, err)
	defer closeBody(resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, srv.RefreshCalls())
}

func TestPipeline_CallerHeaderCannotOverrideCredential(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t)
	s := loggedIn(t, srv, securestore.NewMemory())
	access, _ := s.Store().Access()

	resp, err := s.Execute(context.Background(), http.MethodGet, authtest.AlertsPath, nil,
		map[string]string{"Authorization": "Bearer forged"})
	require.NoError(t, err)
	defer closeBody(resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{bearer(access)}, srv.AuthorizationHeaders())
}
