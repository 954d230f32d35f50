/*
Package authsdk is the authenticated request pipeline of the swellwatch
client.

# Overview

Every data call the app makes goes through one Pipeline. The pipeline attaches
the short-lived access credential, and when the API answers 401 it asks the
RefreshCoordinator for a new one and retries the request exactly once. The
coordinator guarantees that however many requests fail at the same moment,
only one renewal call reaches the server: renewal credentials are single-use,
so a second concurrent renewal would spend a credential that was already
rotated and lock the user out.

The package is organized around four types, leaves first:

  - CredentialStore: the access credential (memory only) and the renewal
    credential (persisted through a securestore.Store)
  - RefreshCoordinator: the single-flight renewal
  - Pipeline: attach, detect 401, renew, retry once
  - Session: login/register/logout, the authenticated flag and startup restore

Client speaks the auth endpoints (login, register, refresh) and holds no
state.

# Usage

	client := authsdk.NewClient("https://api.swellwatch.example")
	secure, _ := securestore.OpenKeyring(securestore.KeyringConfig{Service: "swellwatch"})

	session := authsdk.NewSession(client, secure)
	session.Start(ctx) // silent restore from the persisted renewal credential
	<-session.Ready()

	if !session.IsAuthenticated() {
		if err := session.Login(ctx, "kelly@example.com", "barrels-all-day"); err != nil {
			return err
		}
	}

	resp, err := session.Execute(ctx, http.MethodGet, "/api/v1/alerts", nil, nil)

HTTPClient returns a plain *http.Client routed through the pipeline, for code
that only knows net/http.

# Renewal

A request that receives a 401 calls RefreshCoordinator.RenewAfter with the
credential it sent. If the store already holds a different one (another
caller renewed in the meantime) it is reused with no network call. Otherwise
the caller joins the in-flight renewal, or starts one. The renewal writes both
new credentials to the store before any waiter is released, so a request
issued after the renewal always carries the new credential.

A failed renewal clears both credentials and every waiter receives the same
error. The request that triggered it returns that error rather than its 401.

# Retry

A request is retried at most once. If the retry is answered with 401 too,
that response is returned as is. Request bodies are replayed from GetBody
when the request has one and buffered otherwise.

# Error Handling

  - *NetworkError: transport failure; never triggers a renewal
  - ErrInvalidCredentials: Login refused (401)
  - ErrIdentifierAlreadyRegistered: Register refused (409)
  - *ValidationError: bad input, found locally or reported by the API (422)
  - ErrNoRenewalCredential: nothing to renew with; the session is logged out
  - ErrRenewalRejected: the server refused the renewal credential
  - ErrStorageUnavailable: the secure store could not be reached; treated as
    no renewal credential
  - *APIError: any other non-2xx answer; errors.Is matches the sentinels above

Example:

	if err := session.Login(ctx, email, password); err != nil {
		var verr *authsdk.ValidationError
		switch {
		case errors.Is(err, authsdk.ErrInvalidCredentials):
			fmt.Println("wrong email or password")
		case errors.As(err, &verr):
			for field, reason := range verr.Fields {
				fmt.Printf("%s: %s\n", field, reason)
			}
		default:
			return err
		}
	}

# Thread Safety

All types are safe for concurrent use. Credentials are only ever written
through CredentialStore; persisted writes are serialized so a logout can
never be undone by a renewal that was already on the network.
*/
package authsdk
