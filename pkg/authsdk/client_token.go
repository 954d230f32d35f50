package authsdk

import (
	"context"
	"net/http"
)

// Login exchanges an identifier and secret for a credential pair.
func (c *Client) Login(ctx context.Context, identifier, secret string) (*TokenResponse, error) {
	return c.requestToken(ctx, "/login",
		credentialsRequest{Email: identifier, Password: secret},
		[]int{http.StatusOK},
		map[int]error{http.StatusUnauthorized: ErrInvalidCredentials},
	)
}

// Register creates an account and returns its first credential pair.
func (c *Client) Register(ctx context.Context, identifier, secret string) (*TokenResponse, error) {
	return c.requestToken(ctx, "/register",
		credentialsRequest{Email: identifier, Password: secret},
		[]int{http.StatusCreated, http.StatusOK},
		map[int]error{http.StatusConflict: ErrIdentifierAlreadyRegistered},
	)
}

// Refresh exchanges a renewal credential for a new pair. The submitted
// credential is spent whatever the outcome; callers must never reuse it.
func (c *Client) Refresh(ctx context.Context, renewal string) (*TokenResponse, error) {
	return c.requestToken(ctx, "/refresh",
		refreshRequest{RefreshToken: renewal},
		[]int{http.StatusOK},
		map[int]error{
			http.StatusBadRequest:   ErrRenewalRejected,
			http.StatusUnauthorized: ErrRenewalRejected,
			http.StatusForbidden:    ErrRenewalRejected,
		},
	)
}

func (c *Client) requestToken(
	ctx context.Context,
	path string,
	payload any,
	accept []int,
	kinds map[int]error,
) (*TokenResponse, error) {
	resp, err := c.postJSON(ctx, c.AuthPath+path, payload)
	if err != nil {
		return nil, err
	}

	var tokens TokenResponse
	if err := decodeJSON(resp, &tokens, accept, kinds); err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return nil, ErrMalformedTokenResponse
	}

	return &tokens, nil
}
