package authsdk

import "encoding/json"

// ============================================================================
// Token Types
// ============================================================================

// TokenResponse is the body of a successful login, register or refresh.
type TokenResponse struct {
	// AccessToken is the short-lived JWT sent as a bearer credential.
	AccessToken string `json:"access_token"`

	// RefreshToken is the single-use renewal credential. The server
	// invalidates it the moment it is exchanged.
	RefreshToken string `json:"refresh_token"`

	// TokenType is "bearer".
	TokenType string `json:"token_type"`
}

// ============================================================================
// Internal Request/Response Types (used for JSON marshaling)
// ============================================================================

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// errorResponse is the backend error body. Detail is a plain string for
// most errors and a list of issues for request validation failures.
type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// validationIssue is one entry of a 422 detail list.
type validationIssue struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}
