package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	// ErrInvalidCredentials is returned by Login when the identifier and
	// secret do not match an account.
	ErrInvalidCredentials = errors.New("authsdk: invalid credentials")

	// ErrIdentifierAlreadyRegistered is returned by Register when the
	// identifier is taken.
	ErrIdentifierAlreadyRegistered = errors.New("authsdk: identifier already registered")

	// ErrAuthorizationFailure marks a 401 from a resource endpoint. The
	// pipeline hands such responses back as *http.Response; this sentinel is
	// for callers that turn them into errors.
	ErrAuthorizationFailure = errors.New("authsdk: authorization failure")

	// ErrNoRenewalCredential means a renewal was attempted with nothing to
	// renew. The session is logged out.
	ErrNoRenewalCredential = errors.New("authsdk: no renewal credential")

	// ErrRenewalRejected means the server refused the renewal credential
	// (expired, revoked or already used). Credentials have been cleared.
	ErrRenewalRejected = errors.New("authsdk: renewal rejected")

	// ErrStorageUnavailable means the secure store could not be reached.
	ErrStorageUnavailable = errors.New("authsdk: secure storage unavailable")

	// ErrMalformedTokenResponse is returned when a 2xx token response is
	// missing either credential.
	ErrMalformedTokenResponse = errors.New("authsdk: malformed token response")
)

// APIError is a non-2xx answer from the backend. When the status maps to a
// sentinel above (401 on login, 409 on register, ...) errors.Is matches it.
type APIError struct {
	StatusCode int
	Detail     string

	kind error
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("authsdk: HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("authsdk: HTTP %d: %s", e.StatusCode, e.Detail)
}

func (e *APIError) Unwrap() error { return e.kind }

// NetworkError is a transport failure: the request never produced a
// response. It never triggers a renewal.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("authsdk: %s: %v", e.Op, e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError carries per-field reasons, from local validation or from
// a 422 response.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ": " + e.Fields[f]
	}
	return "authsdk: invalid input: " + strings.Join(parts, "; ")
}

// parseErrorResponse turns a non-2xx response into a typed error. kinds maps
// status codes to the sentinel the caller should be able to match.
func parseErrorResponse(resp *http.Response, body []byte, kinds map[int]error) error {
	var env errorResponse
	_ = json.Unmarshal(body, &env)

	if resp.StatusCode == http.StatusUnprocessableEntity {
		var issues []validationIssue
		if err := json.Unmarshal(env.Detail, &issues); err == nil && len(issues) > 0 {
			return &ValidationError{Fields: issueFields(issues)}
		}
	}

	var detail string
	if err := json.Unmarshal(env.Detail, &detail); err != nil {
		detail = strings.TrimSpace(string(body))
		if len(detail) > 200 {
			detail = detail[:200]
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Detail:     detail,
		kind:       kinds[resp.StatusCode],
	}
}

// issueFields keys each issue by the last element of its location, which is
// the offending field name ("email", "password").
func issueFields(issues []validationIssue) map[string]string {
	fields := make(map[string]string, len(issues))
	for _, is := range issues {
		name := "body"
		if n := len(is.Loc); n > 0 {
			name = fmt.Sprint(is.Loc[n-1])
		}
		fields[name] = is.Msg
	}
	return fields
}
