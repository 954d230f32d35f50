package authsdk

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

// Secret length bounds enforced by the backend on registration.
const (
	MinSecretLength = 8
	MaxSecretLength = 128
)

const validationRequired = "required"

// ValidateCredentials checks an identifier/secret pair the way the backend
// will, so obvious mistakes never cost a round trip. Length bounds apply to
// registration only: existing accounts may predate them. Returns a map of
// field names to reasons, or nil if the input is acceptable.
func ValidateCredentials(identifier, secret string, registering bool) map[string]string {
	errs := make(map[string]string)

	switch {
	case strings.TrimSpace(identifier) == "":
		errs["email"] = validationRequired
	case !isEmailAddress(identifier):
		errs["email"] = "must be a valid email address"
	}

	n := utf8.RuneCountInString(secret)
	switch {
	case n == 0:
		errs["password"] = validationRequired
	case registering && n < MinSecretLength:
		errs["password"] = "must be at least 8 characters"
	case registering && n > MaxSecretLength:
		errs["password"] = "must be at most 128 characters"
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// isEmailAddress accepts a bare addr-spec; display names are refused.
func isEmailAddress(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(addr.Address, "@")
}
