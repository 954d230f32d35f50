package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/swellwatch/pkg/jwtx"
	"github.com/aussiebroadwan/swellwatch/pkg/slogx"
)

// BearerToken extracts the credential from an "Authorization: Bearer" header.
// An empty credential counts as absent.
func BearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	return raw, raw != ""
}

// AuthnMiddleware rejects requests without a valid access token with
// 401 and a WWW-Authenticate challenge. Verified claims are placed in the
// request context. The extra check, when non-nil, lets the caller revoke
// tokens the verifier would otherwise accept.
func AuthnMiddleware(v jwtx.Verifier, check func(jwtx.Claims) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			raw, ok := BearerToken(r)
			if !ok {
				writeBearerError(w, "Authentication required")
				return
			}

			claims, err := v.Verify(raw)
			if err == nil && check != nil {
				err = check(claims)
			}
			if err != nil {
				log.Debug("bearer token refused", "error", err)
				writeBearerError(w, "Authentication required")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeBearerError(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	WriteDetail(w, http.StatusUnauthorized, detail)
}
