package httpx

import (
	"context"

	"github.com/aussiebroadwan/swellwatch/pkg/jwtx"
)

type ctxKey string

const ctxKeyClaims ctxKey = "claims"

// ClaimsFromContext returns the verified claims placed by AuthnMiddleware.
func ClaimsFromContext(ctx context.Context) (jwtx.Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(jwtx.Claims)
	return c, ok
}
