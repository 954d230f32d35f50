package httpx

import (
	"fmt"
	"net/http"
	"time"

	"github.com/aussiebroadwan/swellwatch/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window.
	// Zero or negative disables limiting.
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// DefaultClientLimit keeps a screen full of parallel fetches well under the
// backend's per-IP limits.
var DefaultClientLimit = RateLimitConfig{
	RequestsPerWindow: 120,
	Window:            time.Minute,
	Burst:             20,
}

// Enabled reports whether the config limits anything.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerWindow > 0 && c.Window > 0
}

func (c RateLimitConfig) String() string {
	if !c.Enabled() {
		return "unlimited"
	}
	return fmt.Sprintf("%d/%s burst %d", c.RequestsPerWindow, c.Window, c.Burst)
}

// RateLimit paces outbound requests through a single token bucket shared by
// every request using the transport. Requests wait for a token instead of
// failing; a cancelled request context aborts the wait.
func RateLimit(cfg RateLimitConfig) Middleware {
	if !cfg.Enabled() {
		return nil
	}

	burst := max(cfg.Burst, 1)
	limiter := rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerWindow)/cfg.Window.Seconds()), burst)

	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			ctx := r.Context()

			if !limiter.Allow() {
				slogx.FromContext(ctx).Debug("rate limit: waiting for token", "path", r.URL.Path)
				if err := limiter.Wait(ctx); err != nil {
					return nil, fmt.Errorf("rate limit wait: %w", err)
				}
			}

			return next.RoundTrip(r)
		})
	}
}
