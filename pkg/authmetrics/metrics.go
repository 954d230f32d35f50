// Package authmetrics exports authsdk session events as Prometheus metrics.
package authmetrics

import (
	"strconv"
	"time"

	"github.com/aussiebroadwan/swellwatch/pkg/authsdk"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "swellwatch"

// Observer implements authsdk.Observer on top of Prometheus collectors.
type Observer struct {
	renewals       *prometheus.CounterVec
	duration       prometheus.Histogram
	inFlight       prometheus.Gauge
	authorizations *prometheus.CounterVec
}

var _ authsdk.Observer = (*Observer)(nil)

// Option configures New.
type Option func(*config)

type config struct {
	registerer prometheus.Registerer
	buckets    []float64
}

// WithRegisterer registers the collectors somewhere other than
// prometheus.DefaultRegisterer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *config) { c.registerer = r }
}

// WithBuckets overrides the renewal duration histogram buckets (seconds).
func WithBuckets(b []float64) Option {
	return func(c *config) { c.buckets = b }
}

// New creates and registers the collectors. Registering twice on the same
// registerer fails.
func New(opts ...Option) (*Observer, error) {
	cfg := config{
		registerer: prometheus.DefaultRegisterer,
		buckets:    []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	o := &Observer{
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "renewals_total",
			Help:      "Credential renewal cycles by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "renewal_duration_seconds",
			Help:      "Wall time of credential renewal cycles.",
			Buckets:   cfg.buckets,
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "renewals_in_flight",
			Help:      "Renewal cycles currently running (0 or 1).",
		}),
		authorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "authorization_failures_total",
			Help:      "401 responses seen by the request pipeline, by attempt.",
		}, []string{"retried"}),
	}

	for _, c := range []prometheus.Collector{o.renewals, o.duration, o.inFlight, o.authorizations} {
		if err := cfg.registerer.Register(c); err != nil {
			return nil, err
		}
	}

	// Pre-create the series so dashboards see zeros rather than gaps.
	for _, outcome := range []authsdk.Outcome{
		authsdk.OutcomeSuccess,
		authsdk.OutcomeRejected,
		authsdk.OutcomeNoCredential,
		authsdk.OutcomeStorage,
		authsdk.OutcomeNetwork,
		authsdk.OutcomeServer,
		authsdk.OutcomeError,
	} {
		o.renewals.WithLabelValues(string(outcome))
	}
	o.authorizations.WithLabelValues("false")
	o.authorizations.WithLabelValues("true")

	return o, nil
}

// RenewalStarted counts a renewal in flight.
func (o *Observer) RenewalStarted() { o.inFlight.Inc() }

// RenewalFinished records the outcome and duration of a renewal.
func (o *Observer) RenewalFinished(outcome authsdk.Outcome, elapsed time.Duration) {
	o.inFlight.Dec()
	o.renewals.WithLabelValues(string(outcome)).Inc()
	o.duration.Observe(elapsed.Seconds())
}

// AuthorizationFailed counts a 401, labelled by whether it followed a retry.
func (o *Observer) AuthorizationFailed(retried bool) {
	o.authorizations.WithLabelValues(strconv.FormatBool(retried)).Inc()
}
