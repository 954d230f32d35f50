// Package cli is the swellctl command-line shell over pkg/authsdk: it loads
// configuration, opens the secure store and wires a session whose requests
// are logged, rate limited and measured.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/swellwatch/pkg/authmetrics"
	"github.com/aussiebroadwan/swellwatch/pkg/authsdk"
	"github.com/aussiebroadwan/swellwatch/pkg/httpx"
	"github.com/aussiebroadwan/swellwatch/pkg/securestore"
	"github.com/aussiebroadwan/swellwatch/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

// Application holds one command's dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	store      securestore.Store
	closeStore func() error

	registry *prometheus.Registry
	metrics  *authmetrics.Observer
	session  *authsdk.Session
}

// New wires an Application from cfg. Logs go to logOut.
func New(cfg Config, logOut io.Writer) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "swellctl",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  logOut,
		}),
	}

	if err := app.initStore(); err != nil {
		return nil, err
	}
	if err := app.initMetrics(); err != nil {
		_ = app.closeStore()
		return nil, err
	}
	app.initSession()

	return app, nil
}

func (app *Application) initStore() error {
	store, closeStore, err := openStore(app.cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", app.cfg.Store.Type, err)
	}
	app.store = store
	app.closeStore = closeStore

	app.logger.Debug("secure store opened", "type", app.cfg.Store.Type)
	return nil
}

func (app *Application) initMetrics() error {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(collectors.NewGoCollector())

	metrics, err := authmetrics.New(authmetrics.WithRegisterer(app.registry))
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	app.metrics = metrics
	return nil
}

// initSession builds the outbound transport (request logging, then the
// rate limiter, then the network) and the session on top of it.
func (app *Application) initSession() {
	transport := httpx.Chain(http.DefaultTransport,
		func(next http.RoundTripper) http.RoundTripper { return slogx.Transport(app.logger, next) },
		httpx.RateLimit(app.cfg.RateLimit),
	)

	client := authsdk.NewClient(app.cfg.APIURL)
	client.AuthPath = app.cfg.AuthPath
	client.HTTPClient = &http.Client{Transport: transport, Timeout: app.cfg.RequestTimeout}

	app.session = authsdk.NewSession(client, app.store,
		authsdk.WithSessionLogger(app.logger),
		authsdk.WithSessionObserver(app.metrics),
		authsdk.WithSessionRenewTimeout(app.cfg.RenewTimeout),
		authsdk.WithSessionStoreKey(app.cfg.Store.Key),
	)
}

func (app *Application) Session() *authsdk.Session { return app.session }

func (app *Application) Logger() *slog.Logger { return app.logger }

// MetricsHandler serves the application's registry.
func (app *Application) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})
}

// Restore resumes a persisted session and waits until that attempt has
// resolved. A failed restore is not an error: the session is simply logged
// out.
func (app *Application) Restore(ctx context.Context) error {
	app.session.Start(ctx)
	select {
	case <-app.session.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the secure store.
func (app *Application) Close() error {
	if err := app.closeStore(); err != nil {
		app.logger.Error("error closing secure store", "error", err)
		return err
	}
	return nil
}
