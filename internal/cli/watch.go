package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newWatchCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch PATH",
		Short: "Poll an endpoint, printing each response; serves /metrics meanwhile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, _ := cmd.Flags().GetDuration("interval")
			count, _ := cmd.Flags().GetInt("count")
			if interval <= 0 {
				return errors.New("interval must be positive")
			}

			return withApp(cmd, v, func(ctx context.Context, app *Application) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				if app.cfg.MetricsAddr != "" {
					shutdown := serveMetrics(app)
					defer shutdown()
				}

				if err := app.Restore(ctx); err != nil {
					return err
				}
				return watch(ctx, app, args[0], interval, count, cmd)
			})
		},
	}
	cmd.Flags().Duration("interval", 5*time.Minute, "Time between polls")
	cmd.Flags().Int("count", 0, "Stop after this many polls (0 polls until interrupted)")
	return cmd
}

// watch polls path until ctx ends or count polls have run. A failed poll is
// reported and the loop carries on; only an ended session stops it early.
func watch(ctx context.Context, app *Application, path string, interval time.Duration, count int, cmd *cobra.Command) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		err := fetch(ctx, app, http.MethodGet, path, "", cmd.OutOrStdout())
		if err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "poll %d: %v\n", n, err)
			if !app.Session().IsAuthenticated() {
				return errors.New("session ended; use swellctl login")
			}
		}
		if count > 0 && n >= count {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// serveMetrics exposes the registry on the configured address and returns
// a function that stops the server.
func serveMetrics(app *Application) func() {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", app.MetricsHandler())

	server := &http.Server{
		Addr:              app.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("metrics server failed", "error", err)
		}
	}()
	app.logger.Info("serving metrics", "addr", app.cfg.MetricsAddr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			app.logger.Error("graceful metrics shutdown failed", "error", err)
		}
	}
}
