package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aussiebroadwan/swellwatch/pkg/authsdk"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand returns the swellctl command tree. Each call has its own
// viper instance, so trees built in parallel tests do not share settings.
func NewRootCommand() *cobra.Command {
	v := newViper()

	root := &cobra.Command{
		Use:           "swellctl",
		Short:         "Use the swellwatch API from the command line",
		Long:          "swellctl keeps a swellwatch session in a secure store and sends authenticated requests, renewing credentials as needed.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String(keyConfig, "", "Config file (yaml, json or toml)")
	flags.String(keyEnv, defaults[keyEnv].(string), "Environment (dev, prod)")
	flags.String(keyLogLevel, defaults[keyLogLevel].(string), "Log level (debug, info, warn, error)")
	flags.String(keyLogFormat, defaults[keyLogFormat].(string), "Log format (json, text)")
	flags.String(keyAPIURL, defaults[keyAPIURL].(string), "Base URL of the swellwatch API")
	flags.String(keyAuthPath, defaults[keyAuthPath].(string), "Path prefix of the auth endpoints")
	flags.Duration(keyRequestTimeout, defaults[keyRequestTimeout].(time.Duration), "Timeout for a single request")
	flags.Duration(keyRenewTimeout, defaults[keyRenewTimeout].(time.Duration), "Timeout for a credential renewal")
	flags.String(keyStore, defaults[keyStore].(string), "Secure store: memory, file, keyring, sqlite, redis")
	flags.String(keyStorePath, "", "Store file, database or keyring directory (default under the user config dir)")
	flags.String(keyStoreService, defaults[keyStoreService].(string), "Keyring service name")
	flags.String(keyStoreBackend, "", "Keyring backend to force (e.g. file, keychain, secret-service)")
	flags.String(keyStoreAddr, defaults[keyStoreAddr].(string), "Redis address")
	flags.String(keyStorePassphrase, "", "Passphrase sealing the stored credential")
	flags.String(keyStoreKey, defaults[keyStoreKey].(string), "Store slot holding the renewal credential")
	flags.Int(keyRateRequests, defaults[keyRateRequests].(int), "Requests allowed per rate-limit window (0 disables)")
	flags.Duration(keyRateWindow, defaults[keyRateWindow].(time.Duration), "Rate-limit window")
	flags.Int(keyRateBurst, defaults[keyRateBurst].(int), "Rate-limit burst")
	flags.String(keyMetricsAddr, defaults[keyMetricsAddr].(string), "Listen address for /metrics while watching (empty disables)")

	if err := v.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("bind flags: %v", err))
	}

	root.AddCommand(
		newLoginCommand(v),
		newRegisterCommand(v),
		newLogoutCommand(v),
		newStatusCommand(v),
		newGetCommand(v),
		newPostCommand(v),
		newWatchCommand(v),
	)
	return root
}

// withApp loads configuration, builds the application, runs fn and closes
// the application again.
func withApp(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, app *Application) error) error {
	cfg, err := LoadConfig(v)
	if err != nil {
		return err
	}

	app, err := New(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	return fn(cmd.Context(), app)
}

func credentialFlags(cmd *cobra.Command) {
	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Account password (default $SWELL_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
}

func credentialArgs(cmd *cobra.Command) (email, password string) {
	email, _ = cmd.Flags().GetString("email")
	password, _ = cmd.Flags().GetString("password")
	if password == "" {
		password = os.Getenv("SWELL_PASSWORD")
	}
	return email, password
}

func newLoginCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, password := credentialArgs(cmd)
			return withApp(cmd, v, func(ctx context.Context, app *Application) error {
				if err := app.Session().Login(ctx, email, password); err != nil {
					return describe(err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", email)
				return nil
			})
		},
	}
	credentialFlags(cmd)
	return cmd
}

func newRegisterCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, password := credentialArgs(cmd)
			return withApp(cmd, v, func(ctx context.Context, app *Application) error {
				if err := app.Session().Register(ctx, email, password); err != nil {
					return describe(err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "registered and logged in as %s\n", email)
				return nil
			})
		},
	}
	credentialFlags(cmd)
	return cmd
}

func newLogoutCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, v, func(ctx context.Context, app *Application) error {
				app.Session().Logout(ctx)
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "logged out")
				return nil
			})
		},
	}
}

func newStatusCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Resume the stored session and show who is logged in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, v, func(ctx context.Context, app *Application) error {
				if err := app.Restore(ctx); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				s := app.Session()
				if !s.IsAuthenticated() {
					_, _ = fmt.Fprintln(out, "authenticated: no")
					return nil
				}

				_, _ = fmt.Fprintln(out, "authenticated: yes")
				if claims, ok := s.Identity(); ok {
					_, _ = fmt.Fprintf(out, "email:         %s\n", claims.Email)
					if claims.ExpiresAt != nil {
						_, _ = fmt.Fprintf(out, "expires:       %s\n", claims.ExpiresAt.Format(time.RFC3339))
					}
				}
				_, _ = fmt.Fprintf(out, "store:         %s\n", app.cfg.Store.Type)
				return nil
			})
		},
	}
}

func newGetCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "get PATH",
		Short: "Send an authenticated GET and print the response body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, func(ctx context.Context, app *Application) error {
				if err := app.Restore(ctx); err != nil {
					return err
				}
				return fetch(ctx, app, http.MethodGet, args[0], "", cmd.OutOrStdout())
			})
		},
	}
}

func newPostCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post PATH",
		Short: "Send an authenticated JSON POST and print the response body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _ := cmd.Flags().GetString("data")
			return withApp(cmd, v, func(ctx context.Context, app *Application) error {
				if err := app.Restore(ctx); err != nil {
					return err
				}
				return fetch(ctx, app, http.MethodPost, args[0], data, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().String("data", "{}", "JSON request body")
	return cmd
}

// fetch sends one request through the session and copies the body to out.
func fetch(ctx context.Context, app *Application, method, path, data string, out io.Writer) error {
	var (
		body    io.Reader
		headers = map[string]string{"Accept": "application/json"}
	)
	if data != "" {
		body = strings.NewReader(data)
		headers["Content-Type"] = "application/json"
	}

	resp, err := app.Session().Execute(ctx, method, path, body, headers)
	if err != nil {
		return describe(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if authsdk.IsAuthorizationFailure(resp) {
			return fmt.Errorf("%s %s: %s (try swellctl login)", method, path, resp.Status)
		}
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(detail)))
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	_, _ = fmt.Fprintln(out)
	return nil
}

// describe turns SDK errors into messages a person at a terminal can act on.
func describe(err error) error {
	var vErr *authsdk.ValidationError
	switch {
	case errors.As(err, &vErr):
		return vErr
	case errors.Is(err, authsdk.ErrInvalidCredentials):
		return errors.New("wrong email or password")
	case errors.Is(err, authsdk.ErrIdentifierAlreadyRegistered):
		return errors.New("that email is already registered; use swellctl login")
	case errors.Is(err, authsdk.ErrRenewalRejected):
		return errors.New("session expired; use swellctl login")
	case errors.Is(err, authsdk.ErrStorageUnavailable):
		return fmt.Errorf("secure store unavailable: %w", err)
	}
	return err
}
