package cli

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aussiebroadwan/swellwatch/pkg/authsdk"
	"github.com/aussiebroadwan/swellwatch/pkg/httpx"
	"github.com/aussiebroadwan/swellwatch/pkg/securestore"
	"github.com/spf13/viper"
)

// Store types accepted by --store.
const (
	StoreMemory  = "memory"
	StoreFile    = "file"
	StoreKeyring = "keyring"
	StoreSQLite  = "sqlite"
	StoreRedis   = "redis"
)

type Config struct {
	Env       string // Environment (dev, prod) (default: prod)
	LogLevel  string // Log level (debug, info, warn, error) (default: warn)
	LogFormat string // Log format (json, text) (default: text)

	APIURL         string        // Base URL of the swellwatch API (default: http://localhost:8000)
	AuthPath       string        // Prefix of the auth endpoints (default: /api/v1/auth)
	RequestTimeout time.Duration // Per-request timeout (default: 10s)
	RenewTimeout   time.Duration // Bound on one credential renewal (default: 15s)

	Store     StoreConfig
	RateLimit httpx.RateLimitConfig

	MetricsAddr string // Listen address for /metrics during watch; empty disables (default: 127.0.0.1:9464)
}

// StoreConfig selects where the renewal credential is kept.
type StoreConfig struct {
	Type       string // memory, file, keyring, sqlite, redis (default: keyring)
	Path       string // File or database path; keyring file-fallback directory
	Service    string // Keyring service name (default: swellwatch)
	Backend    string // Optional keyring backend, e.g. "file", "keychain", "secret-service"
	Addr       string // Redis address (default: localhost:6379)
	Passphrase string // Sealing passphrase; required for file and sqlite
	Key        string // Slot holding the renewal credential
}

// Viper keys. Each is also a persistent flag and, upper-cased with dashes
// turned into underscores, a SWELL_ environment variable.
const (
	keyConfig          = "config"
	keyEnv             = "env"
	keyLogLevel        = "log-level"
	keyLogFormat       = "log-format"
	keyAPIURL          = "api-url"
	keyAuthPath        = "auth-path"
	keyRequestTimeout  = "request-timeout"
	keyRenewTimeout    = "renew-timeout"
	keyStore           = "store"
	keyStorePath       = "store-path"
	keyStoreService    = "store-service"
	keyStoreBackend    = "store-backend"
	keyStoreAddr       = "store-addr"
	keyStorePassphrase = "store-passphrase"
	keyStoreKey        = "store-key"
	keyRateRequests    = "rate-limit-requests"
	keyRateWindow      = "rate-limit-window"
	keyRateBurst       = "rate-limit-burst"
	keyMetricsAddr     = "metrics-addr"
)

// newViper returns a viper instance with defaults set, reading SWELL_
// environment variables.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// LoadConfig reads the effective configuration: flags over environment over
// config file over defaults.
func LoadConfig(v *viper.Viper) (Config, error) {
	if file := v.GetString(keyConfig); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Config{
		Env:            v.GetString(keyEnv),
		LogLevel:       v.GetString(keyLogLevel),
		LogFormat:      v.GetString(keyLogFormat),
		APIURL:         strings.TrimSuffix(v.GetString(keyAPIURL), "/"),
		AuthPath:       v.GetString(keyAuthPath),
		RequestTimeout: v.GetDuration(keyRequestTimeout),
		RenewTimeout:   v.GetDuration(keyRenewTimeout),
		Store: StoreConfig{
			Type:       strings.ToLower(v.GetString(keyStore)),
			Path:       v.GetString(keyStorePath),
			Service:    v.GetString(keyStoreService),
			Backend:    v.GetString(keyStoreBackend),
			Addr:       v.GetString(keyStoreAddr),
			Passphrase: v.GetString(keyStorePassphrase),
			Key:        v.GetString(keyStoreKey),
		},
		RateLimit: httpx.RateLimitConfig{
			RequestsPerWindow: v.GetInt(keyRateRequests),
			Window:            v.GetDuration(keyRateWindow),
			Burst:             v.GetInt(keyRateBurst),
		},
		MetricsAddr: v.GetString(keyMetricsAddr),
	}

	if cfg.Store.Path == "" {
		path, err := defaultStorePath(cfg.Store.Type)
		if err != nil {
			return Config{}, err
		}
		cfg.Store.Path = path
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid api url %q", c.APIURL)
	}
	if !strings.HasPrefix(c.AuthPath, "/") {
		return fmt.Errorf("auth path must start with /: %q", c.AuthPath)
	}
	if c.RequestTimeout <= 0 || c.RenewTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.Store.Key == "" {
		return errors.New("store key must not be empty")
	}

	switch c.Store.Type {
	case StoreMemory, StoreKeyring, StoreRedis:
	case StoreFile, StoreSQLite:
		if c.Store.Passphrase == "" {
			return fmt.Errorf("%s store needs a passphrase (--%s or SWELL_STORE_PASSPHRASE)", c.Store.Type, keyStorePassphrase)
		}
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	return nil
}

// defaultStorePath places on-disk stores under the user's config directory.
func defaultStorePath(storeType string) (string, error) {
	var name string
	switch storeType {
	case StoreFile:
		name = "credentials.json"
	case StoreSQLite:
		name = "credentials.db"
	case StoreKeyring:
		name = "keyring"
	default:
		return "", nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "swellwatch", name), nil
}

// defaults are the values used when neither flag, environment nor config
// file says otherwise.
var defaults = map[string]any{
	keyEnv:            "prod",
	keyLogLevel:       "warn",
	keyLogFormat:      "text",
	keyAPIURL:         "http://localhost:8000",
	keyAuthPath:       authsdk.DefaultAuthPath,
	keyRequestTimeout: 10 * time.Second,
	keyRenewTimeout:   authsdk.DefaultRenewTimeout,
	keyStore:          StoreKeyring,
	keyStoreService:   "swellwatch",
	keyStoreAddr:      "localhost:6379",
	keyStoreKey:       securestore.DefaultKey,
	keyRateRequests:   httpx.DefaultClientLimit.RequestsPerWindow,
	keyRateWindow:     httpx.DefaultClientLimit.Window,
	keyRateBurst:      httpx.DefaultClientLimit.Burst,
	keyMetricsAddr:    "127.0.0.1:9464",
}
