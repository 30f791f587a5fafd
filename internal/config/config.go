// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrMasterKeyRequired is returned by RequireMasterKey when MT2FA_MASTER_KEY is unset.
var ErrMasterKeyRequired = errors.New("MT2FA_MASTER_KEY is required: 64 hex characters (32 bytes)")

// Config holds the service configuration loaded from environment variables.
type Config struct {
	DataDir      string
	DBPath       string
	MasterKey    []byte // 32-byte AES-256 key; nil when MT2FA_MASTER_KEY is unset.
	PollInterval time.Duration
	ListenAddr   string

	BasicAuthUser     string
	BasicAuthPassword string

	// AccountsFile is an optional YAML account definition file synced on
	// start and watched for changes.
	AccountsFile string

	// InstallBrowsers downloads the playwright driver and Chromium on first use.
	InstallBrowsers bool

	LogLevel  slog.Level
	LogFormat string // "text" or "json"
}

// HasBasicAuth returns true when both basic auth credentials are configured.
func (c *Config) HasBasicAuth() bool {
	return c.BasicAuthUser != "" && c.BasicAuthPassword != ""
}

// RequireMasterKey fails when no master key is configured. Commands that
// read or write account secrets call it before touching the store.
func (c *Config) RequireMasterKey() error {
	if c.MasterKey == nil {
		return ErrMasterKeyRequired
	}
	return nil
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Load reads configuration from environment variables and returns a validated Config.
// Optional variables with defaults: MT2FA_DATA_DIR (/data), MT2FA_DB_PATH
// ({data_dir}/mt2fa.db), MT2FA_POLL_INTERVAL (60s), MT2FA_LISTEN_ADDR
// (127.0.0.1:8080), MT2FA_LOG_LEVEL (info), MT2FA_LOG_FORMAT (text).
// MT2FA_MASTER_KEY is validated when present; commands that need it call
// RequireMasterKey.
func Load() (*Config, error) {
	dataDir := envOr("MT2FA_DATA_DIR", "/data")
	dbPath := envOr("MT2FA_DB_PATH", filepath.Join(dataDir, "mt2fa.db"))

	pollInterval := 60 * time.Second
	if v, ok := lookupEnv("MT2FA_POLL_INTERVAL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("MT2FA_POLL_INTERVAL has invalid duration %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("MT2FA_POLL_INTERVAL must be positive, got %s", parsed)
		}
		pollInterval = parsed
	}

	var masterKey []byte
	if v, ok := lookupEnv("MT2FA_MASTER_KEY"); ok {
		key, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("MT2FA_MASTER_KEY must be hex-encoded: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("MT2FA_MASTER_KEY must be 64 hex characters (32 bytes), got %d bytes", len(key))
		}
		masterKey = key
	}

	user := os.Getenv("MT2FA_BASIC_AUTH_USER")
	password := os.Getenv("MT2FA_BASIC_AUTH_PASSWORD")
	if (user == "") != (password == "") {
		return nil, errors.New("MT2FA_BASIC_AUTH_USER and MT2FA_BASIC_AUTH_PASSWORD must be set together")
	}

	installBrowsers := false
	if v, ok := lookupEnv("MT2FA_INSTALL_BROWSERS"); ok {
		parsed, err := parseBool(v)
		if err != nil {
			return nil, fmt.Errorf("MT2FA_INSTALL_BROWSERS: %w", err)
		}
		installBrowsers = parsed
	}

	var level slog.Level
	if v, ok := lookupEnv("MT2FA_LOG_LEVEL"); ok {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("MT2FA_LOG_LEVEL has invalid level %q: %w", v, err)
		}
	}

	format := strings.ToLower(envOr("MT2FA_LOG_FORMAT", "text"))
	if format != "text" && format != "json" {
		return nil, fmt.Errorf("MT2FA_LOG_FORMAT must be text or json, got %q", format)
	}

	return &Config{
		DataDir:           dataDir,
		DBPath:            dbPath,
		MasterKey:         masterKey,
		PollInterval:      pollInterval,
		ListenAddr:        envOr("MT2FA_LISTEN_ADDR", "127.0.0.1:8080"),
		BasicAuthUser:     user,
		BasicAuthPassword: password,
		AccountsFile:      os.Getenv("MT2FA_ACCOUNTS_FILE"),
		InstallBrowsers:   installBrowsers,
		LogLevel:          level,
		LogFormat:         format,
	}, nil
}

// lookupEnv returns the trimmed value of key; blank values count as unset.
func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func envOr(key, def string) string {
	if v, ok := lookupEnv(key); ok {
		return v
	}
	return def
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

func envBool(key string, def bool) (bool, error) {
	v, ok := lookupEnv(key)
	if !ok {
		return def, nil
	}
	b, err := parseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envInt(key string, def int) (int, error) {
	v, ok := lookupEnv(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}
