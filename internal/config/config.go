package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the callbot server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir       string
	HTTPPort      int
	PublicURL     string // externally reachable base URL registered with the platform
	PlatformURL   string // base URL of the calling platform (join requests are sent here)
	SigningSecret string // hex-encoded 32-byte secret for outbound request JWT signing
	HistoryDSN    string // optional PostgreSQL DSN; empty selects embedded SQLite
	AnswerTimeout time.Duration
	LogLevel      string
	LogFormat     string // log output format: "text" or "json"
}

// defaults
const (
	defaultDataDir       = "./data"
	defaultHTTPPort      = 8080
	defaultAnswerTimeout = 10 * time.Minute
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
)

// envPrefix is the prefix for all callbot environment variables.
const envPrefix = "CALLBOT_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("callbot", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the embedded call history database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "externally reachable base URL of this bot (e.g., https://bot.example.com)")
	fs.StringVar(&cfg.PlatformURL, "platform-url", "", "base URL of the calling platform for outbound join requests")
	fs.StringVar(&cfg.SigningSecret, "signing-secret", "", "hex-encoded 32-byte secret for signing outbound requests (auto-generated if empty)")
	fs.StringVar(&cfg.HistoryDSN, "history-dsn", "", "PostgreSQL DSN for call history (embedded SQLite in data-dir if empty)")
	fs.DurationVar(&cfg.AnswerTimeout, "answer-timeout", defaultAnswerTimeout, "how long an unanswered incoming call is kept before expiry")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":       envPrefix + "DATA_DIR",
		"http-port":      envPrefix + "HTTP_PORT",
		"public-url":     envPrefix + "PUBLIC_URL",
		"platform-url":   envPrefix + "PLATFORM_URL",
		"signing-secret": envPrefix + "SIGNING_SECRET",
		"history-dsn":    envPrefix + "HISTORY_DSN",
		"answer-timeout": envPrefix + "ANSWER_TIMEOUT",
		"log-level":      envPrefix + "LOG_LEVEL",
		"log-format":     envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "public-url":
			cfg.PublicURL = val
		case "platform-url":
			cfg.PlatformURL = val
		case "signing-secret":
			cfg.SigningSecret = val
		case "history-dsn":
			cfg.HistoryDSN = val
		case "answer-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.AnswerTimeout = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.PublicURL != "" {
		if err := validateHTTPSURL("public-url", c.PublicURL); err != nil {
			return err
		}
	}
	if c.PlatformURL != "" {
		if err := validateHTTPSURL("platform-url", c.PlatformURL); err != nil {
			return err
		}
	}
	if c.AnswerTimeout <= 0 {
		return fmt.Errorf("answer-timeout must be positive, got %s", c.AnswerTimeout)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// validateHTTPSURL checks that the value parses as an absolute https URL.
// The platform only delivers webhooks over TLS, so both the registered
// public URL and the platform URL must be https.
func validateHTTPSURL(name, value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, value)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%s must use https, got %q", name, value)
	}
	return nil
}

// CallbackURL returns the webhook URL the platform should deliver operation
// callbacks to, derived from PublicURL.
func (c *Config) CallbackURL() string {
	return strings.TrimSuffix(c.PublicURL, "/") + "/api/calling/callback"
}

// NotificationURL returns the webhook URL the platform should deliver call
// notifications to, derived from PublicURL.
func (c *Config) NotificationURL() string {
	return strings.TrimSuffix(c.PublicURL, "/") + "/api/calling/notification"
}

// JoinURL returns the platform endpoint outbound join requests are posted to.
func (c *Config) JoinURL() string {
	return strings.TrimSuffix(c.PlatformURL, "/") + "/api/calls"
}

// SigningSecretBytes returns the decoded 32-byte request signing secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) SigningSecretBytes() ([]byte, error) {
	if c.SigningSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating signing secret: %w", err)
		}
		c.SigningSecret = hex.EncodeToString(key)
		slog.Warn("no signing-secret configured, generated ephemeral key (signatures will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding signing secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("signing secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
