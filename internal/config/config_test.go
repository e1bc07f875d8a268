package config

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	// Clear any env vars that might interfere.
	for _, env := range []string{
		"CALLBOT_DATA_DIR", "CALLBOT_HTTP_PORT", "CALLBOT_PUBLIC_URL",
		"CALLBOT_PLATFORM_URL", "CALLBOT_SIGNING_SECRET", "CALLBOT_HISTORY_DSN",
		"CALLBOT_ANSWER_TIMEOUT", "CALLBOT_LOG_LEVEL", "CALLBOT_LOG_FORMAT",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.AnswerTimeout != defaultAnswerTimeout {
		t.Errorf("AnswerTimeout = %s, want %s", cfg.AnswerTimeout, defaultAnswerTimeout)
	}
	if cfg.HistoryDSN != "" {
		t.Errorf("HistoryDSN = %q, want empty", cfg.HistoryDSN)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.LogFormat != defaultLogFormat {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, defaultLogFormat)
	}
}

func TestEnvVarOverride(t *testing.T) {
	t.Setenv("CALLBOT_HTTP_PORT", "9090")
	t.Setenv("CALLBOT_PUBLIC_URL", "https://bot.example.com")
	t.Setenv("CALLBOT_ANSWER_TIMEOUT", "5m")
	t.Setenv("CALLBOT_LOG_LEVEL", "debug")

	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.PublicURL != "https://bot.example.com" {
		t.Errorf("PublicURL = %q, want https://bot.example.com", cfg.PublicURL)
	}
	if cfg.AnswerTimeout != 5*time.Minute {
		t.Errorf("AnswerTimeout = %s, want 5m", cfg.AnswerTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	// CLI flags should override env vars.
	t.Setenv("CALLBOT_HTTP_PORT", "9090")
	t.Setenv("CALLBOT_LOG_LEVEL", "debug")

	cfg, err := load([]string{"--http-port", "3000", "--log-level", "warn"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000 (CLI should override env)", cfg.HTTPPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	if _, err := load([]string{"--http-port", "99999"}); err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	if _, err := load([]string{"--log-level", "verbose"}); err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestValidatePublicURLMustBeHTTPS(t *testing.T) {
	if _, err := load([]string{"--public-url", "http://bot.example.com"}); err == nil {
		t.Fatal("expected error for non-https public-url")
	}
	if _, err := load([]string{"--public-url", "bot.example.com"}); err == nil {
		t.Fatal("expected error for relative public-url")
	}
}

func TestWebhookURLs(t *testing.T) {
	cfg := &Config{PublicURL: "https://bot.example.com/", PlatformURL: "https://platform.example.com"}

	if got := cfg.CallbackURL(); got != "https://bot.example.com/api/calling/callback" {
		t.Errorf("CallbackURL() = %q", got)
	}
	if got := cfg.NotificationURL(); got != "https://bot.example.com/api/calling/notification" {
		t.Errorf("NotificationURL() = %q", got)
	}
	if got := cfg.JoinURL(); got != "https://platform.example.com/api/calls" {
		t.Errorf("JoinURL() = %q", got)
	}
}

func TestSigningSecretBytes(t *testing.T) {
	cfg := &Config{SigningSecret: strings.Repeat("ab", 32)}
	key, err := cfg.SigningSecretBytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("key length = %d, want 32", len(key))
	}

	cfg = &Config{SigningSecret: "zz"}
	if _, err := cfg.SigningSecretBytes(); err == nil {
		t.Fatal("expected error for invalid hex secret")
	}

	cfg = &Config{}
	key, err = cfg.SigningSecretBytes()
	if err != nil {
		t.Fatalf("unexpected error generating ephemeral secret: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("generated key length = %d, want 32", len(key))
	}
	if cfg.SigningSecret == "" {
		t.Error("generated secret should be stored back on the config")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
