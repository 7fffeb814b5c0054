package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Platform: PlatformConfig{
			StreamURL:         "wss://api.whop.com/v1/stream",
			APIBase:           "https://api.whop.com/api/v5",
			RequestsPerSecond: 5,
			StreamMaxAttempts: 10,
			StreamBaseDelay:   Duration(time.Second),
			StreamMaxDelay:    Duration(time.Minute),
		},
		Bot: BotConfig{
			ResetCommand:         "!reset-context",
			ResetAck:             "Conversation context cleared.",
			NotConfiguredMessage: "Hi! The support assistant for this community hasn't been set up yet. Please reach out to an admin.",
			DeflectionMessage:    "I'm not certain about that one. Please contact an admin so they can confirm the details.",
			MaxConcurrent:        16,
			InflightGrace:        Duration(30 * time.Second),
			CompletedKeys:        10000,
			MaxMessageLength:     2000,
			ContextSize:          20,
			ContextTTL:           Duration(30 * time.Minute),
			DedupSize:            5000,
			DuplicateWindow:      Duration(10 * time.Second),
			FeedHistorySize:      50,
			FeedHistoryMaxAge:    Duration(6 * time.Hour),
			TrackedMessages:      2000,
			MaintenanceSchedule:  "@every 1m",
			ReconcileSchedule:    "@every 10m",
		},
		Limits: LimitsConfig{
			AICallsPerMin: 20,
			SendsPerMin:   10,
			SendAttempts:  3,
			SendBaseDelay: Duration(500 * time.Millisecond),
			SendMaxDelay:  Duration(5 * time.Second),
		},
		Cache: CacheConfig{
			ConfigTTL:        Duration(30 * time.Second),
			AnswerTTL:        Duration(5 * time.Minute),
			AnswerMaxEntries: 10000,
		},
		Buffer: BufferConfig{
			MaxAttempts: 6,
			BaseDelay:   Duration(500 * time.Millisecond),
			MaxDelay:    Duration(30 * time.Second),
			Size:        50,
		},
		Provider: ProviderConfig{
			Name:          "openai",
			Model:         "gpt-4o-mini",
			MaxTokens:     500,
			Temperature:   0.3,
			Timeout:       Duration(60 * time.Second),
			RetryAttempts: 3,
		},
		Database: DatabaseConfig{
			Mode:       "sqlite",
			SQLitePath: "~/.supportbot/supportbot.db",
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18800,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "supportbot",
		},
		LogLevel: "info",
	}
}

// Load reads config from a JSON5 file (missing file is fine), then overlays
// env vars. Malformed env values are returned as errors.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.Database.SQLitePath = ExpandHome(cfg.Database.SQLitePath)
	cfg.Tenants.OverridesDir = ExpandHome(cfg.Tenants.OverridesDir)
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() error {
	var errs []error

	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: not an integer: %q", key, v))
				return
			}
			*dst = n
		}
	}
	envFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: not a number: %q", key, v))
				return
			}
			*dst = f
		}
	}
	envDur := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: not a duration: %q", key, v))
				return
			}
			*dst = Duration(d)
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Platform
	envStr("SUPPORTBOT_PLATFORM_TOKEN", &c.Platform.Token)
	envStr("SUPPORTBOT_STREAM_URL", &c.Platform.StreamURL)
	envStr("SUPPORTBOT_API_BASE", &c.Platform.APIBase)
	envStr("SUPPORTBOT_BOT_USER_ID", &c.Platform.BotUserID)
	envStr("SUPPORTBOT_BOT_USERNAME", &c.Platform.BotUsername)
	envFloat("SUPPORTBOT_API_RPS", &c.Platform.RequestsPerSecond)
	envInt("SUPPORTBOT_STREAM_MAX_ATTEMPTS", &c.Platform.StreamMaxAttempts)

	// Pipeline knobs
	envStr("SUPPORTBOT_ADMIN_USER_ID", &c.Bot.AdminUserID)
	envStr("SUPPORTBOT_RESET_COMMAND", &c.Bot.ResetCommand)
	envInt("SUPPORTBOT_MAX_CONCURRENT", &c.Bot.MaxConcurrent)
	envInt("SUPPORTBOT_MAX_MESSAGE_LENGTH", &c.Bot.MaxMessageLength)
	envInt("SUPPORTBOT_CONTEXT_SIZE", &c.Bot.ContextSize)
	envDur("SUPPORTBOT_CONTEXT_TTL", &c.Bot.ContextTTL)
	envInt("SUPPORTBOT_DEDUP_SIZE", &c.Bot.DedupSize)
	envDur("SUPPORTBOT_DUPLICATE_WINDOW", &c.Bot.DuplicateWindow)
	envStr("SUPPORTBOT_MAINTENANCE_SCHEDULE", &c.Bot.MaintenanceSchedule)
	envStr("SUPPORTBOT_RECONCILE_SCHEDULE", &c.Bot.ReconcileSchedule)

	envInt("SUPPORTBOT_AI_CALLS_PER_MIN", &c.Limits.AICallsPerMin)
	envInt("SUPPORTBOT_SENDS_PER_MIN", &c.Limits.SendsPerMin)
	envDur("SUPPORTBOT_CONFIG_CACHE_TTL", &c.Cache.ConfigTTL)
	envDur("SUPPORTBOT_ANSWER_CACHE_TTL", &c.Cache.AnswerTTL)

	envInt("SUPPORTBOT_BUFFER_MAX_ATTEMPTS", &c.Buffer.MaxAttempts)
	envDur("SUPPORTBOT_BUFFER_BASE_DELAY", &c.Buffer.BaseDelay)
	envDur("SUPPORTBOT_BUFFER_MAX_DELAY", &c.Buffer.MaxDelay)
	envInt("SUPPORTBOT_BUFFER_SIZE", &c.Buffer.Size)

	// Provider
	envStr("SUPPORTBOT_PROVIDER", &c.Provider.Name)
	envStr("SUPPORTBOT_MODEL", &c.Provider.Model)
	envStr("SUPPORTBOT_CLASSIFIER_MODEL", &c.Provider.ClassifierModel)
	envStr("SUPPORTBOT_AI_API_KEY", &c.Provider.APIKey)
	envStr("SUPPORTBOT_AI_API_BASE", &c.Provider.APIBase)
	if c.Provider.APIKey == "" {
		switch c.Provider.Name {
		case "anthropic":
			envStr("ANTHROPIC_API_KEY", &c.Provider.APIKey)
		case "openai":
			envStr("OPENAI_API_KEY", &c.Provider.APIKey)
		}
	}

	// Database
	envStr("SUPPORTBOT_MODE", &c.Database.Mode)
	envStr("SUPPORTBOT_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("SUPPORTBOT_SQLITE_PATH", &c.Database.SQLitePath)

	// Admin HTTP
	envStr("SUPPORTBOT_HOST", &c.Gateway.Host)
	envInt("SUPPORTBOT_PORT", &c.Gateway.Port)
	envStr("SUPPORTBOT_GATEWAY_TOKEN", &c.Gateway.Token)

	envStr("SUPPORTBOT_TENANT_OVERRIDES_DIR", &c.Tenants.OverridesDir)
	envStr("SUPPORTBOT_LOG_LEVEL", &c.LogLevel)

	// Telemetry
	envBool("SUPPORTBOT_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("SUPPORTBOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("SUPPORTBOT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envBool("SUPPORTBOT_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
	envStr("SUPPORTBOT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)

	return errors.Join(errs...)
}

// Validate checks every numeric knob against its documented range.
// All violations are reported together.
func (c *Config) Validate() error {
	var errs []error

	intRange := func(name string, v, min, max int) {
		if v < min || v > max {
			errs = append(errs, fmt.Errorf("%s = %d, want %d..%d", name, v, min, max))
		}
	}
	durRange := func(name string, v Duration, min, max time.Duration) {
		if v.D() < min || v.D() > max {
			errs = append(errs, fmt.Errorf("%s = %s, want %s..%s", name, v.D(), min, max))
		}
	}

	intRange("limits.ai_calls_per_min", c.Limits.AICallsPerMin, 1, 600)
	intRange("limits.sends_per_min", c.Limits.SendsPerMin, 1, 600)
	intRange("limits.send_attempts", c.Limits.SendAttempts, 1, 10)
	durRange("cache.config_ttl", c.Cache.ConfigTTL, time.Second, 10*time.Minute)
	durRange("cache.answer_ttl", c.Cache.AnswerTTL, 0, time.Hour)
	intRange("buffer.max_attempts", c.Buffer.MaxAttempts, 1, 20)
	durRange("buffer.base_delay", c.Buffer.BaseDelay, 10*time.Millisecond, time.Minute)
	durRange("buffer.max_delay", c.Buffer.MaxDelay, c.Buffer.BaseDelay.D(), 10*time.Minute)
	intRange("buffer.size", c.Buffer.Size, 1, 1000)
	intRange("bot.context_size", c.Bot.ContextSize, 1, 200)
	durRange("bot.context_ttl", c.Bot.ContextTTL, time.Minute, 24*time.Hour)
	intRange("bot.max_message_length", c.Bot.MaxMessageLength, 100, 10000)
	intRange("bot.dedup_size", c.Bot.DedupSize, 100, 1_000_000)
	durRange("bot.duplicate_window", c.Bot.DuplicateWindow, 0, 5*time.Minute)
	intRange("bot.max_concurrent", c.Bot.MaxConcurrent, 1, 1024)
	intRange("platform.stream_max_attempts", c.Platform.StreamMaxAttempts, 1, 100)

	switch c.Provider.Name {
	case "openai", "anthropic":
	case "openrouter", "groq", "deepseek", "vllm":
		if c.Provider.APIBase == "" {
			errs = append(errs, fmt.Errorf("provider.api_base is required for %q", c.Provider.Name))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.name = %q, want openai, anthropic or an OpenAI-compatible provider", c.Provider.Name))
	}
	switch c.Database.Mode {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.mode = %q, want sqlite or postgres", c.Database.Mode))
	}
	if c.Bot.ResetCommand == "" {
		errs = append(errs, errors.New("bot.reset_command must not be empty"))
	}

	return errors.Join(errs...)
}

// RequireSecrets checks the env-only values the serve command cannot run without.
func (c *Config) RequireSecrets() error {
	var errs []error
	if c.Platform.Token == "" {
		errs = append(errs, errors.New("SUPPORTBOT_PLATFORM_TOKEN is not set"))
	}
	if c.Platform.BotUserID == "" {
		errs = append(errs, errors.New("SUPPORTBOT_BOT_USER_ID is not set"))
	}
	if c.Provider.APIKey == "" {
		errs = append(errs, errors.New("SUPPORTBOT_AI_API_KEY is not set"))
	}
	if c.Database.Mode == "postgres" && c.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("SUPPORTBOT_POSTGRES_DSN is not set"))
	}
	return errors.Join(errs...)
}

// MaskedCopy returns a shallow copy with secrets replaced for display.
func (c *Config) MaskedCopy() *Config {
	cp := *c
	maskNonEmpty(&cp.Platform.Token)
	maskNonEmpty(&cp.Provider.APIKey)
	maskNonEmpty(&cp.Database.PostgresDSN)
	maskNonEmpty(&cp.Gateway.Token)
	return &cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = "***"
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
