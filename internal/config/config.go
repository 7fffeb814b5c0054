package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration accepts both "30s" style strings and integer milliseconds in JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := parseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\" or milliseconds: %s", data)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// parseDuration accepts Go duration syntax or a bare integer of milliseconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

// Config is the root configuration for the support bot.
type Config struct {
	Platform  PlatformConfig  `json:"platform"`
	Bot       BotConfig       `json:"bot"`
	Limits    LimitsConfig    `json:"limits"`
	Cache     CacheConfig     `json:"cache"`
	Buffer    BufferConfig    `json:"buffer"`
	Provider  ProviderConfig  `json:"provider"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Gateway   GatewayConfig   `json:"gateway"`
	Tenants   TenantsConfig   `json:"tenants,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	LogLevel  string          `json:"log_level,omitempty"`
}

// PlatformConfig points the bot at the hosted community platform.
// Token is NEVER read from the config file, only from SUPPORTBOT_PLATFORM_TOKEN.
type PlatformConfig struct {
	StreamURL         string   `json:"stream_url"`
	APIBase           string   `json:"api_base"`
	Token             string   `json:"-"`
	BotUserID         string   `json:"bot_user_id"`
	BotUsername       string   `json:"bot_username"`
	RequestsPerSecond float64  `json:"requests_per_second"`
	StreamMaxAttempts int      `json:"stream_max_attempts"`
	StreamBaseDelay   Duration `json:"stream_base_delay"`
	StreamMaxDelay    Duration `json:"stream_max_delay"`
}

// BotConfig holds the message-pipeline knobs.
type BotConfig struct {
	AdminUserID          string   `json:"admin_user_id,omitempty"`
	ResetCommand         string   `json:"reset_command"`
	ResetAck             string   `json:"reset_ack"`
	NotConfiguredMessage string   `json:"not_configured_message"`
	DeflectionMessage    string   `json:"deflection_message"`
	MaxConcurrent        int      `json:"max_concurrent"`
	InflightGrace        Duration `json:"inflight_grace"`
	CompletedKeys        int      `json:"completed_keys"`
	MaxMessageLength     int      `json:"max_message_length"`
	ContextSize          int      `json:"context_size"`
	ContextTTL           Duration `json:"context_ttl"`
	DedupSize            int      `json:"dedup_size"`
	DuplicateWindow      Duration `json:"duplicate_window"`
	FeedHistorySize      int      `json:"feed_history_size"`
	FeedHistoryMaxAge    Duration `json:"feed_history_max_age"`
	TrackedMessages      int      `json:"tracked_messages"`
	MaintenanceSchedule  string   `json:"maintenance_schedule"`
	ReconcileSchedule    string   `json:"reconcile_schedule"`
}

// LimitsConfig sets the two rate-limit key spaces.
type LimitsConfig struct {
	AICallsPerMin int      `json:"ai_calls_per_min"`
	SendsPerMin   int      `json:"sends_per_min"`
	SendAttempts  int      `json:"send_attempts"`
	SendBaseDelay Duration `json:"send_base_delay"`
	SendMaxDelay  Duration `json:"send_max_delay"`
}

// CacheConfig controls the tenant config and answer caches.
type CacheConfig struct {
	ConfigTTL        Duration `json:"config_ttl"`
	AnswerTTL        Duration `json:"answer_ttl"`
	AnswerMaxEntries int64    `json:"answer_max_entries"`
}

// BufferConfig controls the pending buffer for messages whose channel group
// has no known tenant yet.
type BufferConfig struct {
	MaxAttempts int      `json:"max_attempts"`
	BaseDelay   Duration `json:"base_delay"`
	MaxDelay    Duration `json:"max_delay"`
	Size        int      `json:"size"`
}

// ProviderConfig selects the AI completion provider.
// APIKey is NEVER read from the config file.
type ProviderConfig struct {
	Name            string   `json:"name"` // "openai" or "anthropic"
	Model           string   `json:"model"`
	ClassifierModel string   `json:"classifier_model,omitempty"`
	APIKey          string   `json:"-"`
	APIBase         string   `json:"api_base,omitempty"`
	MaxTokens       int      `json:"max_tokens"`
	Temperature     float64  `json:"temperature"`
	Timeout         Duration `json:"timeout"`
	RetryAttempts   int      `json:"retry_attempts"`
}

// DatabaseConfig selects the store backend.
// PostgresDSN is NEVER read from the config file, only from SUPPORTBOT_POSTGRES_DSN.
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"` // "sqlite" (default) or "postgres"
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// IsPostgres reports whether the Postgres backend is configured.
func (c *Config) IsPostgres() bool {
	return c.Database.Mode == "postgres" && c.Database.PostgresDSN != ""
}

// GatewayConfig is the admin HTTP listener.
type GatewayConfig struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Token string `json:"-"`
}

// Addr returns host:port for the admin listener.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// TenantsConfig points at optional tenant override files.
type TenantsConfig struct {
	OverridesDir string `json:"overrides_dir,omitempty"`
}

// TelemetryConfig configures OpenTelemetry OTLP export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}
