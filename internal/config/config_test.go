package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// comments are allowed
		limits: { ai_calls_per_min: 40, sends_per_min: 5 },
		cache: { config_ttl: "45s" },
		buffer: { base_delay: 250 },
	}`), 0o600))

	t.Setenv("SUPPORTBOT_SENDS_PER_MIN", "7")
	t.Setenv("SUPPORTBOT_PLATFORM_TOKEN", "tok")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Limits.AICallsPerMin)
	assert.Equal(t, 7, cfg.Limits.SendsPerMin)
	assert.Equal(t, 45*time.Second, cfg.Cache.ConfigTTL.D())
	assert.Equal(t, 250*time.Millisecond, cfg.Buffer.BaseDelay.D())
	assert.Equal(t, "tok", cfg.Platform.Token)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Limits.AICallsPerMin)
}

func TestLoadRejectsMalformedEnv(t *testing.T) {
	t.Setenv("SUPPORTBOT_AI_CALLS_PER_MIN", "lots")
	t.Setenv("SUPPORTBOT_CONTEXT_TTL", "forever")

	_, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SUPPORTBOT_AI_CALLS_PER_MIN")
	assert.Contains(t, err.Error(), "SUPPORTBOT_CONTEXT_TTL")
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"ai limit zero", func(c *Config) { c.Limits.AICallsPerMin = 0 }, "limits.ai_calls_per_min"},
		{"send limit too high", func(c *Config) { c.Limits.SendsPerMin = 1000 }, "limits.sends_per_min"},
		{"config ttl too short", func(c *Config) { c.Cache.ConfigTTL = Duration(time.Millisecond) }, "cache.config_ttl"},
		{"max delay below base", func(c *Config) { c.Buffer.MaxDelay = Duration(100 * time.Millisecond) }, "buffer.max_delay"},
		{"context size", func(c *Config) { c.Bot.ContextSize = 0 }, "bot.context_size"},
		{"message length", func(c *Config) { c.Bot.MaxMessageLength = 50 }, "bot.max_message_length"},
		{"provider", func(c *Config) { c.Provider.Name = "llama" }, "provider.name"},
		{"db mode", func(c *Config) { c.Database.Mode = "mysql" }, "database.mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestRequireSecrets(t *testing.T) {
	cfg := Default()
	err := cfg.RequireSecrets()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SUPPORTBOT_PLATFORM_TOKEN")

	cfg.Platform.Token = "tok"
	cfg.Platform.BotUserID = "user_bot"
	cfg.Provider.APIKey = "sk"
	assert.NoError(t, cfg.RequireSecrets())

	masked := cfg.MaskedCopy()
	assert.Equal(t, "***", masked.Provider.APIKey)
	assert.Equal(t, "sk", cfg.Provider.APIKey)
}
