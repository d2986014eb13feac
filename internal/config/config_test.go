package config_test

import (
	"testing"

	testify "github.com/stretchr/testify/assert"

	"github.com/coastline-io/flotilla/internal/assert"
	"github.com/coastline-io/flotilla/internal/config"
)

func TestConfigValidation(t *testing.T) {
	as := assert.New(t)

	t.Run("valid_default_config", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		as.ConfigValid(cfg)
	})

	tests := []struct {
		name          string
		configMod     func(*config.Config)
		errorContains string
	}{
		{
			name: "invalid_api_port_zero",
			configMod: func(c *config.Config) {
				c.APIPort = 0
			},
			errorContains: "invalid API port",
		},
		{
			name: "invalid_api_port_too_high",
			configMod: func(c *config.Config) {
				c.APIPort = 70000
			},
			errorContains: "invalid API port",
		},
		{
			name: "zero_activity_timeout",
			configMod: func(c *config.Config) {
				c.ActivityTimeout = 0
			},
			errorContains: "activity timeout must be positive",
		},
		{
			name: "zero_poll_interval",
			configMod: func(c *config.Config) {
				c.PollInterval = 0
			},
			errorContains: "poll interval must be positive",
		},
		{
			name: "zero_confirm_cycles",
			configMod: func(c *config.Config) {
				c.Watch.ConfirmCycles = 0
			},
			errorContains: "confirm cycles must be positive",
		},
		{
			name: "negative_escalation_cycles",
			configMod: func(c *config.Config) {
				c.Watch.EscalationCycles = -1
			},
			errorContains: "escalation cycles cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			tt.configMod(cfg)
			as.ConfigInvalid(cfg, tt.errorContains)
		})
	}
}

func TestDefaultConfigValues(t *testing.T) {
	as := assert.New(t)

	cfg := config.NewDefaultConfig()

	as.Equal(config.DefaultAPIPort, cfg.APIPort)
	as.Equal("0.0.0.0", cfg.APIHost)
	as.Equal(config.DefaultActivityTimeout, cfg.ActivityTimeout)
	as.Equal(config.DefaultShutdownTimeout, cfg.ShutdownTimeout)
	as.Equal(config.DefaultWatchConfirmCycles, cfg.Watch.ConfirmCycles)
	as.Equal(config.DefaultEscalationCycles, cfg.Watch.EscalationCycles)
	as.Equal("info", cfg.LogLevel)
}

func TestStoreLoadFromEnv(t *testing.T) {
	t.Setenv("ENGINE_REDIS_ADDR", "redis.example.com:6379")
	t.Setenv("ENGINE_REDIS_PREFIX", "custom")
	t.Setenv("ENGINE_REDIS_DB", "3")

	cfg := config.NewDefaultConfig()
	testify.NoError(t, cfg.LoadFromEnv())

	testify.Equal(t, "redis.example.com:6379", cfg.EngineStore.Addr)
	testify.Equal(t, "custom", cfg.EngineStore.Prefix)
	testify.Equal(t, 3, cfg.EngineStore.DB)

	// Other stores keep their defaults
	testify.Equal(t, config.DefaultRedisEndpoint, cfg.FlowStore.Addr)
}

func TestLoadFromEnvWatcher(t *testing.T) {
	t.Setenv("WATCH_POLL_INTERVAL", "5s")
	t.Setenv("WATCH_COOLDOWN", "1m")
	t.Setenv("WATCH_CONFIRM_CYCLES", "5")
	t.Setenv("WATCH_ESCALATION_CYCLES", "10")

	cfg := config.NewDefaultConfig()
	testify.NoError(t, cfg.LoadFromEnv())

	testify.Equal(t, "5s", cfg.Watch.PollInterval.String())
	testify.Equal(t, "1m0s", cfg.Watch.Cooldown.String())
	testify.Equal(t, 5, cfg.Watch.ConfirmCycles)
	testify.Equal(t, 10, cfg.Watch.EscalationCycles)
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("API_PORT", "not-a-number")

	cfg := config.NewDefaultConfig()
	testify.Error(t, cfg.LoadFromEnv())
}
