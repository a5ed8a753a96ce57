package config

import (
	"errors"
	"testing"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Port     int           `env:"TEST_CFG_PORT" envDefault:"3000"`
	LogLevel string        `env:"TEST_CFG_LOG_LEVEL" envDefault:"info"`
	TTL      time.Duration `env:"TEST_CFG_TTL" envDefault:"15m"`
	Brokers  []string      `env:"TEST_CFG_BROKERS" envSeparator:","`
}

func TestLoad_Defaults(t *testing.T) {
	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 15*time.Minute, cfg.TTL)
	assert.Empty(t, cfg.Brokers)
}

func TestLoad_FromEnvVars(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "9090")
	t.Setenv("TEST_CFG_TTL", "1h")
	t.Setenv("TEST_CFG_BROKERS", "k1:9092,k2:9092")

	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, time.Hour, cfg.TTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
}

func TestLoad_InvalidType(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "not-a-number")

	var cfg testConfig
	err := Load(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadWithOptions_Environment(t *testing.T) {
	var cfg testConfig
	require.NoError(t, LoadWithOptions(&cfg, env.Options{Environment: map[string]string{"TEST_CFG_PORT": "1234"}}))
	assert.Equal(t, 1234, cfg.Port)
}

type validatedConfig struct {
	Secret string `env:"TEST_CFG_SECRET"`
}

func (c *validatedConfig) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}
	return nil
}

func TestLoad_RunsValidate(t *testing.T) {
	var cfg validatedConfig
	err := Load(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config: secret is required")

	t.Setenv("TEST_CFG_SECRET", "s")
	require.NoError(t, Load(&cfg))
}
