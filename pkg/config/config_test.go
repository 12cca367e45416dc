package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	Port     int    `env:"CFGTEST_PORT" envDefault:"5000"`
	LogLevel string `env:"CFGTEST_LOG_LEVEL" envDefault:"info"`
	Secret   string `env:"CFGTEST_SECRET,required"`
}

type checkedConfig struct {
	Port int `env:"CFGTEST_CHECKED_PORT" envDefault:"0"`
}

func (c *checkedConfig) Validate() error {
	if c.Port == 0 {
		return errors.New("port must be set")
	}
	return nil
}

func TestLoad_DefaultsAndRequired(t *testing.T) {
	t.Setenv("CFGTEST_SECRET", "s3cret")

	var cfg sampleConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "s3cret", cfg.Secret)
}

func TestLoad_MissingRequired(t *testing.T) {
	var cfg sampleConfig
	err := Load(&cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_InvalidType(t *testing.T) {
	t.Setenv("CFGTEST_SECRET", "s3cret")
	t.Setenv("CFGTEST_PORT", "not-a-number")

	var cfg sampleConfig
	err := Load(&cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_RunsValidator(t *testing.T) {
	var cfg checkedConfig
	err := Load(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")

	t.Setenv("CFGTEST_CHECKED_PORT", "8080")
	require.NoError(t, Load(&cfg))
	assert.Equal(t, 8080, cfg.Port)
}
