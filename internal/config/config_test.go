package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Proxy.Host)
	assert.Equal(t, 9150, cfg.Proxy.Port)
	assert.Equal(t, 10*time.Second, cfg.Proxy.VerifyTimeout)
	assert.Equal(t, []string{"ru", "en"}, cfg.Scrape.Locales)
	assert.Equal(t, 2, cfg.Scrape.SessionsPerRun)
	assert.Equal(t, 30*time.Second, cfg.Scrape.NavigationTimeout)
	assert.Equal(t, 60*time.Second, cfg.Scrape.ListingTimeout)
	assert.Equal(t, 2*time.Second, cfg.Scrape.SettleTimeout)
	assert.Equal(t, "results", cfg.Output.ResultsDir)
	assert.False(t, cfg.ArchiveEnabled())
	assert.False(t, cfg.RelayEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PROXY_PORT", "9050")
	t.Setenv("SCRAPE_SESSIONS_PER_RUN", "1")
	t.Setenv("SCRAPE_LOCALES", "en, ru ,")
	t.Setenv("SCRAPE_SETTLE_TIMEOUT", "500ms")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9050, cfg.Proxy.Port)
	assert.Equal(t, 1, cfg.Scrape.SessionsPerRun)
	assert.Equal(t, []string{"en", "ru"}, cfg.Scrape.Locales)
	assert.Equal(t, 500*time.Millisecond, cfg.Scrape.SettleTimeout)
	assert.True(t, cfg.ArchiveEnabled())
	assert.True(t, cfg.RelayEnabled())
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())

	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"sessions per run out of range", func(c *Config) { c.Scrape.SessionsPerRun = 3 }},
		{"no locales", func(c *Config) { c.Scrape.Locales = nil }},
		{"too many locales for dual sessions", func(c *Config) { c.Scrape.Locales = []string{"ru", "en", "de"} }},
		{"inverted locale delay", func(c *Config) { c.Scrape.LocaleDelayMin = 2 * time.Second }},
		{"bad proxy port", func(c *Config) { c.Proxy.Port = 0 }},
		{"no verify attempts", func(c *Config) { c.Proxy.VerifyAttempts = 0 }},
		{"unknown engine", func(c *Config) { c.Browser.Engine = "webkit" }},
		{"empty results dir", func(c *Config) { c.Output.ResultsDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
