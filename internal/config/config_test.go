package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig() Config {
	cfg := Default()
	cfg.Database.URL = "postgres://localhost/pillbox"
	cfg.JWT.SecretKey = "secret"
	return cfg
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, `
database:
  url: postgres://db/pillbox
jwt:
  secret_key: from-file
schedule:
  timezone: Europe/Berlin
  min_gap: 45m
notifications:
  worker:
    num_workers: 4
  telegram:
    enabled: true
    bot_token: "123:abc"
reminders:
  lookahead: 10m
`)
	t.Setenv("PILLBOX_JWT__SECRET_KEY", "from-env")
	t.Setenv("PILLBOX_NOTIFICATIONS__WORKER__MAX_ATTEMPTS", "7")
	t.Setenv("PILLBOX_CORS__ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("PILLBOX_REDIS__URL", "redis://cache:6379/0")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://db/pillbox", cfg.Database.URL)
	assert.Equal(t, "from-env", cfg.JWT.SecretKey, "env overrides the file")
	assert.Equal(t, 45*time.Minute, cfg.Schedule.MinGap)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
	assert.Equal(t, 4, cfg.Notifications.Worker.NumWorkers)
	assert.Equal(t, 7, cfg.Notifications.Worker.MaxAttempts)
	assert.True(t, cfg.Notifications.Telegram.Enabled)
	assert.Equal(t, "123:abc", cfg.Notifications.Telegram.BotToken)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
	assert.Equal(t, 10*time.Minute, cfg.Reminders.Lookahead)

	// untouched values keep their defaults
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Notifications.Worker.PollInterval)
	assert.Equal(t, 48*time.Hour, cfg.Reminders.DedupTTL)
	assert.Equal(t, 25.0, cfg.Notifications.Telegram.RateLimit)
	assert.Equal(t, "pillbox.push", cfg.Notifications.Push.Exchange)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_RequiresSecrets(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url is required")
	assert.Contains(t, err.Error(), "jwt.secret_key is required")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero workers", func(c *Config) { c.Notifications.Worker.NumWorkers = 0 }, "num_workers"},
		{"max attempts below one", func(c *Config) { c.Notifications.Worker.MaxAttempts = 0 }, "max_attempts"},
		{"error retry shorter than poll", func(c *Config) {
			c.Notifications.Worker.ErrorRetryInterval = c.Notifications.Worker.PollInterval / 2
		}, "error_retry_interval"},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, "schedule.timezone"},
		{"bad anchor", func(c *Config) { c.Schedule.DefaultAnchor = "8am" }, "default_anchor"},
		{"email without host", func(c *Config) { c.Notifications.Email.Enabled = true }, "smtp_host"},
		{"sms without gateway", func(c *Config) { c.Notifications.SMS.Enabled = true }, "gateway_url"},
		{"push without url", func(c *Config) { c.Notifications.Push.Enabled = true }, "push.url"},
		{"dedup shorter than lookahead", func(c *Config) { c.Reminders.DedupTTL = c.Reminders.Lookahead }, "dedup_ttl"},
		{"disabled planner is not checked", func(c *Config) {
			c.Reminders.Enabled = false
			c.Reminders.DedupTTL = 0
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
