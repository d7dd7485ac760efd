// Package config loads service configuration from defaults, a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/pillbox/internal/identity/jwt"
	"github.com/bissquit/pillbox/internal/notifications"
	"github.com/bissquit/pillbox/internal/notifications/email"
	"github.com/bissquit/pillbox/internal/notifications/push"
	"github.com/bissquit/pillbox/internal/notifications/sms"
	"github.com/bissquit/pillbox/internal/notifications/telegram"
	"github.com/bissquit/pillbox/internal/realtime/ws"
	"github.com/bissquit/pillbox/internal/reminders"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys are separated by "__",
// e.g. PILLBOX_NOTIFICATIONS__WORKER__NUM_WORKERS.
const EnvPrefix = "PILLBOX_"

// Config is the service configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Redis         RedisConfig         `koanf:"redis"`
	Log           LogConfig           `koanf:"log"`
	CORS          CORSConfig          `koanf:"cors"`
	JWT           jwt.Config          `koanf:"jwt"`
	Schedule      ScheduleConfig      `koanf:"schedule"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Reminders     RemindersConfig     `koanf:"reminders"`
	Realtime      ws.Config           `koanf:"realtime"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	ApplicationName string        `koanf:"application_name"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// RedisConfig contains Redis settings. An empty URL keeps the queue in memory.
type RedisConfig struct {
	URL             string `koanf:"url"`
	PoolSize        int    `koanf:"pool_size"`
	ConnectAttempts int    `koanf:"connect_attempts"`
	KeyPrefix       string `koanf:"key_prefix"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// ScheduleConfig contains schedule evaluation settings.
type ScheduleConfig struct {
	// Timezone is the IANA zone dose times are resolved in.
	Timezone         string        `koanf:"timezone"`
	MinIntervalHours int           `koanf:"min_interval_hours"`
	MinGap           time.Duration `koanf:"min_gap"`
	// DefaultAnchor is the HH:MM first dose of interval schedules without an anchor.
	DefaultAnchor string `koanf:"default_anchor"`
}

// NotificationsConfig contains delivery settings.
type NotificationsConfig struct {
	Worker   notifications.WorkerConfig `koanf:"worker"`
	Email    email.Config               `koanf:"email"`
	Telegram telegram.Config            `koanf:"telegram"`
	SMS      sms.Config                 `koanf:"sms"`
	Push     push.Config                `koanf:"push"`
}

// RemindersConfig contains reminder planner settings.
type RemindersConfig struct {
	Enabled          bool `koanf:"enabled"`
	reminders.Config `koanf:",squash"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Database: DatabaseConfig{
			ApplicationName: "pillbox",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
			ConnectAttempts: 5,
		},
		Redis: RedisConfig{
			PoolSize:        10,
			ConnectAttempts: 5,
			KeyPrefix:       "pillbox:queue:",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		JWT: jwt.Config{
			Leeway: 30 * time.Second,
		},
		Schedule: ScheduleConfig{
			Timezone:         "UTC",
			MinIntervalHours: 4,
			MinGap:           30 * time.Minute,
			DefaultAnchor:    "08:00",
		},
		Notifications: NotificationsConfig{
			Worker: notifications.DefaultWorkerConfig(),
			Email: email.Config{
				SMTPPort: 587,
			},
			Telegram: telegram.Config{
				RateLimit: 25,
			},
			SMS: sms.Config{
				SenderID: "Pillbox",
				Timeout:  10 * time.Second,
			},
			Push: push.Config{
				Exchange:   "pillbox.push",
				RoutingKey: "push.send",
			},
		},
		Reminders: RemindersConfig{
			Enabled: true,
			Config:  reminders.DefaultConfig(),
		},
		Realtime: ws.DefaultConfig(),
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if any),
// then PILLBOX_* environment variables. The result is validated.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// listKeys are read from the environment as comma separated lists.
var listKeys = map[string]bool{
	"cors.allowed_origins": true,
}

// envKey maps PILLBOX_A__B_C=v to a.b_c.
func envKey(key, value string) (string, interface{}) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")

	if listKeys[key] {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return key, parts
	}
	return key, value
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port != "", "server.port is required")
	check(c.Database.URL != "", "database.url is required")
	check(c.Database.MaxOpenConns > 0, "database.max_open_conns must be positive")
	check(c.JWT.SecretKey != "", "jwt.secret_key is required")

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	check(c.Log.Format == "json" || c.Log.Format == "text", "log.format %q must be json or text", c.Log.Format)

	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
	}
	check(c.Schedule.MinIntervalHours > 0, "schedule.min_interval_hours must be positive")
	check(c.Schedule.MinGap >= 0, "schedule.min_gap must not be negative")
	if _, err := time.Parse("15:04", c.Schedule.DefaultAnchor); err != nil {
		errs = append(errs, fmt.Errorf("schedule.default_anchor %q must be HH:MM", c.Schedule.DefaultAnchor))
	}

	w := c.Notifications.Worker
	check(w.NumWorkers > 0, "notifications.worker.num_workers must be positive")
	check(w.PollInterval > 0, "notifications.worker.poll_interval must be positive")
	check(w.ErrorRetryInterval >= w.PollInterval, "notifications.worker.error_retry_interval must not be shorter than poll_interval")
	check(w.MaxAttempts >= 1, "notifications.worker.max_attempts must be at least 1")
	check(w.BackoffBase >= 1, "notifications.worker.backoff_base must be at least 1")
	check(w.MaxBackoff >= 0, "notifications.worker.max_backoff must not be negative")

	if c.Notifications.Email.Enabled {
		check(c.Notifications.Email.SMTPHost != "", "notifications.email.smtp_host is required when email is enabled")
		check(c.Notifications.Email.FromAddress != "", "notifications.email.from_address is required when email is enabled")
	}
	if c.Notifications.Telegram.Enabled {
		check(c.Notifications.Telegram.BotToken != "", "notifications.telegram.bot_token is required when telegram is enabled")
	}
	if c.Notifications.SMS.Enabled {
		check(c.Notifications.SMS.GatewayURL != "", "notifications.sms.gateway_url is required when sms is enabled")
	}
	if c.Notifications.Push.Enabled {
		check(c.Notifications.Push.URL != "", "notifications.push.url is required when push is enabled")
	}

	if c.Reminders.Enabled {
		check(c.Reminders.PlanInterval > 0, "reminders.plan_interval must be positive")
		check(c.Reminders.Lookahead > 0, "reminders.lookahead must be positive")
		check(c.Reminders.DedupTTL > c.Reminders.Lookahead, "reminders.dedup_ttl must be longer than lookahead")
	}

	check(c.Realtime.WriteTimeout > 0, "realtime.write_timeout must be positive")

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Location returns the schedule time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
