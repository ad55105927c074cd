// Package config loads the server configuration from defaults, an optional
// config file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting of the server. Keys are the lower-cased
// environment variable names, so WAKATIME_CLIENT_ID and a config file entry
// wakatime_client_id set the same field.
type Config struct {
	Port            int           `mapstructure:"port"`
	DBPath          string        `mapstructure:"db_path"`
	FrontendURL     string        `mapstructure:"frontend_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level"`

	WakaTimeClientID     string        `mapstructure:"wakatime_client_id"`
	WakaTimeClientSecret string        `mapstructure:"wakatime_client_secret"`
	WakaTimeRedirectURI  string        `mapstructure:"wakatime_redirect_uri"`
	WakaTimeOAuthURL     string        `mapstructure:"wakatime_oauth_url"`
	WakaTimeAPIURL       string        `mapstructure:"wakatime_api_url"`
	WakaTimeTimeout      time.Duration `mapstructure:"wakatime_timeout"`

	SessionSecret string        `mapstructure:"session_secret"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	CredentialKey string        `mapstructure:"credential_key"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	SyncDelay   time.Duration `mapstructure:"sync_delay"`
	SyncHourUTC int           `mapstructure:"sync_hour_utc"`

	// RefreshLimit is how many /api/refresh-all calls one IP may make per
	// minute.
	RefreshLimit int `mapstructure:"refresh_limit"`

	BreakerMinRequests  uint32        `mapstructure:"breaker_min_requests"`
	BreakerFailureRatio float64       `mapstructure:"breaker_failure_ratio"`
	BreakerOpenTimeout  time.Duration `mapstructure:"breaker_open_timeout"`

	BootstrapAdmin string `mapstructure:"bootstrap_admin"`
}

// Load builds the configuration. path names an optional config file (YAML,
// TOML, JSON or .env, by extension); empty means defaults and environment
// only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key. AutomaticEnv only overrides keys viper
// already knows, so required settings get an empty default too.
func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8787)
	v.SetDefault("db_path", "data/leaderboard.db")
	v.SetDefault("frontend_url", "http://localhost:5173")
	v.SetDefault("shutdown_timeout", "15s")
	v.SetDefault("log_level", "info")

	v.SetDefault("wakatime_client_id", "")
	v.SetDefault("wakatime_client_secret", "")
	v.SetDefault("wakatime_redirect_uri", "")
	v.SetDefault("wakatime_oauth_url", "https://wakatime.com")
	v.SetDefault("wakatime_api_url", "https://wakatime.com/api/v1")
	v.SetDefault("wakatime_timeout", "20s")

	v.SetDefault("session_secret", "")
	v.SetDefault("session_ttl", "168h") // 7 days
	v.SetDefault("credential_key", "")

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("sync_delay", "1s")
	v.SetDefault("sync_hour_utc", 1)
	v.SetDefault("refresh_limit", 5)

	v.SetDefault("breaker_min_requests", 5)
	v.SetDefault("breaker_failure_ratio", 0.6)
	v.SetDefault("breaker_open_timeout", "60s")

	v.SetDefault("bootstrap_admin", "")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	require := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", strings.ToUpper(name)))
		}
	}
	require("wakatime_client_id", c.WakaTimeClientID)
	require("wakatime_client_secret", c.WakaTimeClientSecret)
	require("wakatime_redirect_uri", c.WakaTimeRedirectURI)
	require("frontend_url", c.FrontendURL)
	require("db_path", c.DBPath)
	require("redis_addr", c.RedisAddr)

	if len(c.SessionSecret) < 16 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 16 characters"))
	}
	if c.CredentialKey != "" && len(c.CredentialKey) < 16 {
		errs = append(errs, errors.New("CREDENTIAL_KEY must be at least 16 characters when set"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	if c.SyncHourUTC < 0 || c.SyncHourUTC > 23 {
		errs = append(errs, fmt.Errorf("SYNC_HOUR_UTC %d must be between 0 and 23", c.SyncHourUTC))
	}
	if c.SyncDelay <= 0 {
		errs = append(errs, errors.New("SYNC_DELAY must be positive"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.RefreshLimit <= 0 {
		errs = append(errs, errors.New("REFRESH_LIMIT must be positive"))
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		errs = append(errs, errors.New("BREAKER_FAILURE_RATIO must be in (0, 1]"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error").
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not a valid level", c.LogLevel)
	}
	return level, nil
}
