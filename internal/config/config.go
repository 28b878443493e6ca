package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all Flow Guardian configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	State     StateConfig     `mapstructure:"state"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StorageConfig selects the account and history database.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // sqlite or postgres
	Path        string `mapstructure:"path"`
	PostgresURL string `mapstructure:"postgres_url"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// StateConfig selects the shared key-value store used for markers,
// baselines and the scheduler lease.
type StateConfig struct {
	Backend  string `mapstructure:"backend"` // memory, sqlite or redis
	Path     string `mapstructure:"path"`
	RedisURL string `mapstructure:"redis_url"`
	Prefix   string `mapstructure:"prefix"`
}

// SchedulerConfig tunes the monitoring loop.
type SchedulerConfig struct {
	Tick         string `mapstructure:"tick"`
	LeaseTTL     string `mapstructure:"lease_ttl"`
	MinFrequency string `mapstructure:"min_frequency"`
	MaxFrequency string `mapstructure:"max_frequency"`
	Workers      int    `mapstructure:"workers"`
}

// UpstreamConfig points at the provider catalog.
type UpstreamConfig struct {
	Catalog            string `mapstructure:"catalog"`
	Timeout            string `mapstructure:"timeout"`
	AuthPhraseFallback bool   `mapstructure:"auth_phrase_fallback"`
}

// AlertsConfig holds evaluator tuning and deployment-wide channel settings.
type AlertsConfig struct {
	SendTimeout      string         `mapstructure:"send_timeout"`
	LargeJumpBuckets int            `mapstructure:"large_jump_buckets"`
	LowBalanceTTL    string         `mapstructure:"low_balance_ttl"`
	BaselineTTL      string         `mapstructure:"baseline_ttl"`
	WxPusher         WxPusherConfig `mapstructure:"wxpusher"`
	Telegram         TelegramConfig `mapstructure:"telegram"`
}

// WxPusherConfig is the shared WxPusher application.
type WxPusherConfig struct {
	AppToken string `mapstructure:"app_token"`
	Endpoint string `mapstructure:"endpoint"`
}

// TelegramConfig is the shared Telegram bot.
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	APIURL string `mapstructure:"api_url"`
}

// AMQPConfig enables the broker channel when URL is set.
type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// ServerConfig defines the status endpoint.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. A .env
// file in the working directory is applied to the environment first.
func Load(cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("find home directory: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(filepath.Join(home, ".fg"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", filepath.Join(home, ".fg", "guardian.db"))
	v.SetDefault("storage.postgres_url", "")
	v.SetDefault("storage.max_conns", 10)
	v.SetDefault("state.backend", "sqlite")
	v.SetDefault("state.path", filepath.Join(home, ".fg", "state.db"))
	v.SetDefault("state.redis_url", "")
	v.SetDefault("state.prefix", "fg:")
	v.SetDefault("scheduler.tick", "30s")
	v.SetDefault("scheduler.lease_ttl", "120s")
	v.SetDefault("scheduler.min_frequency", "60s")
	v.SetDefault("scheduler.max_frequency", "2h")
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("upstream.catalog", filepath.Join(home, ".fg", "providers.yaml"))
	v.SetDefault("upstream.timeout", "15s")
	v.SetDefault("upstream.auth_phrase_fallback", true)
	v.SetDefault("alerts.send_timeout", "10s")
	v.SetDefault("alerts.large_jump_buckets", 10)
	v.SetDefault("alerts.low_balance_ttl", "168h")
	v.SetDefault("alerts.baseline_ttl", "720h")
	v.SetDefault("alerts.wxpusher.app_token", "")
	v.SetDefault("alerts.wxpusher.endpoint", "")
	v.SetDefault("alerts.telegram.token", "")
	v.SetDefault("alerts.telegram.api_url", "")
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "flow_events")
	v.SetDefault("server.listen", ":8090")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Environment variables
	v.SetEnvPrefix("FG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Duration parses a configured duration, returning def when the value is
// empty, malformed or not positive.
func Duration(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
