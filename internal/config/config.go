package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Environment string         `yaml:"environment" mapstructure:"environment"`
	Store       StoreConfig    `yaml:"store" mapstructure:"store"`
	Supabase    SupabaseConfig `yaml:"supabase" mapstructure:"supabase"`
	Meta        MetaConfig     `yaml:"meta" mapstructure:"meta"`
	Cookie      CookieConfig   `yaml:"cookie" mapstructure:"cookie"`
	Server      ServerConfig   `yaml:"server" mapstructure:"server"`
	Log         LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the session database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SupabaseConfig holds the edge function endpoint and credentials.
type SupabaseConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	AnonKey       string  `yaml:"anon_key" mapstructure:"anon_key"`
	IPTimeoutSecs int     `yaml:"ip_timeout_secs" mapstructure:"ip_timeout_secs"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst     int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// MetaConfig holds the Meta Pixel settings.
type MetaConfig struct {
	PixelID string `yaml:"pixel_id" mapstructure:"pixel_id"`
}

// CookieConfig configures the browser-cookie readiness poll.
type CookieConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	MaxChecks      int `yaml:"max_checks" mapstructure:"max_checks"`
}

// ServerConfig configures the intake HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("environment", "stg")
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("cookie.poll_interval_ms", 100)
	v.SetDefault("cookie.max_checks", 20)
	v.SetDefault("supabase.ip_timeout_secs", 5)
	v.SetDefault("supabase.rate_limit", 10.0)
	v.SetDefault("supabase.rate_burst", 20)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.Environment != "prod" && cfg.Environment != "stg" {
		return nil, eris.Errorf("config: environment must be prod or stg, got %q", cfg.Environment)
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
