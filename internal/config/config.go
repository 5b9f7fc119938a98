package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/obsenv/exposurelog/internal/errs"
)

// Config holds the full application configuration.
type Config struct {
	SiteID     string           `yaml:"site_id" mapstructure:"site_id"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Registries []RegistryConfig `yaml:"registries" mapstructure:"registries"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver         string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL    string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns       int    `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns       int    `yaml:"min_conns" mapstructure:"min_conns"`
	MaxConnMinutes int    `yaml:"max_conn_minutes" mapstructure:"max_conn_minutes"`
}

// RegistryConfig points at one exposure registry service.
type RegistryConfig struct {
	URL             string  `yaml:"url" mapstructure:"url"`
	RatePerSec      float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst           int     `yaml:"burst" mapstructure:"burst"`
	RetryMaxAttempt int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
}

// ServerConfig configures the HTTP server.
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
	v.SetEnvPrefix("EXPOSURELOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.max_conn_minutes", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

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

	return &cfg, nil
}

// Validate checks the fields every command needs before touching the
// store or the network.
func (c *Config) Validate() error {
	if c.SiteID == "" {
		return errs.Validationf("site_id is required")
	}
	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		return errs.Validationf("store.driver %q not in [postgres sqlite]", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return errs.Validationf("store.database_url is required")
	}
	if len(c.Registries) < 1 || len(c.Registries) > 2 {
		return errs.Validationf("need 1 or 2 registries, got %d", len(c.Registries))
	}
	for i, r := range c.Registries {
		if r.URL == "" {
			return errs.Validationf("registries[%d].url is required", i)
		}
	}
	return nil
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
