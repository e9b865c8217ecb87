package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Index   IndexConfig   `yaml:"index" mapstructure:"index"`
	Formula FormulaConfig `yaml:"formula" mapstructure:"formula"`
	Source  SourceConfig  `yaml:"source" mapstructure:"source"`
	Binder  BinderConfig  `yaml:"binder" mapstructure:"binder"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// IndexConfig configures field lookup.
type IndexConfig struct {
	Fuzzy FuzzyConfig `yaml:"fuzzy" mapstructure:"fuzzy"`
}

// FuzzyConfig tunes fuzzy field matching.
type FuzzyConfig struct {
	Enabled  bool `yaml:"enabled" mapstructure:"enabled"`
	MinScore int  `yaml:"min_score" mapstructure:"min_score"`
	Margin   int  `yaml:"margin" mapstructure:"margin"`
}

// FormulaConfig configures formula evaluation.
type FormulaConfig struct {
	DivisionPrecision int32 `yaml:"division_precision" mapstructure:"division_precision"`
}

// SourceConfig configures tabular source adapters.
type SourceConfig struct {
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	UserAgent       string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// Timeout returns the adapter fetch timeout.
func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// BinderConfig configures document references.
type BinderConfig struct {
	UnresolvedMarker string `yaml:"unresolved_marker" mapstructure:"unresolved_marker"`
	MaxConcurrency   int    `yaml:"max_concurrency" mapstructure:"max_concurrency"`
}

// RetryConfig configures caller-side retries of unavailable sources.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("LINEAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "lineage.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("index.fuzzy.enabled", true)
	v.SetDefault("index.fuzzy.min_score", 3)
	v.SetDefault("index.fuzzy.margin", 0)
	v.SetDefault("formula.division_precision", 16)
	v.SetDefault("source.timeout_secs", 30)
	v.SetDefault("source.rate_limit_per_sec", 2.0)
	v.SetDefault("source.user_agent", "lineage-cli/1.0")
	v.SetDefault("binder.unresolved_marker", "[unresolved]")
	v.SetDefault("binder.max_concurrency", 8)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "cli":
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch strings.ToLower(c.Store.Driver) {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be memory, sqlite or postgres", c.Store.Driver))
	}
	if c.Index.Fuzzy.MinScore < 1 {
		errs = append(errs, "index.fuzzy.min_score must be >= 1")
	}
	if c.Index.Fuzzy.Margin < 0 {
		errs = append(errs, "index.fuzzy.margin must be >= 0")
	}
	if c.Formula.DivisionPrecision < 0 || c.Formula.DivisionPrecision > 64 {
		errs = append(errs, "formula.division_precision must be between 0 and 64")
	}
	if c.Source.TimeoutSecs <= 0 {
		errs = append(errs, "source.timeout_secs must be > 0")
	}
	if c.Binder.MaxConcurrency < 1 || c.Binder.MaxConcurrency > 64 {
		errs = append(errs, "binder.max_concurrency must be between 1 and 64")
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be >= 1")
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
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
