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
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Scorer ScorerConfig `yaml:"scorer" mapstructure:"scorer"`
	Ingest IngestConfig `yaml:"ingest" mapstructure:"ingest"`
	Query  QueryConfig  `yaml:"query" mapstructure:"query"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Events EventsConfig `yaml:"events" mapstructure:"events"`
	CLI    CLIConfig    `yaml:"cli" mapstructure:"cli"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ScorerConfig holds settings for the external ML scoring service.
type ScorerConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Token             string  `yaml:"token" mapstructure:"token"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	HealthTimeoutSecs int     `yaml:"health_timeout_secs" mapstructure:"health_timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	BreakerThreshold  int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// IngestConfig bounds accepted uploads.
type IngestConfig struct {
	MaxFileBytes int64 `yaml:"max_file_bytes" mapstructure:"max_file_bytes"`
	MaxRows      int   `yaml:"max_rows" mapstructure:"max_rows"`
}

// QueryConfig configures lead and campaign listing.
type QueryConfig struct {
	DefaultPageSize   int `yaml:"default_page_size" mapstructure:"default_page_size"`
	MaxPageSize       int `yaml:"max_page_size" mapstructure:"max_page_size"`
	CampaignListLimit int `yaml:"campaign_list_limit" mapstructure:"campaign_list_limit"`
	CampaignListMax   int `yaml:"campaign_list_max" mapstructure:"campaign_list_max"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// EventsConfig configures campaign lifecycle event publishing. An empty
// broker list disables publishing.
type EventsConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// CLIConfig configures command-line ingestion.
type CLIConfig struct {
	UserID string `yaml:"user_id" mapstructure:"user_id"`
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
	v.SetEnvPrefix("LEADSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("scorer.base_url", "http://localhost:8000")
	v.SetDefault("scorer.token", "")
	v.SetDefault("scorer.timeout_secs", 120)
	v.SetDefault("scorer.health_timeout_secs", 5)
	v.SetDefault("scorer.requests_per_second", 0)
	v.SetDefault("scorer.burst", 1)
	v.SetDefault("scorer.breaker_threshold", 5)
	v.SetDefault("scorer.breaker_reset_secs", 30)
	v.SetDefault("ingest.max_file_bytes", 10*1024*1024)
	v.SetDefault("ingest.max_rows", 1000)
	v.SetDefault("query.default_page_size", 20)
	v.SetDefault("query.max_page_size", 100)
	v.SetDefault("query.campaign_list_limit", 50)
	v.SetDefault("query.campaign_list_max", 100)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.topic", "campaign-events")
	v.SetDefault("cli.user_id", "cli")
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

// Validate checks the settings a command mode depends on. Modes are
// "serve", "ingest" and "query"; unknown modes only get the common checks.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver (LEADSCORE_STORE_DATABASE_URL)")
		}
	case "sqlite":
	default:
		problems = append(problems, "store.driver must be postgres or sqlite, got "+c.Store.Driver)
	}

	if mode == "serve" || mode == "ingest" {
		if c.Scorer.BaseURL == "" {
			problems = append(problems, "scorer.base_url is required (LEADSCORE_SCORER_BASE_URL)")
		}
		if c.Scorer.TimeoutSecs <= 0 {
			problems = append(problems, "scorer.timeout_secs must be positive")
		}
		if c.Ingest.MaxFileBytes <= 0 {
			problems = append(problems, "ingest.max_file_bytes must be positive")
		}
		if c.Ingest.MaxRows <= 0 {
			problems = append(problems, "ingest.max_rows must be positive")
		}
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, "server.port must be between 1 and 65535")
	}

	if mode == "serve" || mode == "query" {
		if c.Query.DefaultPageSize <= 0 || c.Query.MaxPageSize < c.Query.DefaultPageSize {
			problems = append(problems, "query.default_page_size must be positive and not exceed query.max_page_size")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
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
