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
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Vocab  VocabConfig  `yaml:"vocab" mapstructure:"vocab"`
	Rules  RulesConfig  `yaml:"rules" mapstructure:"rules"`
	Ingest IngestConfig `yaml:"ingest" mapstructure:"ingest"`
	Merge  MergeConfig  `yaml:"merge" mapstructure:"merge"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig tunes the postgres connection pool.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port             int     `yaml:"port" mapstructure:"port"`
	IngestRatePerSec float64 `yaml:"ingest_rate_per_sec" mapstructure:"ingest_rate_per_sec"`
	IngestBurst      int     `yaml:"ingest_burst" mapstructure:"ingest_burst"`
}

// VocabConfig points at the controlled parameter vocabulary. An empty path
// uses the built-in default vocabulary.
type VocabConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// RulesConfig points at the defect classification rule table. An empty path
// uses the built-in default table.
type RulesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// IngestConfig configures the ingestion write path.
type IngestConfig struct {
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	CSVEncoding string `yaml:"csv_encoding" mapstructure:"csv_encoding"`
}

// MergeConfig sets the default reconciliation strategy for views that do not
// request one explicitly.
type MergeConfig struct {
	DefaultStrategy string `yaml:"default_strategy" mapstructure:"default_strategy"`
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
	v.SetEnvPrefix("SPECPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "specpipe.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.ingest_rate_per_sec", 20)
	v.SetDefault("server.ingest_burst", 40)
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.csv_encoding", "utf-8")
	v.SetDefault("merge.default_strategy", "priority")
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
