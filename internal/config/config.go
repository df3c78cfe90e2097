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
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Rules    RulesConfig    `yaml:"rules" mapstructure:"rules"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int    `yaml:"min_conns" mapstructure:"min_conns"`
}

// PipelineConfig configures conflict resolution and batch fan-out.
type PipelineConfig struct {
	Weights     WeightsConfig `yaml:"weights" mapstructure:"weights"`
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
}

// WeightsConfig holds the conflict-resolution scoring weights. They must
// sum to 1.0.
type WeightsConfig struct {
	Reliability float64 `yaml:"reliability" mapstructure:"reliability"`
	Confidence  float64 `yaml:"confidence" mapstructure:"confidence"`
	Priority    float64 `yaml:"priority" mapstructure:"priority"`
}

// RulesConfig points at the business-rule definitions.
type RulesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port      int     `yaml:"port" mapstructure:"port"`
	IntakeRPS float64 `yaml:"intake_rps" mapstructure:"intake_rps"`
}

// ExportConfig configures the XLSX catalog export.
type ExportConfig struct {
	Dir   string `yaml:"dir" mapstructure:"dir"`
	Sheet string `yaml:"sheet" mapstructure:"sheet"`
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
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "catalog.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("pipeline.weights.reliability", 0.5)
	v.SetDefault("pipeline.weights.confidence", 0.3)
	v.SetDefault("pipeline.weights.priority", 0.2)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("rules.path", "rules.yaml")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.intake_rps", 50)
	v.SetDefault("export.dir", ".")
	v.SetDefault("export.sheet", "Catalog")
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
