// Package config loads application configuration from config.yaml and
// OUTREACH_* environment variables, and owns global logger setup.
package config

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/outreach-engine/internal/enrich"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig        `yaml:"store" mapstructure:"store"`
	Log        LogConfig          `yaml:"log" mapstructure:"log"`
	Server     ServerConfig       `yaml:"server" mapstructure:"server"`
	Queue      QueueConfig        `yaml:"queue" mapstructure:"queue"`
	Cache      enrich.CacheConfig `yaml:"cache" mapstructure:"cache"`
	Merge      enrich.MergeConfig `yaml:"merge" mapstructure:"merge"`
	MergeFile  string             `yaml:"merge_file" mapstructure:"merge_file"`
	Providers  ProvidersConfig    `yaml:"providers" mapstructure:"providers"`
	RateLimits map[string]int     `yaml:"rate_limits" mapstructure:"rate_limits"`
	Breaker    BreakerConfig      `yaml:"breaker" mapstructure:"breaker"`
	Salesforce SalesforceConfig   `yaml:"salesforce" mapstructure:"salesforce"`
	Secrets    SecretsConfig      `yaml:"secrets" mapstructure:"secrets"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// QueueConfig configures the job queue and its worker pool.
type QueueConfig struct {
	Workers         int           `yaml:"workers" mapstructure:"workers"`
	PollInterval    time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	JobTimeout      time.Duration `yaml:"job_timeout" mapstructure:"job_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	RescoreInterval time.Duration `yaml:"rescore_interval" mapstructure:"rescore_interval"`
	BackoffBase     time.Duration `yaml:"backoff_base" mapstructure:"backoff_base"`
	BackoffCeiling  time.Duration `yaml:"backoff_ceiling" mapstructure:"backoff_ceiling"`
}

// ProvidersConfig holds per-provider endpoint settings. API keys live in the
// encrypted credential store; the Key fields here are a convenience fallback
// for single-user CLI runs.
type ProvidersConfig struct {
	Apollo     ProviderConfig `yaml:"apollo" mapstructure:"apollo"`
	Clearbit   ProviderConfig `yaml:"clearbit" mapstructure:"clearbit"`
	Hunter     ProviderConfig `yaml:"hunter" mapstructure:"hunter"`
	Crunchbase ProviderConfig `yaml:"crunchbase" mapstructure:"crunchbase"`
}

// ProviderConfig holds one provider's endpoint and fallback key.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key" mapstructure:"key"`
}

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
}

// SalesforceConfig holds Salesforce JWT auth settings for CRM export.
type SalesforceConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	ClientID   string  `yaml:"client_id" mapstructure:"client_id"`
	Username   string  `yaml:"username" mapstructure:"username"`
	KeyPath    string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL   string  `yaml:"login_url" mapstructure:"login_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// SecretsConfig holds the credential encryption key as a 64-char hex string.
type SecretsConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// DecodeKey decodes the hex-encoded encryption key.
func (s SecretsConfig) DecodeKey() ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s.Key))
	if err != nil {
		return nil, eris.Wrap(err, "config: secrets key is not valid hex")
	}
	return key, nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "outreach.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.poll_interval", "2s")
	v.SetDefault("queue.job_timeout", "2m")
	v.SetDefault("queue.sweep_interval", "1h")
	v.SetDefault("queue.rescore_interval", "15m")
	v.SetDefault("queue.backoff_base", "30s")
	v.SetDefault("queue.backoff_ceiling", "15m")
	v.SetDefault("cache.default_ttl", "168h")
	v.SetDefault("cache.source_ttl", map[string]string{
		"apollo":     "168h",
		"clearbit":   "720h",
		"hunter":     "720h",
		"crunchbase": "168h",
	})
	v.SetDefault("providers.apollo.base_url", "https://api.apollo.io/api/v1")
	v.SetDefault("providers.clearbit.base_url", "https://company.clearbit.com/v2")
	v.SetDefault("providers.hunter.base_url", "https://api.hunter.io/v2")
	v.SetDefault("providers.crunchbase.base_url", "https://api.crunchbase.com/v4")
	v.SetDefault("rate_limits", map[string]int{
		"apollo":     50,
		"clearbit":   100,
		"hunter":     30,
		"crunchbase": 60,
	})
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout", "30s")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_per_sec", 5.0)

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

	// Merge priority comes from a standalone YAML file when one is named,
	// from the merge section otherwise, with the built-in order as the
	// final fallback.
	if cfg.MergeFile != "" {
		merge, err := enrich.LoadMergeFile(cfg.MergeFile)
		if err != nil {
			return nil, err
		}
		cfg.Merge = merge
	} else if len(cfg.Merge.Default) == 0 && len(cfg.Merge.Fields) == 0 {
		cfg.Merge = enrich.DefaultMergeConfig()
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
