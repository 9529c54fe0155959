package config

import (
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrConfiguration marks a missing or invalid setting. Stages return it
// before doing any work.
var ErrConfiguration = errors.New("configuration error")

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	State     StateConfig     `yaml:"state" mapstructure:"state"`
	Blob      BlobConfig      `yaml:"blob" mapstructure:"blob"`
	Catalog   CatalogConfig   `yaml:"catalog" mapstructure:"catalog"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Warehouse WarehouseConfig `yaml:"warehouse" mapstructure:"warehouse"`
	Quality   QualityConfig   `yaml:"quality" mapstructure:"quality"`
	Alert     AlertConfig     `yaml:"alert" mapstructure:"alert"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StateConfig configures the item-state store.
type StateConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DSN           string `yaml:"dsn" mapstructure:"dsn"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days"`
}

// BlobConfig configures the S3-compatible object store and its buckets.
type BlobConfig struct {
	Endpoint     string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey    string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey    string `yaml:"secret_key" mapstructure:"secret_key"`
	UseSSL       bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	Region       string `yaml:"region" mapstructure:"region"`
	BronzeBucket string `yaml:"bronze_bucket" mapstructure:"bronze_bucket"`
	SilverBucket string `yaml:"silver_bucket" mapstructure:"silver_bucket"`
	GoldBucket   string `yaml:"gold_bucket" mapstructure:"gold_bucket"`
	TmpPrefix    string `yaml:"tmp_prefix" mapstructure:"tmp_prefix"`
}

// CatalogConfig configures the remote catalog API client.
type CatalogConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Throttle         string  `yaml:"throttle" mapstructure:"throttle"` // fixed or token_bucket
	RequestDelayMs   int     `yaml:"request_delay_ms" mapstructure:"request_delay_ms"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	Token            string  `yaml:"token" mapstructure:"token"`
	SecretFile       string  `yaml:"secret_file" mapstructure:"secret_file"`
}

// DiscoveryConfig bounds a single discovery run.
type DiscoveryConfig struct {
	HotLimit            int `yaml:"hot_limit" mapstructure:"hot_limit"`
	ScanRangeSize       int `yaml:"scan_range_size" mapstructure:"scan_range_size"`
	ScanBatchSize       int `yaml:"scan_batch_size" mapstructure:"scan_batch_size"`
	RefreshDays         int `yaml:"refresh_days" mapstructure:"refresh_days"`
	RefreshLimit        int `yaml:"refresh_limit" mapstructure:"refresh_limit"`
	NewIDsLimit         int `yaml:"new_ids_limit" mapstructure:"new_ids_limit"`
	ReclaimAfterMinutes int `yaml:"reclaim_after_minutes" mapstructure:"reclaim_after_minutes"`
	StartID             int `yaml:"start_id" mapstructure:"start_id"`
}

// WarehouseConfig configures the Postgres warehouse used by load and quality.
type WarehouseConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
}

// QualityConfig configures the data quality engine.
type QualityConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// AlertConfig configures alert delivery. Both transports are optional.
type AlertConfig struct {
	WebhookURL     string `yaml:"webhook_url" mapstructure:"webhook_url"`
	AMQPURL        string `yaml:"amqp_url" mapstructure:"amqp_url"`
	AMQPExchange   string `yaml:"amqp_exchange" mapstructure:"amqp_exchange"`
	AMQPRoutingKey string `yaml:"amqp_routing_key" mapstructure:"amqp_routing_key"`
}

// ServerConfig configures the stage invocation server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
	// AllowedOrigins enables CORS for browser dashboards polling outputs.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SOMMELIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("state.driver", "sqlite")
	v.SetDefault("state.dsn", "sommelier-state.db")
	v.SetDefault("state.retention_days", 180)
	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.access_key", "")
	v.SetDefault("blob.secret_key", "")
	v.SetDefault("blob.use_ssl", false)
	v.SetDefault("blob.region", "")
	v.SetDefault("blob.bronze_bucket", "bronze")
	v.SetDefault("blob.silver_bucket", "silver")
	v.SetDefault("blob.gold_bucket", "gold")
	v.SetDefault("blob.tmp_prefix", "_tmp/")
	v.SetDefault("catalog.base_url", "https://boardgamegeek.com/xmlapi2")
	v.SetDefault("catalog.user_agent", "BoardGames-Sommelier/1.0")
	v.SetDefault("catalog.timeout_secs", 30)
	v.SetDefault("catalog.throttle", "fixed")
	v.SetDefault("catalog.request_delay_ms", 2000)
	v.SetDefault("catalog.rate_per_sec", 0.5)
	v.SetDefault("catalog.burst", 1)
	v.SetDefault("catalog.max_attempts", 3)
	v.SetDefault("catalog.initial_backoff_ms", 1000)
	v.SetDefault("catalog.token", "")
	v.SetDefault("catalog.secret_file", "")
	v.SetDefault("discovery.hot_limit", 50)
	v.SetDefault("discovery.scan_range_size", 1000)
	v.SetDefault("discovery.scan_batch_size", 20)
	v.SetDefault("discovery.refresh_days", 30)
	v.SetDefault("discovery.refresh_limit", 100)
	v.SetDefault("discovery.new_ids_limit", 1000)
	v.SetDefault("discovery.reclaim_after_minutes", 0)
	v.SetDefault("discovery.start_id", 1)
	v.SetDefault("warehouse.database_url", "")
	v.SetDefault("warehouse.schema", "warehouse")
	v.SetDefault("quality.rules_path", "")
	v.SetDefault("alert.webhook_url", "")
	v.SetDefault("alert.amqp_url", "")
	v.SetDefault("alert.amqp_exchange", "sommelier.alerts")
	v.SetDefault("alert.amqp_routing_key", "quality.failed")
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

// Validate checks the settings a stage needs before it starts. The
// returned error wraps ErrConfiguration.
func (c *Config) Validate(mode string) error {
	var errs []string

	requireBlob := func() {
		if c.Blob.Endpoint == "" {
			errs = append(errs, "blob.endpoint is required")
		}
	}
	requireState := func() {
		switch c.State.Driver {
		case "sqlite", "postgres":
		default:
			errs = append(errs, "state.driver must be sqlite or postgres")
		}
		if c.State.DSN == "" {
			errs = append(errs, "state.dsn is required")
		}
	}
	requireCatalog := func() {
		if c.Catalog.BaseURL == "" {
			errs = append(errs, "catalog.base_url is required")
		}
		if c.Catalog.Token == "" && c.Catalog.SecretFile == "" {
			errs = append(errs, "catalog.token or catalog.secret_file is required")
		}
		switch c.Catalog.Throttle {
		case "fixed", "token_bucket":
		default:
			errs = append(errs, "catalog.throttle must be fixed or token_bucket")
		}
	}
	requireWarehouse := func() {
		if c.Warehouse.DatabaseURL == "" {
			errs = append(errs, "warehouse.database_url is required")
		}
	}

	switch mode {
	case "discover":
		requireBlob()
		requireState()
		requireCatalog()
		d := c.Discovery
		if d.ScanBatchSize < 1 || d.ScanBatchSize > 20 {
			errs = append(errs, "discovery.scan_batch_size must be between 1 and 20")
		}
		if d.HotLimit < 0 || d.ScanRangeSize < 0 || d.RefreshLimit < 0 || d.NewIDsLimit < 0 || d.RefreshDays < 0 {
			errs = append(errs, "discovery limits must be >= 0")
		}
	case "extract":
		requireBlob()
		requireState()
		requireCatalog()
	case "clean", "transform":
		requireBlob()
	case "load":
		requireBlob()
		requireWarehouse()
	case "quality":
		requireWarehouse()
	case "state":
		requireState()
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Wrapf(ErrConfiguration, "config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Wrapf(ErrConfiguration, "config: %s", strings.Join(errs, "; "))
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
