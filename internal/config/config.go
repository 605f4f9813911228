package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/vote-match/internal/district"
	"github.com/sells-group/vote-match/internal/metrics"
	"github.com/sells-group/vote-match/internal/pipeline"
	"github.com/sells-group/vote-match/internal/store"
	"github.com/sells-group/vote-match/pkg/geocode"
)

// EnvPrefix prefixes every environment override, e.g. VOTEMATCH_STORE_DSN.
const EnvPrefix = "VOTEMATCH"

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig     `yaml:"store" mapstructure:"store"`
	Geocode  GeocodeConfig   `yaml:"geocode" mapstructure:"geocode"`
	Pipeline pipeline.Config `yaml:"pipeline" mapstructure:"pipeline"`
	District district.Config `yaml:"district" mapstructure:"district"`
	Metrics  metrics.Config  `yaml:"metrics" mapstructure:"metrics"`
	Log      LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver string           `yaml:"driver" mapstructure:"driver"`
	DSN    string           `yaml:"dsn" mapstructure:"dsn"`
	Pool   store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// GeocodeConfig is the provider configuration plus the provider used when
// none is named on the command line.
type GeocodeConfig struct {
	DefaultProvider string `yaml:"default_provider" mapstructure:"default_provider"`
	geocode.Config  `yaml:",inline" mapstructure:",squash"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment, in
// increasing precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

// setDefaults registers every key so AutomaticEnv can override it, including
// credentials that have no default.
func setDefaults(v *viper.Viper) {
	gc := geocode.DefaultConfig()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("geocode.default_provider", "census")
	v.SetDefault("geocode.default_state", gc.DefaultState)
	v.SetDefault("geocode.census.base_url", gc.Census.BaseURL)
	v.SetDefault("geocode.census.benchmark", gc.Census.Benchmark)
	v.SetDefault("geocode.census.vintage", gc.Census.Vintage)
	v.SetDefault("geocode.census.timeout_secs", gc.Census.TimeoutSecs)
	v.SetDefault("geocode.nominatim.base_url", gc.Nominatim.BaseURL)
	v.SetDefault("geocode.nominatim.email", "")
	v.SetDefault("geocode.nominatim.delay_ms", gc.Nominatim.DelayMillis)
	v.SetDefault("geocode.nominatim.timeout_secs", gc.Nominatim.TimeoutSecs)
	v.SetDefault("geocode.geocodio.api_key", "")
	v.SetDefault("geocode.geocodio.base_url", gc.Geocodio.BaseURL)
	v.SetDefault("geocode.geocodio.version", gc.Geocodio.Version)
	v.SetDefault("geocode.geocodio.timeout_secs", gc.Geocodio.TimeoutSecs)
	v.SetDefault("geocode.mapbox.access_token", "")
	v.SetDefault("geocode.mapbox.base_url", gc.Mapbox.BaseURL)
	v.SetDefault("geocode.mapbox.country", gc.Mapbox.Country)
	v.SetDefault("geocode.mapbox.timeout_secs", gc.Mapbox.TimeoutSecs)
	v.SetDefault("geocode.google.api_key", "")
	v.SetDefault("geocode.google.base_url", gc.Google.BaseURL)
	v.SetDefault("geocode.google.region", gc.Google.Region)
	v.SetDefault("geocode.google.delay_ms", gc.Google.DelayMillis)
	v.SetDefault("geocode.google.timeout_secs", gc.Google.TimeoutSecs)
	v.SetDefault("geocode.photon.base_url", gc.Photon.BaseURL)
	v.SetDefault("geocode.photon.delay_ms", gc.Photon.DelayMillis)
	v.SetDefault("geocode.photon.timeout_secs", gc.Photon.TimeoutSecs)
	v.SetDefault("geocode.usps.base_url", gc.USPS.BaseURL)
	v.SetDefault("geocode.usps.client_id", "")
	v.SetDefault("geocode.usps.client_secret", "")
	v.SetDefault("geocode.usps.delay_ms", gc.USPS.DelayMillis)
	v.SetDefault("geocode.usps.timeout_secs", gc.USPS.TimeoutSecs)

	v.SetDefault("pipeline.default_batch_size", pipeline.DefaultBatchSize)
	v.SetDefault("district.types", []string{})
	v.SetDefault("district.save_batch_size", district.DefaultSaveBatchSize)
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "vote_match")
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

// Validate checks the settings every store-backed command depends on.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for the postgres driver")
		}
	case "sqlite":
		// An empty dsn falls back to a local file.
	default:
		errs = append(errs, "store.driver must be postgres or sqlite, got "+quote(c.Store.Driver))
	}
	if c.Pipeline.DefaultBatchSize < 0 {
		errs = append(errs, "pipeline.default_batch_size must be >= 0")
	}
	if c.District.SaveBatchSize < 0 {
		errs = append(errs, "district.save_batch_size must be >= 0")
	}
	if c.Geocode.DefaultProvider == "" {
		errs = append(errs, "geocode.default_provider is required")
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func quote(s string) string { return `"` + s + `"` }
