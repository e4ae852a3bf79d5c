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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	Geofence  GeofenceConfig  `yaml:"geofence" mapstructure:"geofence"`
	Aggregate AggregateConfig `yaml:"aggregate" mapstructure:"aggregate"`
	Forecast  ForecastConfig  `yaml:"forecast" mapstructure:"forecast"`
	Cluster   ClusterConfig   `yaml:"cluster" mapstructure:"cluster"`
	Scorer    ScorerConfig    `yaml:"scorer" mapstructure:"scorer"`
	Rank      RankConfig      `yaml:"rank" mapstructure:"rank"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the output database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SourceConfig configures where demand events and entities are read from.
type SourceConfig struct {
	Mode           string   `yaml:"mode" mapstructure:"mode"` // live | fixture
	FixturePath    string   `yaml:"fixture_path" mapstructure:"fixture_path"`
	DatabaseURL    string   `yaml:"database_url" mapstructure:"database_url"`
	SchemaVersion  string   `yaml:"schema_version" mapstructure:"schema_version"`
	PageSize       int      `yaml:"page_size" mapstructure:"page_size"`
	ReadAhead      int      `yaml:"read_ahead" mapstructure:"read_ahead"`
	PagesPerSecond float64  `yaml:"pages_per_second" mapstructure:"pages_per_second"`
	Statuses       []string `yaml:"statuses" mapstructure:"statuses"`
}

// GeofenceConfig points at an optional polygon file (GeoJSON or shapefile).
type GeofenceConfig struct {
	Path         string `yaml:"path" mapstructure:"path"`
	NameProperty string `yaml:"name_property" mapstructure:"name_property"`
}

// AggregateConfig configures demand aggregation.
type AggregateConfig struct {
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
	// LocationPrecision is the number of decimal places demand locations are
	// rounded to before grouping. Negative keeps exact coordinates.
	LocationPrecision int `yaml:"location_precision" mapstructure:"location_precision"`
}

// ForecastConfig configures per-entity trend extrapolation.
type ForecastConfig struct {
	HorizonPeriods       int  `yaml:"horizon_periods" mapstructure:"horizon_periods"`
	MinRegressionPeriods int  `yaml:"min_regression_periods" mapstructure:"min_regression_periods"`
	ExcludeCurrentPeriod bool `yaml:"exclude_current_period" mapstructure:"exclude_current_period"`
}

// ClusterConfig configures segment clustering.
type ClusterConfig struct {
	Strategy         string  `yaml:"strategy" mapstructure:"strategy"` // kmeans | dbscan
	KMax             int     `yaml:"k_max" mapstructure:"k_max"`
	MinPointsDivisor int     `yaml:"min_points_divisor" mapstructure:"min_points_divisor"`
	MinPoints        int     `yaml:"min_points" mapstructure:"min_points"`
	Seed             uint64  `yaml:"seed" mapstructure:"seed"`
	BatchSize        int     `yaml:"batch_size" mapstructure:"batch_size"`
	MaxIter          int     `yaml:"max_iter" mapstructure:"max_iter"`
	DBSCANEpsMeters  float64 `yaml:"dbscan_eps_m" mapstructure:"dbscan_eps_m"`
	DBSCANMinSamples int     `yaml:"dbscan_min_samples" mapstructure:"dbscan_min_samples"`
}

// ScorerConfig holds the composite score weights, thresholds and penalties.
type ScorerConfig struct {
	OrdersWeight   float64 `yaml:"orders_weight" mapstructure:"orders_weight"`
	SalesWeight    float64 `yaml:"sales_weight" mapstructure:"sales_weight"`
	DistanceWeight float64 `yaml:"distance_weight" mapstructure:"distance_weight"`
	GrowthWeight   float64 `yaml:"growth_weight" mapstructure:"growth_weight"`

	MinOrders        int     `yaml:"min_orders" mapstructure:"min_orders"`
	MinSales         float64 `yaml:"min_sales" mapstructure:"min_sales"`
	MinSpacingMeters float64 `yaml:"min_spacing_m" mapstructure:"min_spacing_m"`

	OrdersPenalty  float64 `yaml:"orders_penalty" mapstructure:"orders_penalty"`
	SalesPenalty   float64 `yaml:"sales_penalty" mapstructure:"sales_penalty"`
	SpacingPenalty float64 `yaml:"spacing_penalty" mapstructure:"spacing_penalty"`

	// DistanceCapMeters bounds the distance term so a segment without
	// existing entities does not score infinitely.
	DistanceCapMeters float64 `yaml:"distance_cap_m" mapstructure:"distance_cap_m"`

	GrowthEnabled      bool    `yaml:"growth_enabled" mapstructure:"growth_enabled"`
	GrowthRadiusMeters float64 `yaml:"growth_radius_m" mapstructure:"growth_radius_m"`
}

// RankConfig configures top-K selection.
type RankConfig struct {
	TopK int `yaml:"top_k" mapstructure:"top_k"`
}

// BatchConfig configures segment concurrency.
type BatchConfig struct {
	MaxConcurrentSegments int `yaml:"max_concurrent_segments" mapstructure:"max_concurrent_segments"`
}

// OutputConfig configures output persistence retries.
type OutputConfig struct {
	MaxAttempts         int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs    int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs        int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerThreshold    int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// ServerConfig configures the read API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// RateLimitPerMinute caps requests per client IP. Zero disables the limit.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
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
	v.SetEnvPrefix("SITING")
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "siting.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_minute", 600)

	v.SetDefault("source.mode", "fixture")
	v.SetDefault("source.fixture_path", "testdata/fixture.yaml")
	v.SetDefault("source.schema_version", "v1")
	v.SetDefault("source.page_size", 500)
	v.SetDefault("source.read_ahead", 4)
	v.SetDefault("source.pages_per_second", 20.0)
	v.SetDefault("source.statuses", []string{"Completed", "Delivered"})

	v.SetDefault("geofence.name_property", "districtName")

	v.SetDefault("aggregate.timezone", "Asia/Manila")
	v.SetDefault("aggregate.location_precision", 5)

	v.SetDefault("forecast.horizon_periods", 12)
	v.SetDefault("forecast.min_regression_periods", 3)
	v.SetDefault("forecast.exclude_current_period", true)

	v.SetDefault("cluster.strategy", "kmeans")
	v.SetDefault("cluster.k_max", 6)
	v.SetDefault("cluster.min_points_divisor", 3)
	v.SetDefault("cluster.min_points", 1)
	v.SetDefault("cluster.seed", 42)
	v.SetDefault("cluster.batch_size", 100)
	v.SetDefault("cluster.max_iter", 100)
	v.SetDefault("cluster.dbscan_eps_m", 500.0)
	v.SetDefault("cluster.dbscan_min_samples", 2)

	v.SetDefault("scorer.orders_weight", 0.4)
	v.SetDefault("scorer.sales_weight", 0.3)
	v.SetDefault("scorer.distance_weight", 0.1)
	v.SetDefault("scorer.growth_weight", 0.2)
	v.SetDefault("scorer.min_orders", 8)
	v.SetDefault("scorer.min_sales", 800.0)
	v.SetDefault("scorer.min_spacing_m", 400.0)
	v.SetDefault("scorer.orders_penalty", 2.0)
	v.SetDefault("scorer.sales_penalty", 2.0)
	v.SetDefault("scorer.spacing_penalty", 1.0)
	v.SetDefault("scorer.distance_cap_m", 10000.0)
	v.SetDefault("scorer.growth_enabled", true)
	v.SetDefault("scorer.growth_radius_m", 3000.0)

	v.SetDefault("rank.top_k", 5)
	v.SetDefault("batch.max_concurrent_segments", 4)
	v.SetDefault("output.max_attempts", 3)
	v.SetDefault("output.initial_backoff_ms", 250)
	v.SetDefault("output.max_backoff_ms", 5000)
	v.SetDefault("output.breaker_threshold", 5)
	v.SetDefault("output.breaker_cooldown_secs", 30)
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
