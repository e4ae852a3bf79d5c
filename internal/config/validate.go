package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the fields required by the given command mode
// ("recommend" or "serve") and returns every problem found at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "recommend":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateSource()...)
		errs = append(errs, c.validatePipeline()...)
	case "serve":
		errs = append(errs, c.validateStore()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

func (c *Config) validateSource() []string {
	var errs []string
	switch c.Source.Mode {
	case "fixture":
		if c.Source.FixturePath == "" {
			errs = append(errs, "source.fixture_path is required in fixture mode")
		}
	case "live":
		if c.Source.DatabaseURL == "" {
			errs = append(errs, "source.database_url is required in live mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("source.mode must be live or fixture, got %q", c.Source.Mode))
	}
	if c.Source.PageSize <= 0 {
		errs = append(errs, "source.page_size must be > 0")
	}
	if c.Source.ReadAhead < 0 {
		errs = append(errs, "source.read_ahead must be >= 0")
	}
	return errs
}

func (c *Config) validatePipeline() []string {
	var errs []string
	if c.Forecast.HorizonPeriods < 1 {
		errs = append(errs, "forecast.horizon_periods must be >= 1")
	}
	if c.Forecast.MinRegressionPeriods < 2 {
		errs = append(errs, "forecast.min_regression_periods must be >= 2")
	}
	switch c.Cluster.Strategy {
	case "kmeans", "dbscan":
	default:
		errs = append(errs, fmt.Sprintf("cluster.strategy must be kmeans or dbscan, got %q", c.Cluster.Strategy))
	}
	if c.Cluster.KMax < 1 {
		errs = append(errs, "cluster.k_max must be >= 1")
	}
	if c.Cluster.MinPointsDivisor < 1 {
		errs = append(errs, "cluster.min_points_divisor must be >= 1")
	}
	if c.Cluster.Strategy == "dbscan" && c.Cluster.DBSCANEpsMeters <= 0 {
		errs = append(errs, "cluster.dbscan_eps_m must be > 0")
	}
	if c.Rank.TopK < 1 {
		errs = append(errs, "rank.top_k must be >= 1")
	}
	if c.Batch.MaxConcurrentSegments < 1 || c.Batch.MaxConcurrentSegments > 64 {
		errs = append(errs, "batch.max_concurrent_segments must be between 1 and 64")
	}
	if c.Output.MaxAttempts < 1 {
		errs = append(errs, "output.max_attempts must be >= 1")
	}
	return errs
}
