// Package scorer computes composite scores for candidate facility locations.
package scorer

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/siting-cli/internal/config"
)

// DefaultScorerConfig returns a config.ScorerConfig with the default
// weights, thresholds and penalties.
func DefaultScorerConfig() config.ScorerConfig {
	return config.ScorerConfig{
		// Weights.
		OrdersWeight:   0.4,
		SalesWeight:    0.3,
		DistanceWeight: 0.1,
		GrowthWeight:   0.2,

		// Thresholds.
		MinOrders:        8,
		MinSales:         800,
		MinSpacingMeters: 400,

		// Penalties.
		OrdersPenalty:  2,
		SalesPenalty:   2,
		SpacingPenalty: 1,

		DistanceCapMeters:  10_000,
		GrowthEnabled:      true,
		GrowthRadiusMeters: 3_000,
	}
}

// WeightSum returns the sum of all component weights.
func WeightSum(c config.ScorerConfig) float64 {
	return c.OrdersWeight + c.SalesWeight + c.DistanceWeight + c.GrowthWeight
}

// ValidateConfig checks that a ScorerConfig is internally consistent.
func ValidateConfig(c config.ScorerConfig) error {
	var errs []string

	// All weights must be non-negative.
	weights := []struct {
		name string
		v    float64
	}{
		{"orders_weight", c.OrdersWeight},
		{"sales_weight", c.SalesWeight},
		{"distance_weight", c.DistanceWeight},
		{"growth_weight", c.GrowthWeight},
	}
	for _, w := range weights {
		if w.v < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", w.name))
		}
	}
	if WeightSum(c) <= 0 {
		errs = append(errs, "weight sum must be > 0")
	}

	// Thresholds.
	if c.MinOrders < 0 {
		errs = append(errs, "min_orders must be >= 0")
	}
	if c.MinSales < 0 {
		errs = append(errs, "min_sales must be >= 0")
	}
	if c.MinSpacingMeters < 0 {
		errs = append(errs, "min_spacing_m must be >= 0")
	}

	// Penalties are subtracted, so they are given as magnitudes.
	if c.OrdersPenalty < 0 || c.SalesPenalty < 0 || c.SpacingPenalty < 0 {
		errs = append(errs, "penalties must be >= 0")
	}

	if c.DistanceCapMeters <= 0 {
		errs = append(errs, "distance_cap_m must be > 0")
	}
	if c.GrowthEnabled && c.GrowthRadiusMeters <= 0 {
		errs = append(errs, "growth_radius_m must be > 0 when growth is enabled")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
