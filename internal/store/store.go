// Package store persists recommendation runs. Every write replaces the rows
// stored under its key, so re-running over the same data leaves one copy.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/siting-cli/internal/config"
	"github.com/sells-group/siting-cli/internal/model"
)

// RecommendationFilter narrows ListRecommendations.
type RecommendationFilter struct {
	Category string `json:"category,omitempty"`
	Region   string `json:"region,omitempty"`
	RunID    string `json:"run_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for recommendation output.
type Store interface {
	// ReplaceSegment overwrites the recommendations, rollup and trend series
	// stored for out.Segment in one transaction.
	ReplaceSegment(ctx context.Context, runID string, out model.SegmentOutput) error
	// ReplaceSummary overwrites the run summary and the overall trend series.
	ReplaceSummary(ctx context.Context, runID string, summary model.Summary, overall []model.TrendPoint) error

	ListRecommendations(ctx context.Context, filter RecommendationFilter) ([]model.Recommendation, error)
	ListRollups(ctx context.Context) ([]model.SegmentRollup, error)
	// GetSummary returns nil without error when no run has been stored.
	GetSummary(ctx context.Context) (*model.Summary, error)
	// ListTrend returns the series for a segment. The zero key selects the
	// overall series.
	ListTrend(ctx context.Context, segment model.SegmentKey) ([]model.TrendPoint, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store named by cfg.Driver ("sqlite" or "postgres").
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres", "postgresql":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

const defaultListLimit = 500

func (f RecommendationFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// nullableDistance maps the optional distance to a driver value.
func nullableDistance(d *float64) any {
	if d == nil {
		return nil
	}
	return *d
}
