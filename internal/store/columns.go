package store

import (
	"database/sql"

	"github.com/sells-group/siting-cli/internal/model"
)

var (
	recommendationColumns = []string{
		"run_id", "category", "region", "rank", "segment_rank", "lat", "lng",
		"est_orders", "est_sales", "nearest_entity_id", "nearest_distance_m",
		"cluster_orders", "cluster_sales", "trend", "score", "created_at",
	}
	rollupColumns = []string{
		"category", "region", "run_id", "total_history", "forecast_next",
		"forecast_horizon", "horizon_periods", "trend_horizon", "trend", "rank",
		"entities", "demand_points",
	}
	trendColumns = []string{
		"category", "region", "run_id", "period", "kind", "actual", "forecast", "value",
	}
	summaryColumns = []string{
		"id", "run_id", "overall_total", "overall_forecast_next", "overall_forecast_horizon",
		"trend", "highest_category", "highest_region", "lowest_category", "lowest_region",
		"segments", "recommendations", "generated_at",
	}
	segmentKeyColumns = []string{"category", "region"}
)

// summaryID is the key of the single summary row.
const summaryID = 1

func recommendationRow(runID string, r model.Recommendation) []any {
	return []any{
		runID, r.Segment.Category, r.Segment.Region, r.Rank, r.SegmentRank, r.Lat, r.Lng,
		r.EstOrdersPerPeriod, r.EstSalesPerPeriod, r.NearestEntityID, nullableDistance(r.NearestDistanceMeters),
		r.ClusterOrders, r.ClusterSales, string(r.Trend), r.Score, r.CreatedAt.UTC(),
	}
}

func rollupRow(runID string, r model.SegmentRollup) []any {
	return []any{
		r.Segment.Category, r.Segment.Region, runID, r.TotalHistory, r.ForecastNextPeriod,
		r.ForecastHorizon, r.HorizonPeriods, r.TrendHorizon, string(r.Trend), r.Rank,
		r.Entities, r.DemandPoints,
	}
}

func trendRows(runID string, seg model.SegmentKey, points []model.TrendPoint) [][]any {
	rows := make([][]any, len(points))
	for i, p := range points {
		rows[i] = []any{seg.Category, seg.Region, runID, p.Period, string(p.Kind), p.Actual, p.Forecast, p.Value}
	}
	return rows
}

func summaryRow(runID string, s model.Summary) []any {
	return []any{
		summaryID, runID, s.OverallTotal, s.OverallForecastNext, s.OverallForecastHorizon,
		string(s.Trend), s.HighestDemandSegment.Category, s.HighestDemandSegment.Region,
		s.LowestDemandSegment.Category, s.LowestDemandSegment.Region,
		s.Segments, s.Recommendations, s.GeneratedAt.UTC(),
	}
}

// scanner is satisfied by *sql.Row(s) and pgx.Row(s).
type scanner interface {
	Scan(dest ...any) error
}

func scanRecommendation(row scanner) (model.Recommendation, error) {
	var (
		r     model.Recommendation
		dist  sql.NullFloat64
		trend string
	)
	err := row.Scan(&r.RunID, &r.Segment.Category, &r.Segment.Region, &r.Rank, &r.SegmentRank,
		&r.Lat, &r.Lng, &r.EstOrdersPerPeriod, &r.EstSalesPerPeriod, &r.NearestEntityID, &dist,
		&r.ClusterOrders, &r.ClusterSales, &trend, &r.Score, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	if dist.Valid {
		d := dist.Float64
		r.NearestDistanceMeters = &d
	}
	r.Trend = model.Trend(trend)
	return r, nil
}

func scanRollup(row scanner) (model.SegmentRollup, error) {
	var (
		r     model.SegmentRollup
		trend string
	)
	err := row.Scan(&r.Segment.Category, &r.Segment.Region, &r.RunID, &r.TotalHistory,
		&r.ForecastNextPeriod, &r.ForecastHorizon, &r.HorizonPeriods, &r.TrendHorizon,
		&trend, &r.Rank, &r.Entities, &r.DemandPoints)
	r.Trend = model.Trend(trend)
	return r, err
}

func scanTrendPoint(row scanner) (model.TrendPoint, error) {
	var (
		p    model.TrendPoint
		kind string
	)
	err := row.Scan(&p.Period, &kind, &p.Actual, &p.Forecast, &p.Value)
	p.Kind = model.PeriodKind(kind)
	return p, err
}

func scanSummary(row scanner) (model.Summary, error) {
	var (
		s     model.Summary
		id    int
		trend string
	)
	err := row.Scan(&id, &s.RunID, &s.OverallTotal, &s.OverallForecastNext, &s.OverallForecastHorizon,
		&trend, &s.HighestDemandSegment.Category, &s.HighestDemandSegment.Region,
		&s.LowestDemandSegment.Category, &s.LowestDemandSegment.Region,
		&s.Segments, &s.Recommendations, &s.GeneratedAt)
	s.Trend = model.Trend(trend)
	return s, err
}
