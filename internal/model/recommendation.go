package model

import (
	"time"
)

// Trend classifies projected demand relative to history.
type Trend string

const (
	TrendIncreasing Trend = "Increasing"
	TrendStable     Trend = "Stable"
	TrendDecreasing Trend = "Decreasing"
	TrendUnknown    Trend = "Unknown"
)

// Recommendation is a ranked candidate location for a new facility.
type Recommendation struct {
	RunID              string     `json:"run_id"`
	Segment            SegmentKey `json:"segment"`
	Lat                float64    `json:"lat"`
	Lng                float64    `json:"lng"`
	EstOrdersPerPeriod int        `json:"estimated_orders_per_period"`
	EstSalesPerPeriod  float64    `json:"estimated_sales_per_period"`
	NearestEntityID    string     `json:"nearest_entity_id,omitempty"`
	// NearestDistanceMeters is nil when the segment has no existing entities.
	NearestDistanceMeters *float64  `json:"nearest_distance_m,omitempty"`
	ClusterOrders         int       `json:"cluster_orders"`
	ClusterSales          float64   `json:"cluster_sales"`
	Trend                 Trend     `json:"trend"`
	Score                 float64   `json:"score"`
	Rank                  int       `json:"rank"`
	SegmentRank           int       `json:"segment_rank"`
	CreatedAt             time.Time `json:"created_at"`
}

// SegmentRollup summarises demand history and forecast for one segment.
type SegmentRollup struct {
	RunID              string     `json:"run_id"`
	Segment            SegmentKey `json:"segment"`
	TotalHistory       float64    `json:"total_history"`
	ForecastNextPeriod float64    `json:"forecast_next_period"`
	ForecastHorizon    float64    `json:"forecast_horizon"`
	HorizonPeriods     int        `json:"horizon_periods"`
	// TrendHorizon is the 12 period forecast the trend label is derived from.
	TrendHorizon float64 `json:"trend_horizon"`
	Trend        Trend   `json:"trend"`
	Rank         int     `json:"rank"`
	Entities     int     `json:"entities"`
	DemandPoints int     `json:"demand_points"`
}

// Summary is the cross-segment rollup.
type Summary struct {
	RunID                  string     `json:"run_id"`
	OverallTotal           float64    `json:"overall_total"`
	OverallForecastNext    float64    `json:"overall_forecast_next_period"`
	OverallForecastHorizon float64    `json:"overall_forecast_horizon"`
	Trend                  Trend      `json:"trend"`
	HighestDemandSegment   SegmentKey `json:"highest_demand_segment"`
	LowestDemandSegment    SegmentKey `json:"lowest_demand_segment"`
	Segments               int        `json:"segments"`
	Recommendations        int        `json:"recommendations"`
	GeneratedAt            time.Time  `json:"generated_at"`
}

// PeriodKind tags a trend point relative to the current month.
type PeriodKind string

const (
	PeriodPast    PeriodKind = "past"
	PeriodCurrent PeriodKind = "current"
	PeriodFuture  PeriodKind = "future"
)

// TrendPoint is one month of a segment or overall trend series.
type TrendPoint struct {
	Period   string     `json:"period"`
	Kind     PeriodKind `json:"kind"`
	Actual   float64    `json:"actual"`
	Forecast float64    `json:"forecast"`
	Value    float64    `json:"value"`
}

// SegmentOutput is everything the pipeline persists for one segment. It
// replaces any previous output stored under the same segment key.
type SegmentOutput struct {
	Segment         SegmentKey       `json:"segment"`
	Rollup          SegmentRollup    `json:"rollup"`
	Recommendations []Recommendation `json:"recommendations"`
	Trend           []TrendPoint     `json:"trend"`
}
