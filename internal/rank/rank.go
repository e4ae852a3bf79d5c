// Package rank turns scored candidates into ranked recommendations and ranks
// segments against each other.
package rank

import (
	"math"
	"sort"
	"time"

	"github.com/sells-group/siting-cli/internal/forecast"
	"github.com/sells-group/siting-cli/internal/model"
	"github.com/sells-group/siting-cli/internal/scorer"
)

// TopK sorts scored candidates with scorer.Less and keeps the first k as
// recommendations ranked from 1. Estimates are clamped to at least one order
// and non-negative sales.
func TopK(runID string, segment model.SegmentKey, scored []scorer.Scored, k int, trend model.Trend, now time.Time) []model.Recommendation {
	sorted := make([]scorer.Scored, len(scored))
	copy(sorted, scored)
	scorer.Sort(sorted)
	if k >= 0 && len(sorted) > k {
		sorted = sorted[:k]
	}

	out := make([]model.Recommendation, 0, len(sorted))
	for i, s := range sorted {
		rec := model.Recommendation{
			RunID:              runID,
			Segment:            segment,
			Lat:                s.Cluster.Centroid.Lat,
			Lng:                s.Cluster.Centroid.Lng,
			EstOrdersPerPeriod: max(1, s.EstOrders),
			EstSalesPerPeriod:  math.Max(0, s.EstSales),
			NearestEntityID:    s.NearestEntityID,
			ClusterOrders:      s.Cluster.Orders,
			ClusterSales:       s.Cluster.Sales,
			Trend:              trend,
			Score:              s.Score,
			Rank:               i + 1,
			CreatedAt:          now,
		}
		if s.NearestEntityID != "" && !math.IsInf(s.NearestDistance, 0) {
			d := s.NearestDistance
			rec.NearestDistanceMeters = &d
		}
		out = append(out, rec)
	}
	return out
}

// Rollup builds a segment rollup from the combined entity forecasts.
func Rollup(runID string, segment model.SegmentKey, totals forecast.Totals, horizon, demandPoints int) model.SegmentRollup {
	return model.SegmentRollup{
		RunID:              runID,
		Segment:            segment,
		TotalHistory:       totals.TotalHistory,
		ForecastNextPeriod: totals.NextPeriod,
		ForecastHorizon:    totals.Horizon,
		HorizonPeriods:     horizon,
		TrendHorizon:       totals.Horizon12,
		Trend:              totals.Trend,
		Entities:           totals.Entities,
		DemandPoints:       demandPoints,
	}
}

// RankSegments returns the rollups ordered by next-period forecast, highest
// first, with Rank set from 1. Ties fall back to total history and then to the
// segment key.
func RankSegments(rollups []model.SegmentRollup) []model.SegmentRollup {
	out := make([]model.SegmentRollup, len(rollups))
	copy(out, rollups)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ForecastNextPeriod != b.ForecastNextPeriod {
			return a.ForecastNextPeriod > b.ForecastNextPeriod
		}
		if a.TotalHistory != b.TotalHistory {
			return a.TotalHistory > b.TotalHistory
		}
		return a.Segment.Less(b.Segment)
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// ApplySegmentRank copies each segment's rank onto its recommendations.
func ApplySegmentRank(recs []model.Recommendation, ranked []model.SegmentRollup) {
	byKey := make(map[model.SegmentKey]int, len(ranked))
	for _, r := range ranked {
		byKey[r.Segment] = r.Rank
	}
	for i := range recs {
		recs[i].SegmentRank = byKey[recs[i].Segment]
	}
}

// Summarize builds the cross-segment summary from ranked rollups.
func Summarize(runID string, ranked []model.SegmentRollup, recommendations int, now time.Time) model.Summary {
	s := model.Summary{
		RunID:           runID,
		Segments:        len(ranked),
		Recommendations: recommendations,
		GeneratedAt:     now,
	}
	var trendHorizon float64
	for _, r := range ranked {
		s.OverallTotal += r.TotalHistory
		s.OverallForecastNext += r.ForecastNextPeriod
		s.OverallForecastHorizon += r.ForecastHorizon
		trendHorizon += r.TrendHorizon
	}
	s.Trend = forecast.Classify(s.OverallTotal, trendHorizon)
	if len(ranked) > 0 {
		s.HighestDemandSegment = ranked[0].Segment
		s.LowestDemandSegment = ranked[len(ranked)-1].Segment
	}
	return s
}
