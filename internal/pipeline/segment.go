package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/siting-cli/internal/aggregate"
	"github.com/sells-group/siting-cli/internal/cluster"
	"github.com/sells-group/siting-cli/internal/config"
	"github.com/sells-group/siting-cli/internal/feasibility"
	"github.com/sells-group/siting-cli/internal/forecast"
	"github.com/sells-group/siting-cli/internal/geo"
	"github.com/sells-group/siting-cli/internal/model"
	"github.com/sells-group/siting-cli/internal/rank"
	"github.com/sells-group/siting-cli/internal/scorer"
)

// segmentOutput is the persisted output of one segment plus run bookkeeping.
type segmentOutput struct {
	model.SegmentOutput
	insufficient bool
	excluded     int
}

// segmentProcessor holds the per-run components shared by every segment.
// Segment processing reads only immutable state, so one processor serves all
// workers.
type segmentProcessor struct {
	cfg       *config.Config
	runID     string
	now       time.Time
	fopts     forecast.Options
	clusterer *cluster.Clusterer
	filter    *feasibility.Filter
}

func newSegmentProcessor(cfg *config.Config, runID string, fences *geo.GeofenceTable, now time.Time) *segmentProcessor {
	fopts := forecast.DefaultOptions()
	if cfg.Forecast.HorizonPeriods > 0 {
		fopts.HorizonPeriods = cfg.Forecast.HorizonPeriods
	}
	if cfg.Forecast.MinRegressionPeriods > 0 {
		fopts.MinRegressionPeriods = cfg.Forecast.MinRegressionPeriods
	}
	return &segmentProcessor{
		cfg:       cfg,
		runID:     runID,
		now:       now,
		fopts:     fopts,
		clusterer: cluster.New(cfg.Cluster),
		filter:    feasibility.New(fences),
	}
}

// process forecasts, clusters, filters, scores and ranks one segment.
func (sp *segmentProcessor) process(seg model.SegmentKey, res *aggregate.Result) segmentOutput {
	log := zap.L().With(zap.String("run_id", sp.runID), zap.String("segment", seg.String()))

	points := res.Points[seg]
	entities := res.EntitiesIn(seg)
	series := res.SeriesIn(seg)

	forecasts := make([]forecast.EntityForecast, len(series))
	for i, s := range series {
		fit := s
		if sp.cfg.Forecast.ExcludeCurrentPeriod {
			fit, _ = forecast.SplitAt(s, sp.now)
		}
		forecasts[i] = forecast.Forecast(fit, sp.fopts)
	}
	totals := forecast.Combine(forecasts)

	rollup := rank.Rollup(sp.runID, seg, totals, sp.fopts.HorizonPeriods, len(points))
	rollup.Entities = len(entities)

	out := segmentOutput{SegmentOutput: model.SegmentOutput{
		Segment: seg,
		Rollup:  rollup,
		Trend:   forecast.BuildTrendSeries(series, forecasts, sp.now, sp.fopts.HorizonPeriods),
	}}

	clusters, err := sp.clusterer.Cluster(seg, points)
	if err != nil {
		if model.IsInsufficientData(err) {
			out.insufficient = true
			log.Info("pipeline: segment skipped for recommendations", zap.Error(err))
			return out
		}
		log.Warn("pipeline: clustering failed", zap.Error(err))
		return out
	}

	candidates, excluded := sp.filter.Apply(seg, clusters, entities)
	out.excluded = excluded

	var growth forecast.GrowthSignal
	if sp.cfg.Scorer.GrowthEnabled {
		growth = forecast.NewForecastGrowth(sp.cfg.Scorer.GrowthRadiusMeters, entities, forecasts)
	}
	scored := scorer.New(sp.cfg.Scorer, growth).ScoreAll(candidates)
	out.Recommendations = rank.TopK(sp.runID, seg, scored, sp.cfg.Rank.TopK, totals.Trend, sp.now)

	log.Debug("pipeline: segment processed",
		zap.Int("points", len(points)),
		zap.Int("clusters", len(clusters)),
		zap.Int("excluded", excluded),
		zap.Int("recommendations", len(out.Recommendations)),
		zap.String("trend", string(totals.Trend)),
	)
	return out
}

func mergeTrends(trends [][]model.TrendPoint) []model.TrendPoint {
	if len(trends) == 0 {
		return nil
	}
	return forecast.MergeTrendSeries(trends...)
}
