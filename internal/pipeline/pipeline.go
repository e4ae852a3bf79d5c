// Package pipeline runs one recommendation pass: ingest, aggregate, forecast,
// cluster, filter, score, rank and persist, segment by segment.
package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/siting-cli/internal/aggregate"
	"github.com/sells-group/siting-cli/internal/config"
	"github.com/sells-group/siting-cli/internal/geo"
	"github.com/sells-group/siting-cli/internal/model"
	"github.com/sells-group/siting-cli/internal/rank"
	"github.com/sells-group/siting-cli/internal/resilience"
	"github.com/sells-group/siting-cli/internal/source"
	"github.com/sells-group/siting-cli/internal/store"
)

// Pipeline orchestrates a recommendation run.
type Pipeline struct {
	cfg     *config.Config
	store   store.Store
	loc     *time.Location
	now     func() time.Time
	newID   func() string
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock fixes the run time.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRunID fixes the run identifier generator.
func WithRunID(newID func() string) Option {
	return func(p *Pipeline) { p.newID = newID }
}

// WithRetry overrides the output retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(p *Pipeline) { p.retry = cfg }
}

// New creates a Pipeline. A nil store computes results without persisting
// them.
func New(cfg *config.Config, st store.Store, opts ...Option) (*Pipeline, error) {
	loc := time.UTC
	if cfg.Aggregate.Timezone != "" {
		l, err := time.LoadLocation(cfg.Aggregate.Timezone)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: load timezone %q", cfg.Aggregate.Timezone)
		}
		loc = l
	}
	p := &Pipeline{
		cfg:     cfg,
		store:   st,
		loc:     loc,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
		retry:   resilience.FromOutputConfig(cfg.Output),
		breaker: resilience.BreakerFromOutputConfig(cfg.Output),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Result is the outcome of a run.
type Result struct {
	RunID           string                 `json:"run_id"`
	Summary         model.Summary          `json:"summary"`
	Rollups         []model.SegmentRollup  `json:"rollups"`
	Recommendations []model.Recommendation `json:"recommendations"`
	OverallTrend    []model.TrendPoint     `json:"overall_trend"`
	Stats           aggregate.Stats        `json:"stats"`
	// Insufficient lists segments with too few demand points to cluster.
	Insufficient []model.SegmentKey `json:"insufficient,omitempty"`
	// Excluded counts candidates dropped by geofences.
	Excluded       int                  `json:"excluded"`
	FailedSegments []resilience.Failure `json:"failed_segments,omitempty"`
}

// Run executes a full pass over src. It returns model.ErrNoUsableData when no
// event survives validation and no entity maps, an IngestionError when src
// cannot be read, and model.ErrOutputFailed (with the Result) when any
// segment could not be written.
func (p *Pipeline) Run(ctx context.Context, src source.Source, fences *geo.GeofenceTable) (*Result, error) {
	runID := p.newID()
	now := p.now().In(p.loc)
	log := zap.L().With(zap.String("run_id", runID))
	log.Info("pipeline: starting run", zap.Time("now", now))

	agg, err := p.ingest(ctx, src)
	if err != nil {
		return nil, err
	}
	res := agg.Result()
	result := &Result{RunID: runID, Stats: res.Stats}
	log.Info("pipeline: ingestion complete",
		zap.Int("accepted", res.Stats.Accepted),
		zap.Int("filtered", res.Stats.Filtered),
		zap.Int("dropped", res.Stats.DroppedTotal()),
		zap.Any("dropped_by_reason", res.Stats.Dropped),
		zap.Int("entities", len(res.Entities)),
	)
	if res.Stats.Accepted == 0 && len(res.Entities) == 0 {
		return result, model.ErrNoUsableData
	}

	segments := res.Segments()
	outputs, cancelErr := p.computeAll(ctx, runID, segments, res, fences, now)

	ranked := p.finish(result, outputs)

	p.persistSegments(ctx, runID, outputs, result, now)
	if cancelErr != nil {
		log.Warn("pipeline: run cancelled", zap.Int("segments_done", len(outputs)), zap.Int("segments", len(segments)))
		return result, eris.Wrap(cancelErr, "pipeline: run cancelled")
	}

	result.Summary = rank.Summarize(runID, ranked, len(result.Recommendations), now)
	p.persistSummary(ctx, runID, result, now)

	log.Info("pipeline: run complete",
		zap.Int("segments", len(segments)),
		zap.Int("recommendations", len(result.Recommendations)),
		zap.Int("insufficient", len(result.Insufficient)),
		zap.Int("excluded", result.Excluded),
		zap.Int("failed", len(result.FailedSegments)),
		zap.String("trend", string(result.Summary.Trend)),
	)
	if len(result.FailedSegments) > 0 {
		return result, eris.Wrapf(model.ErrOutputFailed, "pipeline: %d output write(s) failed", len(result.FailedSegments))
	}
	return result, nil
}

// ingest streams entities and events into an aggregator.
func (p *Pipeline) ingest(ctx context.Context, src source.Source) (*aggregate.Aggregator, error) {
	agg := aggregate.New(aggregate.Options{
		Location:          p.loc,
		LocationPrecision: p.cfg.Aggregate.LocationPrecision,
		Statuses:          p.cfg.Source.Statuses,
	})

	entities, err := src.Entities(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load entities")
	}
	agg.AddEntities(entities)

	err = src.Events(ctx, func(raw model.RawEvent) error {
		if addErr := agg.Add(raw); addErr != nil {
			zap.L().Debug("pipeline: event dropped", zap.String("event_id", raw.ID), zap.Error(addErr))
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read events")
	}
	return agg, nil
}

// computeAll processes segments on a bounded errgroup. Once ctx is done no
// further segments are scheduled; segments already running complete. Outputs
// come back in segment order.
func (p *Pipeline) computeAll(ctx context.Context, runID string, segments []model.SegmentKey, res *aggregate.Result, fences *geo.GeofenceTable, now time.Time) ([]segmentOutput, error) {
	slots := make([]*segmentOutput, len(segments))
	sp := newSegmentProcessor(p.cfg, runID, fences, now)

	var (
		g       errgroup.Group
		skipped atomic.Bool
	)
	g.SetLimit(max(1, p.cfg.Batch.MaxConcurrentSegments))
	for i, seg := range segments {
		if ctx.Err() != nil {
			skipped.Store(true)
			break
		}
		// g.Go blocks while every slot is busy, so ctx may be done by the
		// time the closure starts.
		g.Go(func() error {
			if ctx.Err() != nil {
				skipped.Store(true)
				return nil
			}
			out := sp.process(seg, res)
			slots[i] = &out
			return nil
		})
	}
	_ = g.Wait()

	var cancelErr error
	if skipped.Load() {
		cancelErr = ctx.Err()
	}

	outputs := make([]segmentOutput, 0, len(segments))
	for _, o := range slots {
		if o != nil {
			outputs = append(outputs, *o)
		}
	}
	return outputs, cancelErr
}

// finish ranks segments and fills the result in segment order.
func (p *Pipeline) finish(result *Result, outputs []segmentOutput) []model.SegmentRollup {
	rollups := make([]model.SegmentRollup, len(outputs))
	for i, o := range outputs {
		rollups[i] = o.Rollup
	}
	ranked := rank.RankSegments(rollups)
	byKey := make(map[model.SegmentKey]int, len(ranked))
	for _, r := range ranked {
		byKey[r.Segment] = r.Rank
	}

	trends := make([][]model.TrendPoint, 0, len(outputs))
	for i := range outputs {
		o := &outputs[i]
		o.Rollup.Rank = byKey[o.Segment]
		rank.ApplySegmentRank(o.Recommendations, ranked)
		result.Recommendations = append(result.Recommendations, o.Recommendations...)
		trends = append(trends, o.Trend)
		if o.insufficient {
			result.Insufficient = append(result.Insufficient, o.Segment)
		}
		result.Excluded += o.excluded
	}
	result.Rollups = ranked
	result.OverallTrend = mergeTrends(trends)
	return ranked
}

// persistSegments writes each segment's output with retries behind the output
// breaker. Writes run on a context detached from cancellation so that a
// cancelled run still records the segments it computed.
func (p *Pipeline) persistSegments(ctx context.Context, runID string, outputs []segmentOutput, result *Result, now time.Time) {
	if p.store == nil {
		return
	}
	writeCtx := context.WithoutCancel(ctx)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(max(1, p.cfg.Batch.MaxConcurrentSegments))
	for _, o := range outputs {
		g.Go(func() error {
			err := p.write(writeCtx, "segment "+o.Segment.String(), func(ctx context.Context) error {
				return p.store.ReplaceSegment(ctx, runID, o.SegmentOutput)
			})
			if err != nil {
				err = &model.OutputWriteError{Segment: o.Segment, Attempts: resilience.Attempts(err), Err: err}
				zap.L().Error("pipeline: segment output failed",
					zap.String("segment", o.Segment.String()),
					zap.Error(err),
				)
				mu.Lock()
				result.FailedSegments = append(result.FailedSegments, resilience.NewFailure(o.Segment.String(), err, now))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(result.FailedSegments, func(i, j int) bool {
		return result.FailedSegments[i].Key < result.FailedSegments[j].Key
	})
}

// summaryKey labels a failed summary write in Result.FailedSegments.
const summaryKey = "summary"

func (p *Pipeline) persistSummary(ctx context.Context, runID string, result *Result, now time.Time) {
	if p.store == nil {
		return
	}
	err := p.write(context.WithoutCancel(ctx), summaryKey, func(ctx context.Context) error {
		return p.store.ReplaceSummary(ctx, runID, result.Summary, result.OverallTrend)
	})
	if err != nil {
		zap.L().Error("pipeline: summary output failed", zap.Error(err))
		result.FailedSegments = append(result.FailedSegments, resilience.NewFailure(summaryKey, err, now))
	}
}

func (p *Pipeline) write(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	retry := p.retry
	retry.OnRetry = resilience.RetryLogger("output write", zap.String("output", what))
	return resilience.Do(ctx, retry, func(ctx context.Context) error {
		return p.breaker.Execute(ctx, fn)
	})
}

// IsCancelled reports whether err came from a cancelled run.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
