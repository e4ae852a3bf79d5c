package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/siting-cli/internal/config"
	"github.com/sells-group/siting-cli/internal/geo"
	"github.com/sells-group/siting-cli/internal/model"
	"github.com/sells-group/siting-cli/internal/resilience"
)

func newTestPipeline(t *testing.T, cfg *config.Config, st *mockStore) *Pipeline {
	t.Helper()
	opts := []Option{
		WithClock(func() time.Time { return runNow }),
		WithRunID(func() string { return "run-test" }),
		WithRetry(resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
	}
	var p *Pipeline
	var err error
	if st == nil {
		p, err = New(cfg, nil, opts...)
	} else {
		p, err = New(cfg, st, opts...)
	}
	require.NoError(t, err)
	return p
}

func forSegment(seg model.SegmentKey) any {
	return mock.MatchedBy(func(o model.SegmentOutput) bool { return o.Segment == seg })
}

func TestRun_EndToEnd(t *testing.T) {
	st := &mockStore{}
	st.On("ReplaceSegment", mock.Anything, "run-test", forSegment(alkaline)).Return(nil).Once()
	st.On("ReplaceSegment", mock.Anything, "run-test", forSegment(mineral)).Return(nil).Once()
	st.On("ReplaceSummary", mock.Anything, "run-test", mock.AnythingOfType("model.Summary"), mock.Anything).Return(nil).Once()

	p := newTestPipeline(t, testConfig(), st)
	res, err := p.Run(context.Background(), demandSource(), nil)
	require.NoError(t, err)
	st.AssertExpectations(t)

	assert.Equal(t, "run-test", res.RunID)
	assert.Equal(t, 74, res.Stats.Accepted)
	assert.Equal(t, 1, res.Stats.Filtered)
	assert.Equal(t, 1, res.Stats.DroppedTotal())

	require.Len(t, res.Rollups, 2)
	assert.Equal(t, alkaline, res.Rollups[0].Segment)
	assert.Equal(t, 1, res.Rollups[0].Rank)
	assert.Equal(t, mineral, res.Rollups[1].Segment)
	assert.Equal(t, 2, res.Rollups[1].Rank)
	assert.Equal(t, model.TrendIncreasing, res.Rollups[0].Trend)
	assert.Equal(t, 12, res.Rollups[0].DemandPoints)
	assert.Equal(t, 1, res.Rollups[0].Entities)

	require.NotEmpty(t, res.Recommendations)
	perSegment := map[model.SegmentKey][]model.Recommendation{}
	for _, r := range res.Recommendations {
		perSegment[r.Segment] = append(perSegment[r.Segment], r)
		assert.Equal(t, "run-test", r.RunID)
		assert.GreaterOrEqual(t, r.EstOrdersPerPeriod, 1)
		assert.GreaterOrEqual(t, r.EstSalesPerPeriod, 0.0)
	}
	for seg, recs := range perSegment {
		assert.LessOrEqual(t, len(recs), 3, seg.String())
		for i, r := range recs {
			assert.Equal(t, i+1, r.Rank)
			if i > 0 {
				assert.GreaterOrEqual(t, recs[i-1].Score, r.Score)
			}
		}
	}
	for _, r := range perSegment[alkaline] {
		assert.Equal(t, 1, r.SegmentRank)
		assert.Equal(t, "st-1", r.NearestEntityID)
		require.NotNil(t, r.NearestDistanceMeters)
	}
	for _, r := range perSegment[mineral] {
		assert.Equal(t, 2, r.SegmentRank)
	}

	assert.Equal(t, alkaline, res.Summary.HighestDemandSegment)
	assert.Equal(t, mineral, res.Summary.LowestDemandSegment)
	assert.Equal(t, 2, res.Summary.Segments)
	assert.Equal(t, len(res.Recommendations), res.Summary.Recommendations)
	assert.InDelta(t, res.Rollups[0].TotalHistory+res.Rollups[1].TotalHistory, res.Summary.OverallTotal, 1e-9)

	require.NotEmpty(t, res.OverallTrend)
	assert.Equal(t, "2026-01", res.OverallTrend[0].Period)
	var current int
	for _, pt := range res.OverallTrend {
		if pt.Kind == model.PeriodCurrent {
			current++
			assert.Equal(t, "2026-04", pt.Period)
		}
	}
	assert.Equal(t, 1, current)
	assert.Empty(t, res.FailedSegments)
}

func TestRun_Deterministic(t *testing.T) {
	p := newTestPipeline(t, testConfig(), nil)

	first, err := p.Run(context.Background(), demandSource(), nil)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Batch.MaxConcurrentSegments = 1
	second, err := newTestPipeline(t, cfg, nil).Run(context.Background(), demandSource(), nil)
	require.NoError(t, err)

	assert.Equal(t, first.Recommendations, second.Recommendations)
	assert.Equal(t, first.Rollups, second.Rollups)
	assert.Equal(t, first.Summary, second.Summary)
}

func TestRun_NoUsableData(t *testing.T) {
	src := &fakeSource{events: []model.RawEvent{{ID: "bad", Status: "Completed"}}}

	res, err := newTestPipeline(t, testConfig(), nil).Run(context.Background(), src, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNoUsableData)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Stats.DroppedTotal())
}

func TestRun_IngestionError(t *testing.T) {
	src := &fakeSource{entitiesErr: model.NewIngestionError("read source_entities", errors.New("connection refused"))}

	_, err := newTestPipeline(t, testConfig(), nil).Run(context.Background(), src, nil)
	require.Error(t, err)
	assert.True(t, model.IsIngestion(err))
}

func TestRun_SegmentWriteFailure(t *testing.T) {
	st := &mockStore{}
	st.On("ReplaceSegment", mock.Anything, "run-test", forSegment(alkaline)).Return(nil).Once()
	st.On("ReplaceSegment", mock.Anything, "run-test", forSegment(mineral)).
		Return(errors.New("permission denied for table recommendations")).Once()
	st.On("ReplaceSummary", mock.Anything, "run-test", mock.Anything, mock.Anything).Return(nil).Once()

	res, err := newTestPipeline(t, testConfig(), st).Run(context.Background(), demandSource(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrOutputFailed)
	st.AssertExpectations(t)

	require.Len(t, res.FailedSegments, 1)
	f := res.FailedSegments[0]
	assert.Equal(t, mineral.String(), f.Key)
	assert.Equal(t, "permanent", f.ErrorType)
	assert.Equal(t, 1, f.Attempts)
	assert.NotEmpty(t, res.Recommendations, "other segments still produce output")
}

func TestRun_TransientWriteRetried(t *testing.T) {
	st := &mockStore{}
	st.On("ReplaceSegment", mock.Anything, "run-test", forSegment(alkaline)).
		Return(resilience.NewTransientError(errors.New("database is locked"))).Once()
	st.On("ReplaceSegment", mock.Anything, "run-test", forSegment(alkaline)).Return(nil).Once()
	st.On("ReplaceSegment", mock.Anything, "run-test", forSegment(mineral)).Return(nil).Once()
	st.On("ReplaceSummary", mock.Anything, "run-test", mock.Anything, mock.Anything).Return(nil).Once()

	res, err := newTestPipeline(t, testConfig(), st).Run(context.Background(), demandSource(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.FailedSegments)
	st.AssertExpectations(t)
}

func TestRun_SummaryWriteFailure(t *testing.T) {
	st := &mockStore{}
	st.On("ReplaceSegment", mock.Anything, "run-test", mock.Anything).Return(nil).Twice()
	st.On("ReplaceSummary", mock.Anything, "run-test", mock.Anything, mock.Anything).
		Return(errors.New("disk full")).Once()

	res, err := newTestPipeline(t, testConfig(), st).Run(context.Background(), demandSource(), nil)
	assert.ErrorIs(t, err, model.ErrOutputFailed)
	require.Len(t, res.FailedSegments, 1)
	assert.Equal(t, "summary", res.FailedSegments[0].Key)
}

func TestRun_CancelledBeforeScheduling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := &mockStore{}
	res, err := newTestPipeline(t, testConfig(), st).Run(ctx, demandSource(), nil)
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.Empty(t, res.Recommendations)
	st.AssertNotCalled(t, "ReplaceSegment", mock.Anything, mock.Anything, mock.Anything)
	st.AssertNotCalled(t, "ReplaceSummary", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_GeofenceExcludesEverything(t *testing.T) {
	fence, err := geo.NewPolygonFence("Poblacion", []model.LatLng{
		{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 1}, {Lat: 1, Lng: 0},
	})
	require.NoError(t, err)
	fences := geo.NewGeofenceTable(fence)

	res, err := newTestPipeline(t, testConfig(), nil).Run(context.Background(), demandSource(), fences)
	require.NoError(t, err)
	for _, r := range res.Recommendations {
		assert.NotEqual(t, alkaline, r.Segment)
	}
	assert.Positive(t, res.Excluded)
	require.Len(t, res.Rollups, 2, "rollups are kept for fenced segments")
}

func TestRun_InsufficientSegment(t *testing.T) {
	cfg := testConfig()
	cfg.Cluster.MinPoints = 5

	res, err := newTestPipeline(t, cfg, nil).Run(context.Background(), demandSource(), nil)
	require.NoError(t, err)
	assert.Equal(t, []model.SegmentKey{mineral}, res.Insufficient)
	for _, r := range res.Recommendations {
		assert.Equal(t, alkaline, r.Segment)
	}
}

func TestNew_BadTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.Aggregate.Timezone = "Mars/Olympus"
	_, err := New(cfg, nil)
	require.Error(t, err)
}

// cancelAfterCtx reports no error for the first n Err calls and
// context.Canceled afterwards.
type cancelAfterCtx struct {
	context.Context
	n     int64
	calls atomic.Int64
}

func (c *cancelAfterCtx) Err() error {
	if c.calls.Add(1) > c.n {
		return context.Canceled
	}
	return nil
}

func TestComputeAll_CancelledWhileWaitingForSlot(t *testing.T) {
	cfg := testConfig()
	cfg.Batch.MaxConcurrentSegments = 1
	p := newTestPipeline(t, cfg, nil)

	agg, err := p.ingest(context.Background(), demandSource())
	require.NoError(t, err)
	res := agg.Result()
	segments := res.Segments()
	require.Len(t, segments, 2)

	// The scheduling loop sees a live context for the first segment; by the
	// time that segment's worker starts, the context is done.
	ctx := &cancelAfterCtx{Context: context.Background(), n: 1}
	outputs, cancelErr := p.computeAll(ctx, "run-test", segments, res, nil, runNow)

	assert.Empty(t, outputs)
	assert.ErrorIs(t, cancelErr, context.Canceled)
}

func TestComputeAll_CompletedRunIsNotCancelled(t *testing.T) {
	p := newTestPipeline(t, testConfig(), nil)

	agg, err := p.ingest(context.Background(), demandSource())
	require.NoError(t, err)
	res := agg.Result()

	outputs, cancelErr := p.computeAll(context.Background(), "run-test", res.Segments(), res, nil, runNow)
	assert.NoError(t, cancelErr)
	assert.Len(t, outputs, len(res.Segments()))
}
