package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/siting-cli/internal/cluster"
	"github.com/sells-group/siting-cli/internal/config"
	"github.com/sells-group/siting-cli/internal/model"
	"github.com/sells-group/siting-cli/internal/scorer"
	"github.com/sells-group/siting-cli/internal/store"
)

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ReplaceSegment(ctx context.Context, runID string, out model.SegmentOutput) error {
	return m.Called(ctx, runID, out).Error(0)
}

func (m *mockStore) ReplaceSummary(ctx context.Context, runID string, summary model.Summary, overall []model.TrendPoint) error {
	return m.Called(ctx, runID, summary, overall).Error(0)
}

func (m *mockStore) ListRecommendations(ctx context.Context, filter store.RecommendationFilter) ([]model.Recommendation, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Recommendation), args.Error(1)
}

func (m *mockStore) ListRollups(ctx context.Context) ([]model.SegmentRollup, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SegmentRollup), args.Error(1)
}

func (m *mockStore) GetSummary(ctx context.Context) (*model.Summary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Summary), args.Error(1)
}

func (m *mockStore) ListTrend(ctx context.Context, segment model.SegmentKey) ([]model.TrendPoint, error) {
	args := m.Called(ctx, segment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TrendPoint), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockStore) Close() error                      { return m.Called().Error(0) }

// --- Source Fake ---

type fakeSource struct {
	entities    []model.Entity
	events      []model.RawEvent
	entitiesErr error
}

func (f *fakeSource) Entities(context.Context) ([]model.Entity, error) {
	if f.entitiesErr != nil {
		return nil, f.entitiesErr
	}
	return f.entities, nil
}

func (f *fakeSource) Events(_ context.Context, fn func(model.RawEvent) error) error {
	for _, ev := range f.events {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSource) Close() error { return nil }

// --- Fixtures ---

var (
	alkaline = model.NewSegmentKey("Alkaline", "Poblacion")
	mineral  = model.NewSegmentKey("Mineral", "Agdao")
	runNow   = time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)
)

func testConfig() *config.Config {
	sc := scorer.DefaultScorerConfig()
	sc.GrowthRadiusMeters = 3000
	return &config.Config{
		Source:    config.SourceConfig{Statuses: []string{"Completed", "Delivered"}},
		Aggregate: config.AggregateConfig{Timezone: "Asia/Manila", LocationPrecision: 5},
		Forecast:  config.ForecastConfig{HorizonPeriods: 6, MinRegressionPeriods: 3, ExcludeCurrentPeriod: true},
		Cluster:   cluster.DefaultConfig(),
		Scorer:    sc,
		Rank:      config.RankConfig{TopK: 3},
		Batch:     config.BatchConfig{MaxConcurrentSegments: 2},
		Output:    config.OutputConfig{MaxAttempts: 2, InitialBackoffMs: 1, BreakerThreshold: 10, BreakerCooldownSecs: 30},
	}
}

// demandSource has a dense alkaline segment with growing monthly demand and a
// sparse mineral segment.
func demandSource() *fakeSource {
	src := &fakeSource{
		entities: []model.Entity{
			{ID: "st-1", Location: model.LatLng{Lat: 7.0731, Lng: 125.6128}, Segment: alkaline},
			{ID: "st-2", Location: model.LatLng{Lat: 7.0860, Lng: 125.6230}, Segment: mineral},
		},
	}
	n := 0
	add := func(entity, category, region string, lat, lng float64, month time.Month, revenue float64) {
		n++
		src.events = append(src.events, model.RawEvent{
			ID:         fmt.Sprintf("ev-%03d", n),
			Timestamp:  time.Date(2026, month, 10, 2, 0, 0, 0, time.UTC),
			Status:     "Completed",
			EntityIDs:  []string{entity},
			CustomerID: fmt.Sprintf("c-%d", n%7),
			Category:   category,
			Region:     region,
			Lat:        lat,
			Lng:        lng,
			Revenue:    revenue,
		})
	}
	for i := 0; i < 12; i++ {
		lat := 7.060 + 0.002*float64(i)
		lng := 125.600 + 0.002*float64(i)
		for m := time.January; m <= time.March; m++ {
			for j := 0; j < int(m); j++ {
				add("st-1", "Alkaline", "Poblacion", lat, lng, m, 150)
			}
		}
	}
	add("st-2", "Mineral", "Agdao", 7.09, 125.63, time.February, 80)
	add("st-2", "Mineral", "Agdao", 7.091, 125.631, time.March, 90)

	// Filtered and invalid rows.
	src.events = append(src.events,
		model.RawEvent{ID: "cancelled", Status: "Cancelled", Timestamp: runNow, Category: "Alkaline", Lat: 7.0, Lng: 125.0, Revenue: 10.0},
		model.RawEvent{ID: "no-coords", Status: "Completed", Timestamp: runNow, Category: "Alkaline", Revenue: 10.0},
	)
	return src
}
