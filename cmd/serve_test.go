package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/siting-cli/internal/config"
	"github.com/sells-group/siting-cli/internal/model"
	"github.com/sells-group/siting-cli/internal/store"
)

var servedAt = time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	for i, seg := range []model.SegmentKey{
		model.NewSegmentKey("Alkaline", "Poblacion"),
		model.NewSegmentKey("Mineral", "Agdao"),
	} {
		out := model.SegmentOutput{
			Segment: seg,
			Rollup: model.SegmentRollup{
				RunID: "run-1", Segment: seg, TotalHistory: 100, ForecastNextPeriod: 12,
				Trend: model.TrendStable, Rank: i + 1, Entities: 1, DemandPoints: 5,
			},
			Trend: []model.TrendPoint{{Period: "2026-02", Kind: model.PeriodPast, Actual: 10, Value: 10}},
		}
		for r := 1; r <= 2; r++ {
			out.Recommendations = append(out.Recommendations, model.Recommendation{
				RunID: "run-1", Segment: seg, Lat: 7.07, Lng: 125.61 + float64(r)/100,
				EstOrdersPerPeriod: 5, EstSalesPerPeriod: 500, Score: float64(10 - r),
				Rank: r, SegmentRank: i + 1, Trend: model.TrendStable, CreatedAt: servedAt,
			})
		}
		require.NoError(t, st.ReplaceSegment(ctx, "run-1", out))
	}
	require.NoError(t, st.ReplaceSummary(ctx, "run-1",
		model.Summary{RunID: "run-1", OverallTotal: 200, Segments: 2, Recommendations: 4, GeneratedAt: servedAt},
		[]model.TrendPoint{{Period: "2026-02", Kind: model.PeriodPast, Actual: 20, Value: 20}},
	))
	return st
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRouter_Health(t *testing.T) {
	h := buildRouter(seededStore(t), config.ServerConfig{})

	w := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestRouter_Recommendations(t *testing.T) {
	h := buildRouter(seededStore(t), config.ServerConfig{})

	w := get(t, h, "/recommendations")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Recommendation](t, w), 4)

	w = get(t, h, "/recommendations?category=Mineral")
	require.Equal(t, http.StatusOK, w.Code)
	recs := decode[[]model.Recommendation](t, w)
	require.Len(t, recs, 2)
	assert.Equal(t, "Mineral", recs[0].Segment.Category)

	w = get(t, h, "/recommendations?limit=1&offset=1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Recommendation](t, w), 1)
}

func TestRouter_SegmentRecommendations(t *testing.T) {
	h := buildRouter(seededStore(t), config.ServerConfig{})

	w := get(t, h, "/recommendations/Alkaline/Poblacion")
	require.Equal(t, http.StatusOK, w.Code)
	recs := decode[[]model.Recommendation](t, w)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[0].Rank)
	assert.Equal(t, 2, recs[1].Rank)

	w = get(t, h, "/recommendations/Unknown/Nowhere")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}

func TestRouter_BadPaging(t *testing.T) {
	h := buildRouter(seededStore(t), config.ServerConfig{})

	for _, path := range []string{"/recommendations?limit=abc", "/recommendations?offset=-1"} {
		w := get(t, h, path)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Contains(t, decode[map[string]string](t, w)["error"], "invalid")
	}
}

func TestRouter_Rollups(t *testing.T) {
	h := buildRouter(seededStore(t), config.ServerConfig{})

	w := get(t, h, "/rollups")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.SegmentRollup](t, w), 2)
}

func TestRouter_Summary(t *testing.T) {
	h := buildRouter(seededStore(t), config.ServerConfig{})

	w := get(t, h, "/summary")
	require.Equal(t, http.StatusOK, w.Code)
	s := decode[model.Summary](t, w)
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, 2, s.Segments)
}

func TestRouter_SummaryEmptyStore(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	w := get(t, buildRouter(st, config.ServerConfig{}), "/summary")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_Trends(t *testing.T) {
	h := buildRouter(seededStore(t), config.ServerConfig{})

	w := get(t, h, "/trends")
	require.Equal(t, http.StatusOK, w.Code)
	overall := decode[[]model.TrendPoint](t, w)
	require.Len(t, overall, 1)
	assert.InDelta(t, 20.0, overall[0].Actual, 1e-9)

	w = get(t, h, "/trends?category=Alkaline&region=Poblacion")
	require.Equal(t, http.StatusOK, w.Code)
	seg := decode[[]model.TrendPoint](t, w)
	require.Len(t, seg, 1)
	assert.InDelta(t, 10.0, seg[0].Actual, 1e-9)

	w = get(t, h, "/trends?region=Poblacion")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_CORS(t *testing.T) {
	h := buildRouter(seededStore(t), config.ServerConfig{AllowedOrigins: []string{"https://maps.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://maps.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "https://maps.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://other.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RateLimit(t *testing.T) {
	h := buildRouter(seededStore(t), config.ServerConfig{RateLimitPerMinute: 2})

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, h, "/health").Code)
}

type failingStore struct{ store.Store }

func (failingStore) ListRollups(context.Context) ([]model.SegmentRollup, error) {
	return nil, errors.New("disk gone")
}

func TestRouter_StoreErrorIs500(t *testing.T) {
	h := buildRouter(failingStore{}, config.ServerConfig{})

	w := get(t, h, "/rollups")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", decode[map[string]string](t, w)["error"])
}
