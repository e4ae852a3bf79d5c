package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/siting-cli/internal/config"
	"github.com/sells-group/siting-cli/internal/model"
	"github.com/sells-group/siting-cli/internal/pipeline"
	"github.com/sells-group/siting-cli/internal/source"
	"github.com/sells-group/siting-cli/internal/store"
)

// loadTestConfig loads defaults from an empty directory and points the store
// at a fresh sqlite file and the source at the sample fixture.
func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	fixture, err := filepath.Abs(filepath.Join("..", "testdata", "fixture.yaml"))
	require.NoError(t, err)

	dir := t.TempDir()
	t.Chdir(dir)
	c, err := config.Load()
	require.NoError(t, err)
	c.Store.DatabaseURL = filepath.Join(dir, "siting.db")
	c.Source.FixturePath = fixture
	return c
}

func TestRecommendCommand_Flags(t *testing.T) {
	tests := map[string]string{
		"source":        "fixture",
		"fixture":       "",
		"geofence":      "",
		"k-per-segment": "6",
		"min-orders":    "8",
		"min-sales":     "800",
		"min-spacing":   "400",
		"top-k":         "5",
		"horizon":       "12",
		"dry-run":       "false",
	}
	for name, def := range tests {
		flag := recommendCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "recommend should have --%s flag", name)
		assert.Equal(t, def, flag.DefValue, "--%s default", name)
	}
}

func TestApplyRecommendFlags_OnlyChanged(t *testing.T) {
	c := &config.Config{}
	c.Rank.TopK = 5
	c.Scorer.MinOrders = 8
	c.Source.Mode = "live"

	require.NoError(t, recommendCmd.Flags().Set("top-k", "2"))
	require.NoError(t, recommendCmd.Flags().Set("min-spacing", "250"))
	t.Cleanup(func() {
		for _, name := range []string{"top-k", "min-spacing"} {
			f := recommendCmd.Flags().Lookup(name)
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})

	applyRecommendFlags(recommendCmd, c)
	assert.Equal(t, 2, c.Rank.TopK)
	assert.InDelta(t, 250.0, c.Scorer.MinSpacingMeters, 1e-9)
	assert.Equal(t, 8, c.Scorer.MinOrders)
	assert.Equal(t, "live", c.Source.Mode, "unchanged flag must not override config")
}

func TestRunRecommend_FixtureIntoSQLite(t *testing.T) {
	c := loadTestConfig(t)
	ctx := context.Background()

	result, err := runRecommend(ctx, c, false)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 128, result.Stats.Accepted)
	assert.NotEmpty(t, result.Rollups)
	assert.Equal(t, len(result.Rollups), result.Summary.Segments)

	st, err := store.Open(ctx, c.Store)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	summary, err := st.GetSummary(ctx)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, result.RunID, summary.RunID)

	rollups, err := st.ListRollups(ctx)
	require.NoError(t, err)
	assert.Len(t, rollups, len(result.Rollups))

	recs, err := st.ListRecommendations(ctx, store.RecommendationFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, len(result.Recommendations))
}

func TestRunRecommend_RerunOverwrites(t *testing.T) {
	c := loadTestConfig(t)
	ctx := context.Background()

	first, err := runRecommend(ctx, c, false)
	require.NoError(t, err)
	_, err = runRecommend(ctx, c, false)
	require.NoError(t, err)

	st, err := store.Open(ctx, c.Store)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	recs, err := st.ListRecommendations(ctx, store.RecommendationFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, len(first.Recommendations))
}

func TestRunRecommend_DryRunWritesNothing(t *testing.T) {
	c := loadTestConfig(t)

	result, err := runRecommend(context.Background(), c, true)
	require.NoError(t, err)
	require.NotNil(t, result)

	_, statErr := os.Stat(c.Store.DatabaseURL)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunRecommend_NoUsableData(t *testing.T) {
	c := loadTestConfig(t)
	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("entities: []\nevents: []\n"), 0o644))
	c.Source.FixturePath = empty

	_, err := runRecommend(context.Background(), c, true)
	require.ErrorIs(t, err, model.ErrNoUsableData)
	assert.Equal(t, exitNoData, exitCode(err))
}

func TestRunRecommend_MissingFixture(t *testing.T) {
	c := loadTestConfig(t)
	c.Source.FixturePath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := runRecommend(context.Background(), c, true)
	require.Error(t, err)
	var ingest *model.IngestionError
	assert.ErrorAs(t, err, &ingest)
	assert.Equal(t, exitFatal, exitCode(err))
}

func TestRunRecommend_UnknownSchema(t *testing.T) {
	c := loadTestConfig(t)
	c.Source.SchemaVersion = "v99"

	_, err := runRecommend(context.Background(), c, true)
	require.Error(t, err)
}

func TestOpenSource_Fixture(t *testing.T) {
	c := loadTestConfig(t)

	src, err := openSource(context.Background(), c.Source)
	require.NoError(t, err)
	defer src.Close() //nolint:errcheck
	assert.IsType(t, &source.FixtureSource{}, src)
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	r := &pipeline.Result{
		RunID:   "run-1",
		Summary: model.Summary{RunID: "run-1", Segments: 1},
	}
	require.NoError(t, printResult(&buf, r))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Contains(t, buf.String(), "\n  \"summary\"")
}
