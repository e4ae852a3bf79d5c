package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/siting-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS siting`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceSegment(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	out := segmentOutput(alkalinePob, "run-1", 1, 2)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "siting"."recommendations" WHERE "category" = $1 AND "region" = $2`)).
		WithArgs("Alkaline", "Poblacion").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"siting", "recommendations"}, recommendationColumns).
		WillReturnResult(2)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "siting"."trend_points"`)).
		WithArgs("Alkaline", "Poblacion").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"siting", "trend_points"}, trendColumns).
		WillReturnResult(3)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "siting"."segment_rollups"`) + `.*ON CONFLICT \("category", "region"\) DO UPDATE`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.ReplaceSegment(context.Background(), "run-1", out))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceSegment_RollsBackOnFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	out := segmentOutput(alkalinePob, "run-1", 1, 2)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "siting"."recommendations"`).
		WithArgs("Alkaline", "Poblacion").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"siting", "recommendations"}, recommendationColumns).
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	err := s.ReplaceSegment(context.Background(), "run-1", out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replace recommendations")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceSummary(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "siting"."run_summary"`) + `.*ON CONFLICT \("id"\)`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "siting"."trend_points"`)).
		WithArgs("", "").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"siting", "trend_points"}, trendColumns).
		WillReturnResult(1)
	mock.ExpectCommit()

	err := s.ReplaceSummary(context.Background(), "run-1", model.Summary{RunID: "run-1", Trend: model.TrendStable},
		[]model.TrendPoint{{Period: "2026-01", Kind: model.PeriodPast, Actual: 5, Value: 5}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSummary_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, run_id, .* FROM siting.run_summary WHERE id = \$1`).
		WithArgs(summaryID).
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetSummary(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRollups(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows(rollupColumns).
		AddRow("Alkaline", "Poblacion", "run-1", 1200.0, 130.0, 1500.0, 12, 1500.0, "Increasing", 1, 2, 14)
	mock.ExpectQuery(`SELECT category, region, run_id, .* FROM siting.segment_rollups ORDER BY rank, category, region`).
		WillReturnRows(rows)

	got, err := s.ListRollups(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, alkalinePob, got[0].Segment)
	assert.Equal(t, model.TrendIncreasing, got[0].Trend)
	assert.Equal(t, 14, got[0].DemandPoints)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRecommendations_BuildsFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM siting.recommendations WHERE category = \$1 AND region = \$2 ORDER BY segment_rank, category, region, rank LIMIT \$3 OFFSET \$4`).
		WithArgs("Alkaline", "Poblacion", 10, 5).
		WillReturnRows(pgxmock.NewRows(recommendationColumns))

	got, err := s.ListRecommendations(context.Background(), RecommendationFilter{
		Category: "Alkaline", Region: "Poblacion", Limit: 10, Offset: 5,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListTrend_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM siting.trend_points WHERE category = \$1 AND region = \$2`).
		WithArgs("Alkaline", "Poblacion").
		WillReturnError(errors.New("boom"))

	_, err := s.ListTrend(context.Background(), alkalinePob)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list trend")
	assert.NoError(t, mock.ExpectationsWereMet())
}
