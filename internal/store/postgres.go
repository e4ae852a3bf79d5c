package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/siting-cli/internal/db"
	"github.com/sells-group/siting-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. Tables live in the siting
// schema.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	recommendationsTable = "siting.recommendations"
	rollupsTable         = "siting.segment_rollups"
	trendTable           = "siting.trend_points"
	summaryTable         = "siting.run_summary"
)

var (
	recommendationsReplace = db.ReplaceConfig{Table: recommendationsTable, Columns: recommendationColumns, KeyCols: segmentKeyColumns}
	trendReplace           = db.ReplaceConfig{Table: trendTable, Columns: trendColumns, KeyCols: segmentKeyColumns}
	rollupUpsert           = db.UpsertConfig{Table: rollupsTable, Columns: rollupColumns, ConflictKeys: segmentKeyColumns}
	summaryUpsert          = db.UpsertConfig{Table: summaryTable, Columns: summaryColumns, ConflictKeys: []string{"id"}}
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS siting;

CREATE TABLE IF NOT EXISTS siting.recommendations (
	run_id             TEXT NOT NULL,
	category           TEXT NOT NULL,
	region             TEXT NOT NULL DEFAULT '',
	rank               INTEGER NOT NULL,
	segment_rank       INTEGER NOT NULL DEFAULT 0,
	lat                DOUBLE PRECISION NOT NULL,
	lng                DOUBLE PRECISION NOT NULL,
	est_orders         INTEGER NOT NULL,
	est_sales          DOUBLE PRECISION NOT NULL,
	nearest_entity_id  TEXT NOT NULL DEFAULT '',
	nearest_distance_m DOUBLE PRECISION,
	cluster_orders     INTEGER NOT NULL,
	cluster_sales      DOUBLE PRECISION NOT NULL,
	trend              TEXT NOT NULL,
	score              DOUBLE PRECISION NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (category, region, rank)
);

CREATE TABLE IF NOT EXISTS siting.segment_rollups (
	category         TEXT NOT NULL,
	region           TEXT NOT NULL DEFAULT '',
	run_id           TEXT NOT NULL,
	total_history    DOUBLE PRECISION NOT NULL,
	forecast_next    DOUBLE PRECISION NOT NULL,
	forecast_horizon DOUBLE PRECISION NOT NULL,
	horizon_periods  INTEGER NOT NULL,
	trend_horizon    DOUBLE PRECISION NOT NULL,
	trend            TEXT NOT NULL,
	rank             INTEGER NOT NULL DEFAULT 0,
	entities         INTEGER NOT NULL DEFAULT 0,
	demand_points    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (category, region)
);

CREATE TABLE IF NOT EXISTS siting.trend_points (
	category TEXT NOT NULL,
	region   TEXT NOT NULL DEFAULT '',
	run_id   TEXT NOT NULL,
	period   TEXT NOT NULL,
	kind     TEXT NOT NULL,
	actual   DOUBLE PRECISION NOT NULL,
	forecast DOUBLE PRECISION NOT NULL,
	value    DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (category, region, period)
);

CREATE TABLE IF NOT EXISTS siting.run_summary (
	id                       INTEGER PRIMARY KEY,
	run_id                   TEXT NOT NULL,
	overall_total            DOUBLE PRECISION NOT NULL,
	overall_forecast_next    DOUBLE PRECISION NOT NULL,
	overall_forecast_horizon DOUBLE PRECISION NOT NULL,
	trend                    TEXT NOT NULL,
	highest_category         TEXT NOT NULL DEFAULT '',
	highest_region           TEXT NOT NULL DEFAULT '',
	lowest_category          TEXT NOT NULL DEFAULT '',
	lowest_region            TEXT NOT NULL DEFAULT '',
	segments                 INTEGER NOT NULL,
	recommendations          INTEGER NOT NULL,
	generated_at             TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recommendations_run_id ON siting.recommendations(run_id);
CREATE INDEX IF NOT EXISTS idx_recommendations_segment_rank ON siting.recommendations(segment_rank);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ReplaceSegment(ctx context.Context, runID string, out model.SegmentOutput) error {
	seg := out.Segment
	key := []any{seg.Category, seg.Region}
	recs := make([][]any, len(out.Recommendations))
	for i, r := range out.Recommendations {
		r.Segment = seg
		recs[i] = recommendationRow(runID, r)
	}
	rollup := out.Rollup
	rollup.Segment = seg

	return s.inTx(ctx, "replace segment "+seg.String(), func(tx pgx.Tx) error {
		if _, err := db.Replace(ctx, tx, recommendationsReplace, key, recs); err != nil {
			return eris.Wrap(err, "postgres: replace recommendations")
		}
		if _, err := db.Replace(ctx, tx, trendReplace, key, trendRows(runID, seg, out.Trend)); err != nil {
			return eris.Wrap(err, "postgres: replace trend")
		}
		return eris.Wrap(db.Upsert(ctx, tx, rollupUpsert, rollupRow(runID, rollup)), "postgres: upsert rollup")
	})
}

func (s *PostgresStore) ReplaceSummary(ctx context.Context, runID string, summary model.Summary, overall []model.TrendPoint) error {
	return s.inTx(ctx, "replace summary", func(tx pgx.Tx) error {
		if err := db.Upsert(ctx, tx, summaryUpsert, summaryRow(runID, summary)); err != nil {
			return eris.Wrap(err, "postgres: upsert summary")
		}
		_, err := db.Replace(ctx, tx, trendReplace, []any{"", ""}, trendRows(runID, model.SegmentKey{}, overall))
		return eris.Wrap(err, "postgres: replace overall trend")
	})
}

func (s *PostgresStore) ListRecommendations(ctx context.Context, filter RecommendationFilter) ([]model.Recommendation, error) {
	var (
		where []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		where = append(where, col+" = $"+strconv.Itoa(len(args)))
	}
	if filter.Category != "" {
		add("category", filter.Category)
	}
	if filter.Region != "" {
		add("region", filter.Region)
	}
	if filter.RunID != "" {
		add("run_id", filter.RunID)
	}

	query := `SELECT ` + strings.Join(recommendationColumns, ", ") + ` FROM ` + recommendationsTable
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.limit())
	query += ` ORDER BY segment_rank, category, region, rank LIMIT $` + strconv.Itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recommendations")
	}
	defer rows.Close()

	var out []model.Recommendation
	for rows.Next() {
		r, err := scanRecommendation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan recommendation")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list recommendations iterate")
}

func (s *PostgresStore) ListRollups(ctx context.Context) ([]model.SegmentRollup, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+strings.Join(rollupColumns, ", ")+` FROM `+rollupsTable+` ORDER BY rank, category, region`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rollups")
	}
	defer rows.Close()

	var out []model.SegmentRollup
	for rows.Next() {
		r, err := scanRollup(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan rollup")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list rollups iterate")
}

func (s *PostgresStore) GetSummary(ctx context.Context) (*model.Summary, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+strings.Join(summaryColumns, ", ")+` FROM `+summaryTable+` WHERE id = $1`, summaryID)
	sum, err := scanSummary(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get summary")
	}
	return &sum, nil
}

func (s *PostgresStore) ListTrend(ctx context.Context, segment model.SegmentKey) ([]model.TrendPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT period, kind, actual, forecast, value FROM `+trendTable+` WHERE category = $1 AND region = $2 ORDER BY period`,
		segment.Category, segment.Region)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list trend %s", segment)
	}
	defer rows.Close()

	var out []model.TrendPoint
	for rows.Next() {
		p, err := scanTrendPoint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan trend point")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list trend iterate")
}

func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin %s", op)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit %s", op)
}
