package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/siting-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Writes are serialized through a single connection.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS recommendations (
	run_id             TEXT NOT NULL,
	category           TEXT NOT NULL,
	region             TEXT NOT NULL DEFAULT '',
	rank               INTEGER NOT NULL,
	segment_rank       INTEGER NOT NULL DEFAULT 0,
	lat                REAL NOT NULL,
	lng                REAL NOT NULL,
	est_orders         INTEGER NOT NULL,
	est_sales          REAL NOT NULL,
	nearest_entity_id  TEXT NOT NULL DEFAULT '',
	nearest_distance_m REAL,
	cluster_orders     INTEGER NOT NULL,
	cluster_sales      REAL NOT NULL,
	trend              TEXT NOT NULL,
	score              REAL NOT NULL,
	created_at         DATETIME NOT NULL,
	PRIMARY KEY (category, region, rank)
);

CREATE TABLE IF NOT EXISTS segment_rollups (
	category         TEXT NOT NULL,
	region           TEXT NOT NULL DEFAULT '',
	run_id           TEXT NOT NULL,
	total_history    REAL NOT NULL,
	forecast_next    REAL NOT NULL,
	forecast_horizon REAL NOT NULL,
	horizon_periods  INTEGER NOT NULL,
	trend_horizon    REAL NOT NULL,
	trend            TEXT NOT NULL,
	rank             INTEGER NOT NULL DEFAULT 0,
	entities         INTEGER NOT NULL DEFAULT 0,
	demand_points    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (category, region)
);

CREATE TABLE IF NOT EXISTS trend_points (
	category TEXT NOT NULL,
	region   TEXT NOT NULL DEFAULT '',
	run_id   TEXT NOT NULL,
	period   TEXT NOT NULL,
	kind     TEXT NOT NULL,
	actual   REAL NOT NULL,
	forecast REAL NOT NULL,
	value    REAL NOT NULL,
	PRIMARY KEY (category, region, period)
);

CREATE TABLE IF NOT EXISTS run_summary (
	id                       INTEGER PRIMARY KEY,
	run_id                   TEXT NOT NULL,
	overall_total            REAL NOT NULL,
	overall_forecast_next    REAL NOT NULL,
	overall_forecast_horizon REAL NOT NULL,
	trend                    TEXT NOT NULL,
	highest_category         TEXT NOT NULL DEFAULT '',
	highest_region           TEXT NOT NULL DEFAULT '',
	lowest_category          TEXT NOT NULL DEFAULT '',
	lowest_region            TEXT NOT NULL DEFAULT '',
	segments                 INTEGER NOT NULL,
	recommendations          INTEGER NOT NULL,
	generated_at             DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recommendations_run_id ON recommendations(run_id);
CREATE INDEX IF NOT EXISTS idx_recommendations_segment_rank ON recommendations(segment_rank);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ReplaceSegment(ctx context.Context, runID string, out model.SegmentOutput) error {
	seg := out.Segment
	rows := make([][]any, len(out.Recommendations))
	for i, r := range out.Recommendations {
		r.Segment = seg
		rows[i] = recommendationRow(runID, r)
	}

	return s.inTx(ctx, "replace segment "+seg.String(), func(tx *sql.Tx) error {
		if err := replaceRows(ctx, tx, "recommendations", recommendationColumns, seg, rows); err != nil {
			return err
		}
		if err := replaceRows(ctx, tx, "trend_points", trendColumns, seg, trendRows(runID, seg, out.Trend)); err != nil {
			return err
		}
		rollup := out.Rollup
		rollup.Segment = seg
		return replaceRows(ctx, tx, "segment_rollups", rollupColumns, seg, [][]any{rollupRow(runID, rollup)})
	})
}

func (s *SQLiteStore) ReplaceSummary(ctx context.Context, runID string, summary model.Summary, overall []model.TrendPoint) error {
	return s.inTx(ctx, "replace summary", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM run_summary`); err != nil {
			return eris.Wrap(err, "sqlite: delete summary")
		}
		if err := insertRows(ctx, tx, "run_summary", summaryColumns, [][]any{summaryRow(runID, summary)}); err != nil {
			return err
		}
		return replaceRows(ctx, tx, "trend_points", trendColumns, model.SegmentKey{}, trendRows(runID, model.SegmentKey{}, overall))
	})
}

func (s *SQLiteStore) ListRecommendations(ctx context.Context, filter RecommendationFilter) ([]model.Recommendation, error) {
	query := `SELECT ` + strings.Join(recommendationColumns, ", ") + ` FROM recommendations WHERE 1=1`
	var args []any

	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, filter.Category)
	}
	if filter.Region != "" {
		query += ` AND region = ?`
		args = append(args, filter.Region)
	}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	query += ` ORDER BY segment_rank, category, region, rank LIMIT ?`
	args = append(args, filter.limit())
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recommendations")
	}
	defer rows.Close()

	var out []model.Recommendation
	for rows.Next() {
		r, err := scanRecommendation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan recommendation")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list recommendations iterate")
}

func (s *SQLiteStore) ListRollups(ctx context.Context) ([]model.SegmentRollup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strings.Join(rollupColumns, ", ")+` FROM segment_rollups ORDER BY rank, category, region`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rollups")
	}
	defer rows.Close()

	var out []model.SegmentRollup
	for rows.Next() {
		r, err := scanRollup(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rollup")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rollups iterate")
}

func (s *SQLiteStore) GetSummary(ctx context.Context) (*model.Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+strings.Join(summaryColumns, ", ")+` FROM run_summary WHERE id = ?`, summaryID)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get summary")
	}
	return &sum, nil
}

func (s *SQLiteStore) ListTrend(ctx context.Context, segment model.SegmentKey) ([]model.TrendPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT period, kind, actual, forecast, value FROM trend_points WHERE category = ? AND region = ? ORDER BY period`,
		segment.Category, segment.Region)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list trend %s", segment)
	}
	defer rows.Close()

	var out []model.TrendPoint
	for rows.Next() {
		p, err := scanTrendPoint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trend point")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list trend iterate")
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin %s", op)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit %s", op)
}

// replaceRows deletes every row of table under seg and inserts rows.
func replaceRows(ctx context.Context, tx *sql.Tx, table string, columns []string, seg model.SegmentKey, rows [][]any) error {
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE category = ? AND region = ?`, table),
		seg.Category, seg.Region); err != nil {
		return eris.Wrapf(err, "sqlite: delete %s for %s", table, seg)
	}
	return insertRows(ctx, tx, table, columns, rows)
}

func insertRows(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, table, strings.Join(columns, ", "), placeholders))
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare insert %s", table)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: insert %s", table)
		}
	}
	return nil
}
