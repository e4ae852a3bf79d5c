package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ReplaceConfig defines a keyed overwrite: every row matching the key columns
// is deleted before the new rows are copied in.
type ReplaceConfig struct {
	Table   string   // target table (e.g., "siting.recommendations")
	Columns []string // all columns being inserted
	KeyCols []string // columns identifying the replaced partition
}

// Replace deletes the partition named by key and copies rows in its place.
// Run it inside a transaction so readers never see a partial partition.
func Replace(ctx context.Context, tx pgx.Tx, cfg ReplaceConfig, key []any, rows [][]any) (int64, error) {
	if len(cfg.KeyCols) == 0 {
		return 0, eris.New("db: replace: no key columns specified")
	}
	if len(key) != len(cfg.KeyCols) {
		return 0, eris.Errorf("db: replace: %d key values for %d key columns", len(key), len(cfg.KeyCols))
	}

	if _, err := tx.Exec(ctx, deleteSQL(cfg.Table, cfg.KeyCols), key...); err != nil {
		return 0, eris.Wrapf(err, "db: replace: delete from %s", cfg.Table)
	}
	if len(rows) > 0 && len(cfg.Columns) == 0 {
		return 0, eris.New("db: replace: no columns specified")
	}
	n, err := CopyFrom(ctx, tx, cfg.Table, cfg.Columns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace")
	}
	return n, nil
}

func deleteSQL(table string, keyCols []string) string {
	where := make([]string, len(keyCols))
	for i, c := range keyCols {
		where[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), i+1)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", sanitizeTable(table), strings.Join(where, " AND "))
}

// UpsertConfig defines the parameters for a single-row upsert.
type UpsertConfig struct {
	Table        string   // target table (e.g., "siting.summary")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
}

// Upsert inserts one row or updates it on conflict.
func Upsert(ctx context.Context, ex Executor, cfg UpsertConfig, row []any) error {
	if len(cfg.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	if len(row) != len(cfg.Columns) {
		return eris.Errorf("db: upsert: %d values for %d columns", len(row), len(cfg.Columns))
	}
	if _, err := ex.Exec(ctx, upsertSQL(cfg), row...); err != nil {
		return eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}
	return nil
}

func upsertSQL(cfg UpsertConfig) string {
	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	placeholders := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	setClauses := make([]string, len(updateCols))
	for i, col := range updateCols {
		id := pgx.Identifier{col}.Sanitize()
		setClauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", id, id)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(placeholders, ", "),
		quoteAndJoin(cfg.ConflictKeys),
		strings.Join(setClauses, ", "),
	)
}
