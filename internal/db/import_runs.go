package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ImportRun is the provenance row for one bulk import. The source filename
// is unique so re-importing the same backup updates its row in place.
type ImportRun struct {
	ID             int64    `json:"id"`
	RunUUID        string   `json:"run_uuid"`
	SourceFile     string   `json:"source_file"`
	Format         string   `json:"format"`
	RowsTotal      int64    `json:"rows_total"`
	RowsInserted   int64    `json:"rows_inserted"`
	RowsDuplicate  int64    `json:"rows_duplicate"`
	RowsFailed     int64    `json:"rows_failed"`
	FinishedAtUnix *float64 `json:"finished_at_unix"`
}

// StartImportRun records (or resets, on re-import) the provenance row for a
// source file and returns its id.
func (db *DB) StartImportRun(ctx context.Context, sourceFile, format string) (int64, error) {
	runUUID := uuid.NewString()
	_, err := db.ExecContext(ctx, `
		INSERT INTO import_runs (run_uuid, source_file, format)
		VALUES (?, ?, ?)
		ON CONFLICT (source_file) DO UPDATE SET
			run_uuid = excluded.run_uuid,
			format = excluded.format,
			rows_total = 0,
			rows_inserted = 0,
			rows_duplicate = 0,
			rows_failed = 0,
			started_at_unix = UNIXEPOCH('subsec'),
			finished_at_unix = NULL
	`, runUUID, sourceFile, format)
	if err != nil {
		return 0, fmt.Errorf("failed to start import run for %s: %w", sourceFile, err)
	}

	var id int64
	if err := db.QueryRowContext(ctx, `SELECT id FROM import_runs WHERE source_file = ?`, sourceFile).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// FinishImportRun records the final counters for an import run.
func (db *DB) FinishImportRun(ctx context.Context, id int64, total, inserted, duplicate, failed int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE import_runs SET
			rows_total = ?,
			rows_inserted = ?,
			rows_duplicate = ?,
			rows_failed = ?,
			finished_at_unix = UNIXEPOCH('subsec')
		WHERE id = ?
	`, total, inserted, duplicate, failed, id)
	if err != nil {
		return fmt.Errorf("failed to finish import run %d: %w", id, err)
	}
	return nil
}
