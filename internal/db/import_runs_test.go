package db

import (
	"context"
	"testing"
)

func TestImportRun_ReimportResetsCounters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id, err := db.StartImportRun(ctx, "/backups/wigle.sqlite", "wigle-backup")
	if err != nil {
		t.Fatalf("StartImportRun failed: %v", err)
	}
	if err := db.FinishImportRun(ctx, id, 100, 90, 8, 2); err != nil {
		t.Fatalf("FinishImportRun failed: %v", err)
	}

	// Re-importing the same file reuses the provenance row.
	id2, err := db.StartImportRun(ctx, "/backups/wigle.sqlite", "wigle-backup")
	if err != nil {
		t.Fatalf("second StartImportRun failed: %v", err)
	}
	if id2 != id {
		t.Errorf("re-import should reuse row %d, got %d", id, id2)
	}

	var rowsTotal int64
	var finished *float64
	err = db.QueryRowContext(ctx, `
		SELECT rows_total, finished_at_unix FROM import_runs WHERE id = ?
	`, id2).Scan(&rowsTotal, &finished)
	if err != nil {
		t.Fatalf("failed to read import run: %v", err)
	}
	if rowsTotal != 0 {
		t.Errorf("re-import should reset counters, rows_total = %d", rowsTotal)
	}
	if finished != nil {
		t.Error("re-import should clear the finished timestamp")
	}
}
