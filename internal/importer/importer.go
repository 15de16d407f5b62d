// Package importer loads historical observations from wardriving database
// files. Source files are SQLite databases read in fixed-size pages so a
// multi-hundred-thousand-row backup never has to fit in memory, and the
// dedup index makes re-importing the same file a no-op.
package importer

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/banshee-data/shadowtrace/internal/db"
	"github.com/banshee-data/shadowtrace/internal/monitoring"
	"github.com/banshee-data/shadowtrace/internal/security"
)

// Import source formats.
const (
	FormatWigleBackup = "wigle-backup"
	FormatKismetLog   = "kismet-log"
)

// Progress is called after each page with the rows processed so far.
type Progress func(page int, processed, total int64)

// Report is the outcome of one import.
type Report struct {
	RunID           int64          `json:"run_id"`
	SourceFile      string         `json:"source_file"`
	Format          string         `json:"format"`
	Stats           db.IngestStats `json:"stats"`
	RowsFailed      int64          `json:"rows_failed"`
	Pages           int            `json:"pages"`
	NetworksUpdated int            `json:"networks_updated"`
}

func (r *Report) String() string {
	return fmt.Sprintf("%s (%s): %s, %d failed, %d pages",
		r.SourceFile, r.Format, r.Stats, r.RowsFailed, r.Pages)
}

// Batcher runs paged imports into the observation store. When AllowedDir
// is set, source paths must resolve inside it; imports triggered over the
// API name arbitrary files, so the restriction keeps them out of the rest
// of the filesystem.
type Batcher struct {
	DB         *db.DB
	PageSize   int
	AllowedDir string
	OnProgress Progress
}

func (b *Batcher) pageSize() int {
	if b.PageSize > 0 {
		return b.PageSize
	}
	return 50000
}

func (b *Batcher) progress(page int, processed, total int64) {
	if b.OnProgress != nil {
		b.OnProgress(page, processed, total)
	}
}

// sqlQuerier is the read surface the page readers need from a source
// database.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// openSource opens a source database read-only. The import must never
// mutate the user's backup file.
func (b *Batcher) openSource(path string) (*sql.DB, error) {
	if b.AllowedDir != "" {
		if err := security.ValidatePathWithinDirectory(path, b.AllowedDir); err != nil {
			return nil, fmt.Errorf("import source rejected: %w", err)
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cannot read import source: %w", err)
	}
	src, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open import source %s: %w", path, err)
	}
	return src, nil
}

// flush writes one page of observations and accumulates the counters.
func (b *Batcher) flush(ctx context.Context, report *Report, batch []db.Observation) error {
	if len(batch) == 0 {
		return nil
	}
	stats, err := b.DB.InsertObservations(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to insert import batch: %w", err)
	}
	report.Stats.Add(stats)
	monitoring.ImportRows.WithLabelValues("inserted").Add(float64(stats.Inserted))
	monitoring.ImportRows.WithLabelValues("duplicate").Add(float64(stats.Duplicates))
	return nil
}

func (b *Batcher) recordFailure(report *Report, context string, err error) {
	report.RowsFailed++
	monitoring.ImportRows.WithLabelValues("failed").Inc()
	monitoring.Logf("import: skipping row (%s): %v", context, err)
}
