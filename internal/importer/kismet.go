package importer

import (
	"context"
	"fmt"

	"github.com/banshee-data/shadowtrace/internal/bssid"
	"github.com/banshee-data/shadowtrace/internal/db"
	"github.com/banshee-data/shadowtrace/internal/geo"
)

// ImportKismetLog loads a Kismet capture log. The log is a SQLite database
// whose devices table holds one row per observed device with its averaged
// position and last-seen time (epoch seconds). Each Wi-Fi device row
// becomes one observation at its averaged position.
func (b *Batcher) ImportKismetLog(ctx context.Context, path string) (*Report, error) {
	src, err := b.openSource(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	report := &Report{SourceFile: path, Format: FormatKismetLog}

	runID, err := b.DB.StartImportRun(ctx, path, FormatKismetLog)
	if err != nil {
		return nil, err
	}
	report.RunID = runID

	var total int64
	if err := src.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM devices WHERE phyname = 'IEEE802.11'
	`).Scan(&total); err != nil {
		return nil, fmt.Errorf("source %s has no readable devices table: %w", path, err)
	}

	pageSize := b.pageSize()
	var processed int64
	for offset := int64(0); offset < total; offset += int64(pageSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, rows, err := b.readKismetPage(ctx, src, report, pageSize, offset)
		if err != nil {
			return nil, err
		}
		if err := b.flush(ctx, report, batch); err != nil {
			return nil, err
		}

		processed += rows
		report.Pages++
		b.progress(report.Pages, processed, total)
	}

	if err := b.DB.FinishImportRun(ctx, runID,
		int64(report.Stats.Total)+report.RowsFailed,
		int64(report.Stats.Inserted), int64(report.Stats.Duplicates), report.RowsFailed,
	); err != nil {
		return nil, err
	}
	return report, nil
}

func (b *Batcher) readKismetPage(ctx context.Context, src sqlQuerier, report *Report, limit int, offset int64) ([]db.Observation, int64, error) {
	rows, err := src.QueryContext(ctx, `
		SELECT devmac, avg_lat, avg_lon, last_time, strongest_signal
		FROM devices
		WHERE phyname = 'IEEE802.11'
		ORDER BY devmac
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read devices page at offset %d: %w", offset, err)
	}
	defer rows.Close()

	var (
		batch []db.Observation
		count int64
	)
	for rows.Next() {
		count++
		var (
			devmac   string
			lat, lon float64
			lastTime int64
			signal   *int64
		)
		if err := rows.Scan(&devmac, &lat, &lon, &lastTime, &signal); err != nil {
			b.recordFailure(report, "device scan", err)
			continue
		}

		canonical, err := bssid.Canonicalize(devmac)
		if err != nil {
			b.recordFailure(report, devmac, err)
			continue
		}
		if !geo.ValidCoordinate(lat, lon) {
			b.recordFailure(report, canonical, fmt.Errorf("coordinates (%f, %f) out of range", lat, lon))
			continue
		}
		if lastTime <= 0 {
			b.recordFailure(report, canonical, fmt.Errorf("non-positive timestamp %d", lastTime))
			continue
		}

		batch = append(batch, db.Observation{
			BSSID:      canonical,
			Lat:        lat,
			Lon:        lon,
			SignalDBm:  signal,
			ObservedAt: float64(lastTime),
			Source:     db.SourceBackupImport,
		})
	}
	return batch, count, rows.Err()
}
