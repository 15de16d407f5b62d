package importer

import (
	"context"
	"fmt"

	"github.com/banshee-data/shadowtrace/internal/bssid"
	"github.com/banshee-data/shadowtrace/internal/db"
	"github.com/banshee-data/shadowtrace/internal/geo"
)

// ImportWigleBackup loads a WiGLE Android app backup. The backup is a
// SQLite database with a location table (one row per sighting, epoch
// milliseconds) and a network table (one row per known network). Location
// rows become observations; network rows update the device view after the
// observations land.
func (b *Batcher) ImportWigleBackup(ctx context.Context, path string) (*Report, error) {
	src, err := b.openSource(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	report := &Report{SourceFile: path, Format: FormatWigleBackup}

	runID, err := b.DB.StartImportRun(ctx, path, FormatWigleBackup)
	if err != nil {
		return nil, err
	}
	report.RunID = runID

	var total int64
	if err := src.QueryRowContext(ctx, `SELECT COUNT(*) FROM location`).Scan(&total); err != nil {
		return nil, fmt.Errorf("source %s has no readable location table: %w", path, err)
	}

	pageSize := b.pageSize()
	var processed int64
	for offset := int64(0); offset < total; offset += int64(pageSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, rows, err := b.readWiglePage(ctx, src, report, pageSize, offset)
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

	updated, err := b.applyWigleNetworks(ctx, src, report)
	if err != nil {
		return nil, err
	}
	report.NetworksUpdated = updated

	if err := b.DB.FinishImportRun(ctx, runID,
		int64(report.Stats.Total)+report.RowsFailed,
		int64(report.Stats.Inserted), int64(report.Stats.Duplicates), report.RowsFailed,
	); err != nil {
		return nil, err
	}
	return report, nil
}

// readWiglePage scans one page of location rows. Rows that fail scanning
// or validation are counted and skipped rather than aborting the import:
// wardriving backups routinely contain a few garbage fixes.
func (b *Batcher) readWiglePage(ctx context.Context, src sqlQuerier, report *Report, limit int, offset int64) ([]db.Observation, int64, error) {
	rows, err := src.QueryContext(ctx, `
		SELECT bssid, level, lat, lon, altitude, accuracy, time
		FROM location
		ORDER BY _id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read location page at offset %d: %w", offset, err)
	}
	defer rows.Close()

	var (
		batch []db.Observation
		count int64
	)
	for rows.Next() {
		count++
		var (
			rawBSSID           string
			level              *int64
			lat, lon           float64
			altitude, accuracy *float64
			timeMs             int64
		)
		if err := rows.Scan(&rawBSSID, &level, &lat, &lon, &altitude, &accuracy, &timeMs); err != nil {
			b.recordFailure(report, "location scan", err)
			continue
		}

		canonical, err := bssid.Canonicalize(rawBSSID)
		if err != nil {
			b.recordFailure(report, rawBSSID, err)
			continue
		}
		if !geo.ValidCoordinate(lat, lon) {
			b.recordFailure(report, canonical, fmt.Errorf("coordinates (%f, %f) out of range", lat, lon))
			continue
		}
		if timeMs <= 0 {
			b.recordFailure(report, canonical, fmt.Errorf("non-positive timestamp %d", timeMs))
			continue
		}

		batch = append(batch, db.Observation{
			BSSID:      canonical,
			Lat:        lat,
			Lon:        lon,
			Altitude:   altitude,
			AccuracyM:  accuracy,
			SignalDBm:  level,
			ObservedAt: float64(timeMs) / 1000,
			Source:     db.SourceBackupImport,
		})
	}
	return batch, count, rows.Err()
}

// applyWigleNetworks folds the backup's network table into the device
// view: SSID, encryption capabilities and frequency for devices the
// observation pass created.
func (b *Batcher) applyWigleNetworks(ctx context.Context, src sqlQuerier, report *Report) (int, error) {
	rows, err := src.QueryContext(ctx, `
		SELECT bssid, ssid, capabilities, frequency
		FROM network
		WHERE type = 'W'
	`)
	if err != nil {
		// Older backups ship without a network table. The observations
		// are already in, so this is not fatal.
		return 0, nil
	}
	defer rows.Close()

	updated := 0
	for rows.Next() {
		var (
			rawBSSID     string
			ssid         *string
			capabilities *string
			frequency    *int64
		)
		if err := rows.Scan(&rawBSSID, &ssid, &capabilities, &frequency); err != nil {
			b.recordFailure(report, "network scan", err)
			continue
		}
		canonical, err := bssid.Canonicalize(rawBSSID)
		if err != nil {
			b.recordFailure(report, rawBSSID, err)
			continue
		}
		if _, err := b.DB.GetDevice(ctx, canonical); err != nil {
			continue
		}
		if err := b.DB.UpdateDeviceMetadata(ctx, canonical, ssid, capabilities, nil, frequency, bssid.IsLocallyAdministered(canonical)); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, rows.Err()
}
