package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/banshee-data/shadowtrace/internal/bssid"
	"github.com/banshee-data/shadowtrace/internal/geo"
)

// Source identifies where an observation row came from.
type Source string

const (
	SourceCapture        Source = "capture"
	SourceBackupImport   Source = "backup-import"
	SourceExternalLookup Source = "external-lookup"
)

// Observation is a single geolocated sighting of a device. Rows are
// immutable once written; the unique index on the sighting key makes
// re-ingestion of the same source a no-op.
type Observation struct {
	ID         int64    `json:"id"`
	BSSID      string   `json:"bssid"`
	SSID       *string  `json:"ssid"`
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	Altitude   *float64 `json:"altitude"`
	AccuracyM  *float64 `json:"accuracy_m"`
	SignalDBm  *int64   `json:"signal_dbm"`
	Channel    *int64   `json:"channel"`
	Frequency  *int64   `json:"frequency"`
	ObservedAt float64  `json:"observed_at_unix"`
	Source     Source   `json:"source"`
}

// IngestStats summarises a dedup-aware batch insert.
type IngestStats struct {
	Total      int `json:"total"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
}

// Add accumulates another batch's stats.
func (s *IngestStats) Add(other IngestStats) {
	s.Total += other.Total
	s.Inserted += other.Inserted
	s.Duplicates += other.Duplicates
}

func (s IngestStats) String() string {
	return fmt.Sprintf("%d inserted, %d duplicates out of %d total", s.Inserted, s.Duplicates, s.Total)
}

func validateObservation(obs *Observation) error {
	if obs.BSSID == "" {
		return fmt.Errorf("observation missing device identifier")
	}
	if !geo.ValidCoordinate(obs.Lat, obs.Lon) {
		return fmt.Errorf("observation for %s has out-of-range coordinates (%f, %f)", obs.BSSID, obs.Lat, obs.Lon)
	}
	if obs.ObservedAt <= 0 {
		return fmt.Errorf("observation for %s has invalid timestamp %f", obs.BSSID, obs.ObservedAt)
	}
	switch obs.Source {
	case SourceCapture, SourceBackupImport, SourceExternalLookup:
	default:
		return fmt.Errorf("observation for %s has unknown source %q", obs.BSSID, obs.Source)
	}
	return nil
}

// InsertObservations writes a batch of observations in one transaction,
// absorbing duplicates via the dedup index, and keeps the device view
// current. Each observation must carry a canonical BSSID.
func (db *DB) InsertObservations(ctx context.Context, observations []Observation) (IngestStats, error) {
	stats := IngestStats{Total: len(observations)}
	if len(observations) == 0 {
		return stats, nil
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return stats, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			// ErrTxDone means transaction was already committed/rolled back
		}
	}()

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (
			bssid, ssid, lat, lon, altitude, accuracy_m,
			signal_dbm, channel, frequency, observed_at_unix, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return stats, fmt.Errorf("failed to prepare observation insert: %w", err)
	}
	defer insertStmt.Close()

	deviceStmt, err := tx.PrepareContext(ctx, deviceUpsertSQL)
	if err != nil {
		return stats, fmt.Errorf("failed to prepare device upsert: %w", err)
	}
	defer deviceStmt.Close()

	for i := range observations {
		obs := &observations[i]
		if err := validateObservation(obs); err != nil {
			return stats, err
		}

		result, err := insertStmt.ExecContext(ctx,
			obs.BSSID, obs.SSID, obs.Lat, obs.Lon, obs.Altitude, obs.AccuracyM,
			obs.SignalDBm, obs.Channel, obs.Frequency, obs.ObservedAt, string(obs.Source),
		)
		if err != nil {
			return stats, fmt.Errorf("failed to insert observation for %s: %w", obs.BSSID, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return stats, err
		}
		if affected == 0 {
			stats.Duplicates++
			continue
		}
		stats.Inserted++

		localAdmin := 0
		if bssid.IsLocallyAdministered(obs.BSSID) {
			localAdmin = 1
		}
		if _, err := deviceStmt.ExecContext(ctx,
			obs.BSSID, obs.SSID, obs.Channel, obs.Frequency,
			obs.Lat, obs.Lon, obs.ObservedAt, obs.ObservedAt, localAdmin,
		); err != nil {
			return stats, fmt.Errorf("failed to upsert device %s: %w", obs.BSSID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("failed to commit observation batch: %w", err)
	}

	return stats, nil
}

// SightingsForDevice returns all observations for a device, oldest first.
func (db *DB) SightingsForDevice(ctx context.Context, deviceID string) ([]Observation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, bssid, ssid, lat, lon, altitude, accuracy_m,
		       signal_dbm, channel, frequency, observed_at_unix, source
		FROM observations
		WHERE bssid = ?
		ORDER BY observed_at_unix ASC
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sightings for %s: %w", deviceID, err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

// RecentSightingsForDevice returns the latest n observations for a device.
func (db *DB) RecentSightingsForDevice(ctx context.Context, deviceID string, n int) ([]Observation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, bssid, ssid, lat, lon, altitude, accuracy_m,
		       signal_dbm, channel, frequency, observed_at_unix, source
		FROM observations
		WHERE bssid = ?
		ORDER BY observed_at_unix DESC
		LIMIT ?
	`, deviceID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent sightings for %s: %w", deviceID, err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

func scanObservations(rows *sql.Rows) ([]Observation, error) {
	var out []Observation
	for rows.Next() {
		var obs Observation
		var source string
		if err := rows.Scan(
			&obs.ID, &obs.BSSID, &obs.SSID, &obs.Lat, &obs.Lon,
			&obs.Altitude, &obs.AccuracyM, &obs.SignalDBm, &obs.Channel,
			&obs.Frequency, &obs.ObservedAt, &source,
		); err != nil {
			return nil, err
		}
		obs.Source = Source(source)
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CandidateDevices returns device IDs with at least minSightings
// observations. The correlation engine only needs to look at devices that
// could clear the home+away sighting floors.
func (db *DB) CandidateDevices(ctx context.Context, minSightings int) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT bssid
		FROM observations
		GROUP BY bssid
		HAVING COUNT(*) >= ?
		ORDER BY bssid
	`, minSightings)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate devices: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ObservationCount returns the total number of observation rows.
func (db *DB) ObservationCount(ctx context.Context) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&n)
	return n, err
}
