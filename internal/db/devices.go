package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/shadowtrace/internal/bssid"
)

// Device is the materialized per-identifier view over observations. It is
// rebuilt or incrementally updated, never hand-edited.
type Device struct {
	BSSID                 string   `json:"bssid"`
	SSID                  *string  `json:"ssid"`
	RadioType             string   `json:"radio_type"`
	Encryption            *string  `json:"encryption"`
	Channel               *int64   `json:"channel"`
	Frequency             *int64   `json:"frequency"`
	LastLat               *float64 `json:"last_lat"`
	LastLon               *float64 `json:"last_lon"`
	FirstSeenUnix         *float64 `json:"first_seen_unix"`
	LastSeenUnix          *float64 `json:"last_seen_unix"`
	ObservationCount      int64    `json:"observation_count"`
	IsLocallyAdministered bool     `json:"is_locally_administered"`
}

// deviceUpsertSQL keeps the device view current as observations land. The
// last-known location only moves forward in time; counts are incremented
// per inserted (non-duplicate) row.
const deviceUpsertSQL = `
	INSERT INTO devices (
		bssid, ssid, channel, frequency, last_lat, last_lon,
		first_seen_unix, last_seen_unix, observation_count, is_locally_administered
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
	ON CONFLICT(bssid) DO UPDATE SET
		ssid = COALESCE(excluded.ssid, devices.ssid),
		channel = COALESCE(excluded.channel, devices.channel),
		frequency = COALESCE(excluded.frequency, devices.frequency),
		last_lat = CASE WHEN excluded.last_seen_unix >= COALESCE(devices.last_seen_unix, 0)
			THEN excluded.last_lat ELSE devices.last_lat END,
		last_lon = CASE WHEN excluded.last_seen_unix >= COALESCE(devices.last_seen_unix, 0)
			THEN excluded.last_lon ELSE devices.last_lon END,
		first_seen_unix = MIN(COALESCE(devices.first_seen_unix, excluded.first_seen_unix), excluded.first_seen_unix),
		last_seen_unix = MAX(COALESCE(devices.last_seen_unix, 0), excluded.last_seen_unix),
		observation_count = devices.observation_count + 1,
		updated_at_unix = UNIXEPOCH('subsec')
`

// ErrDeviceNotFound is returned when no device row exists for an identifier.
var ErrDeviceNotFound = errors.New("device not found")

// GetDevice returns the device view row for an identifier.
func (db *DB) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var d Device
	err := db.QueryRowContext(ctx, `
		SELECT bssid, ssid, radio_type, encryption, channel, frequency,
		       last_lat, last_lon, first_seen_unix, last_seen_unix,
		       observation_count, is_locally_administered
		FROM devices
		WHERE bssid = ?
	`, deviceID).Scan(
		&d.BSSID, &d.SSID, &d.RadioType, &d.Encryption, &d.Channel, &d.Frequency,
		&d.LastLat, &d.LastLon, &d.FirstSeenUnix, &d.LastSeenUnix,
		&d.ObservationCount, &d.IsLocallyAdministered,
	)
	if err == sql.ErrNoRows {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device %s: %w", deviceID, err)
	}
	return &d, nil
}

// UpdateDeviceMetadata folds network-level fields from an external lookup
// or a backup's network table (encryption, channel, frequency) into the
// device view without touching observation-derived counts.
func (db *DB) UpdateDeviceMetadata(ctx context.Context, deviceID string, ssid, encryption *string, channel, frequency *int64, localAdmin bool) error {
	la := 0
	if localAdmin {
		la = 1
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO devices (bssid, ssid, encryption, channel, frequency, is_locally_administered)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(bssid) DO UPDATE SET
			ssid = COALESCE(excluded.ssid, devices.ssid),
			encryption = COALESCE(excluded.encryption, devices.encryption),
			channel = COALESCE(excluded.channel, devices.channel),
			frequency = COALESCE(excluded.frequency, devices.frequency),
			is_locally_administered = excluded.is_locally_administered,
			updated_at_unix = UNIXEPOCH('subsec')
	`, deviceID, ssid, encryption, channel, frequency, la)
	if err != nil {
		return fmt.Errorf("failed to update device metadata for %s: %w", deviceID, err)
	}
	return nil
}

// RebuildDevices regenerates the whole device view from the observation
// store. Used after bulk deletes or to repair drift; normal operation keeps
// the view current incrementally.
func (db *DB) RebuildDevices(ctx context.Context) (int64, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM devices`); err != nil {
		return 0, fmt.Errorf("failed to clear device view: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO devices (
			bssid, ssid, last_lat, last_lon,
			first_seen_unix, last_seen_unix, observation_count, is_locally_administered
		)
		SELECT
			o.bssid,
			(SELECT o2.ssid FROM observations o2
			 WHERE o2.bssid = o.bssid AND o2.ssid IS NOT NULL
			 ORDER BY o2.observed_at_unix DESC LIMIT 1),
			(SELECT o3.lat FROM observations o3 WHERE o3.bssid = o.bssid
			 ORDER BY o3.observed_at_unix DESC LIMIT 1),
			(SELECT o4.lon FROM observations o4 WHERE o4.bssid = o.bssid
			 ORDER BY o4.observed_at_unix DESC LIMIT 1),
			MIN(o.observed_at_unix),
			MAX(o.observed_at_unix),
			COUNT(*),
			0
		FROM observations o
		GROUP BY o.bssid
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to rebuild device view: %w", err)
	}

	rebuilt, _ := result.RowsAffected()

	// The locally-administered bit is computed in Go, not SQL.
	rows, err := tx.QueryContext(ctx, `SELECT bssid FROM devices`)
	if err != nil {
		return 0, err
	}
	var localAdmin []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			rows.Close()
			return 0, err
		}
		if bssid.IsLocallyAdministered(b) {
			localAdmin = append(localAdmin, b)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, b := range localAdmin {
		if _, err := tx.ExecContext(ctx, `UPDATE devices SET is_locally_administered = 1 WHERE bssid = ?`, b); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return rebuilt, nil
}
