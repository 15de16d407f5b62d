package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// HomeAnchor is a protected reference location. The correlation engine
// partitions sightings around the primary anchor; additional anchors are a
// documented extension point.
type HomeAnchor struct {
	ID        int64   `json:"id"`
	Label     string  `json:"label"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	RadiusM   float64 `json:"radius_m"`
	IsPrimary bool    `json:"is_primary"`
}

// ErrNoPrimaryAnchor is returned when no primary home anchor is configured.
// The engine treats this as a configuration error and fails closed.
var ErrNoPrimaryAnchor = errors.New("no primary home anchor configured")

// PrimaryAnchor returns the primary home anchor.
func (db *DB) PrimaryAnchor(ctx context.Context) (*HomeAnchor, error) {
	var a HomeAnchor
	var isPrimary int
	err := db.QueryRowContext(ctx, `
		SELECT id, label, lat, lon, radius_m, is_primary
		FROM home_anchors
		WHERE is_primary = 1
	`).Scan(&a.ID, &a.Label, &a.Lat, &a.Lon, &a.RadiusM, &isPrimary)
	if err == sql.ErrNoRows {
		return nil, ErrNoPrimaryAnchor
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load primary anchor: %w", err)
	}
	a.IsPrimary = isPrimary == 1
	return &a, nil
}

// SetPrimaryAnchor replaces the primary home anchor. Any previous primary
// is demoted to an ordinary anchor.
func (db *DB) SetPrimaryAnchor(ctx context.Context, label string, lat, lon, radiusM float64) (*HomeAnchor, error) {
	if radiusM <= 0 {
		return nil, fmt.Errorf("anchor radius must be positive, got %f", radiusM)
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		}
	}()

	if _, err := tx.ExecContext(ctx, `UPDATE home_anchors SET is_primary = 0 WHERE is_primary = 1`); err != nil {
		return nil, fmt.Errorf("failed to demote existing anchor: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO home_anchors (label, lat, lon, radius_m, is_primary)
		VALUES (?, ?, ?, ?, 1)
	`, label, lat, lon, radiusM)
	if err != nil {
		return nil, fmt.Errorf("failed to insert anchor: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &HomeAnchor{ID: id, Label: label, Lat: lat, Lon: lon, RadiusM: radiusM, IsPrimary: true}, nil
}

// ListAnchors returns all anchors, primary first.
func (db *DB) ListAnchors(ctx context.Context) ([]HomeAnchor, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, label, lat, lon, radius_m, is_primary
		FROM home_anchors
		ORDER BY is_primary DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list anchors: %w", err)
	}
	defer rows.Close()

	var out []HomeAnchor
	for rows.Next() {
		var a HomeAnchor
		var isPrimary int
		if err := rows.Scan(&a.ID, &a.Label, &a.Lat, &a.Lon, &a.RadiusM, &isPrimary); err != nil {
			return nil, err
		}
		a.IsPrimary = isPrimary == 1
		out = append(out, a)
	}
	return out, rows.Err()
}
