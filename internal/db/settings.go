package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// DetectionSettings is the per-radio-type detection configuration. It is
// read-mostly by the correlation engine and rewritten only by the adaptive
// learning loop or explicit configuration calls.
type DetectionSettings struct {
	RadioType           string   `json:"radio_type"`
	MinDistanceKm       float64  `json:"min_distance_km"`
	MaxDistanceKm       float64  `json:"max_distance_km"`
	HomeRadiusM         float64  `json:"home_radius_m"`
	MinHomeSightings    int      `json:"min_home_sightings"`
	MinAwaySightings    int      `json:"min_away_sightings"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	EnabledTiers        []string `json:"enabled_tiers"`
	Enabled             bool     `json:"enabled"`
	LastAdjustedAtUnix  *float64 `json:"last_adjusted_at_unix"`
}

// ErrNoSettings is returned when no detection settings row exists for a
// radio type. The engine treats this as a configuration error and fails
// closed rather than guessing thresholds.
var ErrNoSettings = errors.New("no detection settings for radio type")

// TierEnabled reports whether a tier name is in the enabled set.
func (s *DetectionSettings) TierEnabled(tier string) bool {
	for _, t := range s.EnabledTiers {
		if t == tier {
			return true
		}
	}
	return false
}

func (s *DetectionSettings) validate() error {
	if s.RadioType == "" {
		return fmt.Errorf("settings missing radio type")
	}
	if s.MinDistanceKm <= 0 || s.MaxDistanceKm < s.MinDistanceKm {
		return fmt.Errorf("settings for %s have invalid distance range [%f, %f]", s.RadioType, s.MinDistanceKm, s.MaxDistanceKm)
	}
	if s.HomeRadiusM <= 0 {
		return fmt.Errorf("settings for %s have non-positive home radius %f", s.RadioType, s.HomeRadiusM)
	}
	if s.MinHomeSightings < 1 || s.MinAwaySightings < 1 {
		return fmt.Errorf("settings for %s require at least one home and one away sighting", s.RadioType)
	}
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("settings for %s have confidence threshold %f outside [0,1]", s.RadioType, s.ConfidenceThreshold)
	}
	return nil
}

// GetSettings returns the detection settings for a radio type.
func (db *DB) GetSettings(ctx context.Context, radioType string) (*DetectionSettings, error) {
	var s DetectionSettings
	var tiers string
	var enabled int
	err := db.QueryRowContext(ctx, `
		SELECT radio_type, min_distance_km, max_distance_km, home_radius_m,
		       min_home_sightings, min_away_sightings, confidence_threshold,
		       enabled_tiers, enabled, last_adjusted_at_unix
		FROM detection_settings
		WHERE radio_type = ?
	`, radioType).Scan(
		&s.RadioType, &s.MinDistanceKm, &s.MaxDistanceKm, &s.HomeRadiusM,
		&s.MinHomeSightings, &s.MinAwaySightings, &s.ConfidenceThreshold,
		&tiers, &enabled, &s.LastAdjustedAtUnix,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNoSettings, radioType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings for %s: %w", radioType, err)
	}
	s.EnabledTiers = splitTiers(tiers)
	s.Enabled = enabled == 1
	return &s, nil
}

// ListSettings returns settings for all radio types.
func (db *DB) ListSettings(ctx context.Context) ([]DetectionSettings, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT radio_type, min_distance_km, max_distance_km, home_radius_m,
		       min_home_sightings, min_away_sightings, confidence_threshold,
		       enabled_tiers, enabled, last_adjusted_at_unix
		FROM detection_settings
		ORDER BY radio_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var out []DetectionSettings
	for rows.Next() {
		var s DetectionSettings
		var tiers string
		var enabled int
		if err := rows.Scan(
			&s.RadioType, &s.MinDistanceKm, &s.MaxDistanceKm, &s.HomeRadiusM,
			&s.MinHomeSightings, &s.MinAwaySightings, &s.ConfidenceThreshold,
			&tiers, &enabled, &s.LastAdjustedAtUnix,
		); err != nil {
			return nil, err
		}
		s.EnabledTiers = splitTiers(tiers)
		s.Enabled = enabled == 1
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateSettings replaces the stored settings for s.RadioType. Used by the
// explicit configuration surface, not the learning loop.
func (db *DB) UpdateSettings(ctx context.Context, s *DetectionSettings) error {
	if err := s.validate(); err != nil {
		return err
	}
	enabled := 0
	if s.Enabled {
		enabled = 1
	}
	result, err := db.ExecContext(ctx, `
		UPDATE detection_settings SET
			min_distance_km = ?,
			max_distance_km = ?,
			home_radius_m = ?,
			min_home_sightings = ?,
			min_away_sightings = ?,
			confidence_threshold = ?,
			enabled_tiers = ?,
			enabled = ?,
			updated_at_unix = UNIXEPOCH('subsec')
		WHERE radio_type = ?
	`,
		s.MinDistanceKm, s.MaxDistanceKm, s.HomeRadiusM,
		s.MinHomeSightings, s.MinAwaySightings, s.ConfidenceThreshold,
		strings.Join(s.EnabledTiers, ","), enabled, s.RadioType,
	)
	if err != nil {
		return fmt.Errorf("failed to update settings for %s: %w", s.RadioType, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNoSettings, s.RadioType)
	}
	return nil
}

// ApplyThresholdAdjustment writes a learning-loop adjustment: the new
// min_distance_km plus the gate timestamp so a re-run without new feedback
// is a no-op.
func (db *DB) ApplyThresholdAdjustment(ctx context.Context, radioType string, newMinDistanceKm, adjustedAtUnix float64) error {
	result, err := db.ExecContext(ctx, `
		UPDATE detection_settings SET
			min_distance_km = ?,
			last_adjusted_at_unix = ?,
			updated_at_unix = UNIXEPOCH('subsec')
		WHERE radio_type = ?
	`, newMinDistanceKm, adjustedAtUnix, radioType)
	if err != nil {
		return fmt.Errorf("failed to apply threshold adjustment for %s: %w", radioType, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNoSettings, radioType)
	}
	return nil
}

func splitTiers(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
