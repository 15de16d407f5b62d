package db

import (
	"context"
	"fmt"
)

// Rating values a user can attach to a surfaced incident.
const (
	RatingFalsePositive = "false_positive"
	RatingRealThreat    = "real_threat"
	RatingUncertain     = "uncertain"
)

// FeedbackEvent is an append-only user rating of a surfaced incident. It
// drives the adaptive learning loop; whitelist_requested suppresses future
// incidents for the device immediately.
type FeedbackEvent struct {
	ID                    int64    `json:"id"`
	BSSID                 string   `json:"bssid"`
	SSID                  *string  `json:"ssid"`
	RadioType             string   `json:"radio_type"`
	TierAtDetection       *string  `json:"tier_at_detection"`
	DistanceKmAtDetection *float64 `json:"distance_km_at_detection"`
	Rating                string   `json:"rating"`
	Note                  *string  `json:"note"`
	WhitelistRequested    bool     `json:"whitelist_requested"`
	CreatedAtUnix         float64  `json:"created_at_unix"`
}

func validRating(r string) bool {
	switch r {
	case RatingFalsePositive, RatingRealThreat, RatingUncertain:
		return true
	}
	return false
}

// InsertFeedback appends a feedback event.
func (db *DB) InsertFeedback(ctx context.Context, fb *FeedbackEvent) error {
	if fb.BSSID == "" {
		return fmt.Errorf("feedback missing device identifier")
	}
	if !validRating(fb.Rating) {
		return fmt.Errorf("feedback for %s has unknown rating %q", fb.BSSID, fb.Rating)
	}
	if fb.RadioType == "" {
		fb.RadioType = "wifi"
	}
	whitelist := 0
	if fb.WhitelistRequested {
		whitelist = 1
	}
	result, err := db.ExecContext(ctx, `
		INSERT INTO feedback_events (
			bssid, ssid, radio_type, tier_at_detection,
			distance_km_at_detection, rating, note, whitelist_requested
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		fb.BSSID, fb.SSID, fb.RadioType, fb.TierAtDetection,
		fb.DistanceKmAtDetection, fb.Rating, fb.Note, whitelist,
	)
	if err != nil {
		return fmt.Errorf("failed to insert feedback for %s: %w", fb.BSSID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	fb.ID = id
	return nil
}

// IsWhitelisted reports whether any feedback event requested a whitelist
// for the device.
func (db *DB) IsWhitelisted(ctx context.Context, deviceID string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM feedback_events
		WHERE bssid = ? AND whitelist_requested = 1
	`, deviceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check whitelist for %s: %w", deviceID, err)
	}
	return n > 0, nil
}

// WhitelistedDevices returns the set of device IDs with a whitelist request.
func (db *DB) WhitelistedDevices(ctx context.Context) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT bssid FROM feedback_events WHERE whitelist_requested = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load whitelist: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		out[b] = true
	}
	return out, rows.Err()
}

// RatingCounts summarises rated feedback for a radio type since a cutoff.
type RatingCounts struct {
	RadioType      string `json:"radio_type"`
	TotalRated     int    `json:"total_rated"`
	FalsePositives int    `json:"false_positives"`
	RealThreats    int    `json:"real_threats"`
	Uncertain      int    `json:"uncertain"`
}

// FalsePositiveRate returns false positives over total rated, or 0 when no
// feedback exists.
func (c RatingCounts) FalsePositiveRate() float64 {
	if c.TotalRated == 0 {
		return 0
	}
	return float64(c.FalsePositives) / float64(c.TotalRated)
}

// FeedbackCountsSince returns per-radio-type rating counts for events newer
// than sinceUnix.
func (db *DB) FeedbackCountsSince(ctx context.Context, sinceUnix float64) ([]RatingCounts, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT radio_type,
		       COUNT(*),
		       SUM(CASE WHEN rating = 'false_positive' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN rating = 'real_threat' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN rating = 'uncertain' THEN 1 ELSE 0 END)
		FROM feedback_events
		WHERE created_at_unix > ?
		GROUP BY radio_type
	`, sinceUnix)
	if err != nil {
		return nil, fmt.Errorf("failed to count feedback: %w", err)
	}
	defer rows.Close()

	var out []RatingCounts
	for rows.Next() {
		var c RatingCounts
		if err := rows.Scan(&c.RadioType, &c.TotalRated, &c.FalsePositives, &c.RealThreats, &c.Uncertain); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FeedbackCountsForType returns rating counts for one radio type for events
// newer than sinceUnix.
func (db *DB) FeedbackCountsForType(ctx context.Context, radioType string, sinceUnix float64) (RatingCounts, error) {
	c := RatingCounts{RadioType: radioType}
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN rating = 'false_positive' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN rating = 'real_threat' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN rating = 'uncertain' THEN 1 ELSE 0 END), 0)
		FROM feedback_events
		WHERE radio_type = ? AND created_at_unix > ?
	`, radioType, sinceUnix).Scan(&c.TotalRated, &c.FalsePositives, &c.RealThreats, &c.Uncertain)
	if err != nil {
		return c, fmt.Errorf("failed to count feedback for %s: %w", radioType, err)
	}
	return c, nil
}
