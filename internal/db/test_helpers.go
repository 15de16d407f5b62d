package db

import (
	"context"
	"path/filepath"
	"testing"
)

// Helper functions for creating pointer values
func strPtr(s string) *string {
	return &s
}

func intPtr(i int64) *int64 {
	return &i
}

// setupTestDB creates a migrated database in the test's temp dir.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := NewDB(path)
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedObservation builds a valid capture observation at the given position
// and time.
func seedObservation(deviceID string, lat, lon, observedAt float64) Observation {
	return Observation{
		BSSID:      deviceID,
		Lat:        lat,
		Lon:        lon,
		ObservedAt: observedAt,
		Source:     SourceCapture,
	}
}

// mustInsert inserts a batch and fails the test on error.
func mustInsert(t *testing.T, db *DB, observations []Observation) IngestStats {
	t.Helper()
	stats, err := db.InsertObservations(context.Background(), observations)
	if err != nil {
		t.Fatalf("InsertObservations failed: %v", err)
	}
	return stats
}
