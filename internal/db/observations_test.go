package db

import (
	"context"
	"testing"
)

// TestInsertObservations_Dedup verifies re-ingesting the same batch is a
// no-op: every row lands as a duplicate and the device count stays put.
func TestInsertObservations_Dedup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	batch := []Observation{
		seedObservation("AA:BB:CC:DD:EE:FF", 40.7128, -74.0060, 1700000000),
		seedObservation("AA:BB:CC:DD:EE:FF", 40.7130, -74.0062, 1700000060),
		seedObservation("11:22:33:44:55:66", 40.7500, -74.0000, 1700000120),
	}

	stats := mustInsert(t, db, batch)
	if stats.Inserted != 3 || stats.Duplicates != 0 {
		t.Fatalf("first insert: got %s, want 3 inserted", stats)
	}

	stats = mustInsert(t, db, batch)
	if stats.Inserted != 0 || stats.Duplicates != 3 {
		t.Fatalf("second insert: got %s, want 3 duplicates", stats)
	}

	count, err := db.ObservationCount(ctx)
	if err != nil {
		t.Fatalf("ObservationCount failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 observations after re-ingest, got %d", count)
	}

	device, err := db.GetDevice(ctx, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if device.ObservationCount != 2 {
		t.Errorf("expected device observation_count 2, got %d", device.ObservationCount)
	}
}

// TestInsertObservations_NullOptionalFields verifies two rows identical
// except for NULL optional fields still dedup against each other.
func TestInsertObservations_NullOptionalFields(t *testing.T) {
	db := setupTestDB(t)

	obs := seedObservation("AA:BB:CC:DD:EE:FF", 40.7128, -74.0060, 1700000000)
	stats := mustInsert(t, db, []Observation{obs, obs})
	if stats.Inserted != 1 || stats.Duplicates != 1 {
		t.Errorf("got %s, want 1 inserted and 1 duplicate", stats)
	}
}

func TestInsertObservations_Validation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	cases := []struct {
		name string
		obs  Observation
	}{
		{"missing bssid", Observation{Lat: 1, Lon: 1, ObservedAt: 1, Source: SourceCapture}},
		{"latitude out of range", seedObservation("AA:BB:CC:DD:EE:FF", 91, 0, 1700000000)},
		{"null island", seedObservation("AA:BB:CC:DD:EE:FF", 0, 0, 1700000000)},
		{"zero timestamp", seedObservation("AA:BB:CC:DD:EE:FF", 40, -74, 0)},
		{"unknown source", Observation{BSSID: "AA:BB:CC:DD:EE:FF", Lat: 40, Lon: -74, ObservedAt: 1, Source: "sensor"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := db.InsertObservations(ctx, []Observation{tc.obs}); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestSightingsForDevice_Ordering(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	mustInsert(t, db, []Observation{
		seedObservation("AA:BB:CC:DD:EE:FF", 40.72, -74.00, 1700000200),
		seedObservation("AA:BB:CC:DD:EE:FF", 40.71, -74.00, 1700000100),
		seedObservation("AA:BB:CC:DD:EE:FF", 40.73, -74.00, 1700000300),
	})

	sightings, err := db.SightingsForDevice(ctx, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("SightingsForDevice failed: %v", err)
	}
	if len(sightings) != 3 {
		t.Fatalf("expected 3 sightings, got %d", len(sightings))
	}
	for i := 1; i < len(sightings); i++ {
		if sightings[i].ObservedAt < sightings[i-1].ObservedAt {
			t.Errorf("sightings not in ascending time order at index %d", i)
		}
	}

	recent, err := db.RecentSightingsForDevice(ctx, "AA:BB:CC:DD:EE:FF", 2)
	if err != nil {
		t.Fatalf("RecentSightingsForDevice failed: %v", err)
	}
	if len(recent) != 2 || recent[0].ObservedAt != 1700000300 {
		t.Errorf("expected latest 2 sightings newest first, got %+v", recent)
	}
}

func TestCandidateDevices(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	mustInsert(t, db, []Observation{
		seedObservation("AA:BB:CC:DD:EE:FF", 40.71, -74.00, 1700000100),
		seedObservation("AA:BB:CC:DD:EE:FF", 40.72, -74.00, 1700000200),
		seedObservation("AA:BB:CC:DD:EE:FF", 40.73, -74.00, 1700000300),
		seedObservation("11:22:33:44:55:66", 40.71, -74.00, 1700000100),
	})

	candidates, err := db.CandidateDevices(ctx, 3)
	if err != nil {
		t.Fatalf("CandidateDevices failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0] != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("expected only the 3-sighting device, got %v", candidates)
	}
}

// TestDeviceView_LastLocationMovesForward verifies an older observation
// arriving late never rewinds the device's last-known position.
func TestDeviceView_LastLocationMovesForward(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	mustInsert(t, db, []Observation{
		seedObservation("AA:BB:CC:DD:EE:FF", 40.75, -74.05, 1700000500),
	})
	mustInsert(t, db, []Observation{
		seedObservation("AA:BB:CC:DD:EE:FF", 40.70, -74.00, 1700000100),
	})

	device, err := db.GetDevice(ctx, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if device.LastLat == nil || *device.LastLat != 40.75 {
		t.Errorf("last location rewound by older observation: %+v", device)
	}
	if device.FirstSeenUnix == nil || *device.FirstSeenUnix != 1700000100 {
		t.Errorf("first seen should track the oldest observation: %+v", device)
	}
}

// TestDeviceView_LocallyAdministered checks the mobile-hotspot bit follows
// the MAC's locally-administered flag.
func TestDeviceView_LocallyAdministered(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	mustInsert(t, db, []Observation{
		seedObservation("02:00:5E:10:00:01", 40.71, -74.00, 1700000100),
		seedObservation("00:11:22:33:44:55", 40.71, -74.00, 1700000100),
	})

	hotspot, err := db.GetDevice(ctx, "02:00:5E:10:00:01")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if !hotspot.IsLocallyAdministered {
		t.Error("02:00:5E:10:00:01 should be flagged locally administered")
	}

	fixed, err := db.GetDevice(ctx, "00:11:22:33:44:55")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if fixed.IsLocallyAdministered {
		t.Error("00:11:22:33:44:55 should not be flagged locally administered")
	}
}

func TestRebuildDevices(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	mustInsert(t, db, []Observation{
		seedObservation("02:00:5E:10:00:01", 40.71, -74.00, 1700000100),
		seedObservation("02:00:5E:10:00:01", 40.72, -74.01, 1700000200),
		seedObservation("AA:BB:CC:DD:EE:FF", 40.71, -74.00, 1700000100),
	})

	rebuilt, err := db.RebuildDevices(ctx)
	if err != nil {
		t.Fatalf("RebuildDevices failed: %v", err)
	}
	if rebuilt != 2 {
		t.Errorf("expected 2 devices rebuilt, got %d", rebuilt)
	}

	device, err := db.GetDevice(ctx, "02:00:5E:10:00:01")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if device.ObservationCount != 2 {
		t.Errorf("expected observation_count 2 after rebuild, got %d", device.ObservationCount)
	}
	if !device.IsLocallyAdministered {
		t.Error("rebuild lost the locally-administered flag")
	}
	if device.LastLat == nil || *device.LastLat != 40.72 {
		t.Errorf("rebuild picked wrong last location: %+v", device)
	}
}
