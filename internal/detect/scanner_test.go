package detect

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shadowtrace/internal/config"
	"github.com/banshee-data/shadowtrace/internal/db"
)

func setupScanner(t *testing.T) (*Scanner, *db.DB) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return &Scanner{DB: database, Tuning: config.DefaultTuning()}, database
}

func seedTrackerDevice(t *testing.T, database *db.DB, deviceID string) {
	t.Helper()
	var observations []db.Observation
	for i, s := range append(homeSightings(3, 1, 1700000000), awaySightings(2, 60, 10, 1700100000)...) {
		observations = append(observations, db.Observation{
			BSSID:      deviceID,
			Lat:        s.Lat,
			Lon:        s.Lon,
			ObservedAt: s.ObservedAt + float64(i),
			Source:     db.SourceCapture,
		})
	}
	_, err := database.InsertObservations(context.Background(), observations)
	require.NoError(t, err)
}

// TestListIncidents_FailsClosedWithoutConfig verifies a scan with no
// anchor reports missing configuration instead of a clean empty result.
func TestListIncidents_FailsClosedWithoutConfig(t *testing.T) {
	scanner, database := setupScanner(t)
	ctx := context.Background()

	seedTrackerDevice(t, database, "AA:BB:CC:DD:EE:FF")

	result, err := scanner.ListIncidents(ctx, "wifi", Overrides{})
	require.NoError(t, err)
	assert.Empty(t, result.Incidents)
	assert.Contains(t, result.MissingConfig, "primary home anchor")

	// Unknown radio type reports missing settings too.
	result, err = scanner.ListIncidents(ctx, "lora", Overrides{})
	require.NoError(t, err)
	assert.Contains(t, result.MissingConfig, "detection settings for lora")
}

func TestListIncidents_SurfacesTracker(t *testing.T) {
	scanner, database := setupScanner(t)
	ctx := context.Background()

	_, err := database.SetPrimaryAnchor(ctx, "home", testAnchor.Lat, testAnchor.Lon, 500)
	require.NoError(t, err)

	seedTrackerDevice(t, database, "AA:BB:CC:DD:EE:FF")

	// A device only ever seen at home must not surface.
	var homebody []db.Observation
	for _, s := range homeSightings(5, 100, 1700000000) {
		homebody = append(homebody, db.Observation{
			BSSID: "11:22:33:44:55:66", Lat: s.Lat, Lon: s.Lon,
			ObservedAt: s.ObservedAt, Source: db.SourceCapture,
		})
	}
	_, err = database.InsertObservations(ctx, homebody)
	require.NoError(t, err)

	result, err := scanner.ListIncidents(ctx, "wifi", Overrides{})
	require.NoError(t, err)
	assert.Empty(t, result.MissingConfig)
	require.Len(t, result.Incidents, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", result.Incidents[0].DeviceID)
	assert.Equal(t, TierExtreme, result.Incidents[0].Tier)
}

// TestListIncidents_WhitelistSuppresses is the feedback scenario: after a
// false-positive report with a whitelist request, the same device produces
// zero incidents.
func TestListIncidents_WhitelistSuppresses(t *testing.T) {
	scanner, database := setupScanner(t)
	ctx := context.Background()

	_, err := database.SetPrimaryAnchor(ctx, "home", testAnchor.Lat, testAnchor.Lon, 500)
	require.NoError(t, err)
	seedTrackerDevice(t, database, "AA:BB:CC:DD:EE:FF")

	result, err := scanner.ListIncidents(ctx, "wifi", Overrides{})
	require.NoError(t, err)
	require.Len(t, result.Incidents, 1)

	err = database.InsertFeedback(ctx, &db.FeedbackEvent{
		BSSID:              "AA:BB:CC:DD:EE:FF",
		Rating:             db.RatingFalsePositive,
		WhitelistRequested: true,
	})
	require.NoError(t, err)

	result, err = scanner.ListIncidents(ctx, "wifi", Overrides{})
	require.NoError(t, err)
	assert.Empty(t, result.Incidents, "whitelisted device must not surface")
	assert.Empty(t, result.MissingConfig)
}

func TestListIncidents_Overrides(t *testing.T) {
	scanner, database := setupScanner(t)
	ctx := context.Background()

	_, err := database.SetPrimaryAnchor(ctx, "home", testAnchor.Lat, testAnchor.Lon, 500)
	require.NoError(t, err)
	seedTrackerDevice(t, database, "AA:BB:CC:DD:EE:FF")

	// Raising the distance floor past the device's range suppresses it.
	floor := 100.0
	result, err := scanner.ListIncidents(ctx, "wifi", Overrides{MinDistanceKm: &floor})
	require.NoError(t, err)
	assert.Empty(t, result.Incidents)

	// Demanding more home sightings than exist suppresses it too.
	minHome := 10
	result, err = scanner.ListIncidents(ctx, "wifi", Overrides{MinHomeSightings: &minHome})
	require.NoError(t, err)
	assert.Empty(t, result.Incidents)
}
