package learn

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shadowtrace/internal/config"
	"github.com/banshee-data/shadowtrace/internal/db"
	"github.com/banshee-data/shadowtrace/internal/timeutil"
)

func setupLoop(t *testing.T) (*Loop, *db.DB) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	// Mock time a minute ahead of the wall clock so feedback inserted by
	// the test (stamped by the database) is always inside the window.
	clock := timeutil.NewMockClock(time.Now().Add(time.Minute))
	return &Loop{DB: database, Tuning: config.DefaultTuning(), Clock: clock}, database
}

func insertRatings(t *testing.T, database *db.DB, radioType, rating string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := database.InsertFeedback(context.Background(), &db.FeedbackEvent{
			BSSID:     "AA:BB:CC:DD:EE:FF",
			RadioType: radioType,
			Rating:    rating,
		})
		require.NoError(t, err)
	}
}

func adjustmentFor(t *testing.T, report *Report, radioType string) Adjustment {
	t.Helper()
	for _, adj := range report.Adjustments {
		if adj.RadioType == radioType {
			return adj
		}
	}
	t.Fatalf("no adjustment for %s in report", radioType)
	return Adjustment{}
}

// TestRun_RaisesOnHighFalsePositiveRate: enough false positives multiply
// the distance floor by the step.
func TestRun_RaisesOnHighFalsePositiveRate(t *testing.T) {
	loop, database := setupLoop(t)
	ctx := context.Background()

	insertRatings(t, database, "wifi", db.RatingFalsePositive, 6)

	report, err := loop.Run(ctx)
	require.NoError(t, err)

	adj := adjustmentFor(t, report, "wifi")
	assert.Equal(t, ActionRaised, adj.Action)
	assert.Equal(t, 1.0, adj.OldMinDistanceKm)
	assert.Equal(t, 1.5, adj.NewMinDistanceKm)
	assert.Equal(t, 6, adj.SampleSize)
	assert.InDelta(t, 1.0, adj.FalsePositiveRate, 0.001)

	settings, err := database.GetSettings(ctx, "wifi")
	require.NoError(t, err)
	assert.Equal(t, 1.5, settings.MinDistanceKm)
	require.NotNil(t, settings.LastAdjustedAtUnix)
}

// TestRun_Idempotent: a second run with no new feedback changes nothing,
// because only feedback newer than the last adjustment counts.
func TestRun_Idempotent(t *testing.T) {
	loop, database := setupLoop(t)
	ctx := context.Background()

	insertRatings(t, database, "wifi", db.RatingFalsePositive, 6)

	report, err := loop.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, ActionRaised, adjustmentFor(t, report, "wifi").Action)

	report, err = loop.Run(ctx)
	require.NoError(t, err)
	adj := adjustmentFor(t, report, "wifi")
	assert.Equal(t, ActionUnchanged, adj.Action)
	assert.Equal(t, 0, adj.SampleSize, "consumed feedback must not count twice")

	settings, err := database.GetSettings(ctx, "wifi")
	require.NoError(t, err)
	assert.Equal(t, 1.5, settings.MinDistanceKm, "threshold must not compound")
}

// TestRun_LowersOnAccurateDetections: consistently real threats walk the
// floor back down.
func TestRun_LowersOnAccurateDetections(t *testing.T) {
	loop, database := setupLoop(t)
	ctx := context.Background()

	insertRatings(t, database, "wifi", db.RatingRealThreat, 6)

	report, err := loop.Run(ctx)
	require.NoError(t, err)

	adj := adjustmentFor(t, report, "wifi")
	assert.Equal(t, ActionLowered, adj.Action)
	assert.InDelta(t, 1.0/1.5, adj.NewMinDistanceKm, 0.001)
}

// TestRun_SparseSampleHolds: below the minimum sample size nothing moves,
// in either direction.
func TestRun_SparseSampleHolds(t *testing.T) {
	loop, database := setupLoop(t)
	ctx := context.Background()

	insertRatings(t, database, "wifi", db.RatingFalsePositive, 3)

	report, err := loop.Run(ctx)
	require.NoError(t, err)

	for _, adj := range report.Adjustments {
		assert.Equal(t, ActionUnchanged, adj.Action, "radio type %s", adj.RadioType)
	}

	settings, err := database.GetSettings(ctx, "wifi")
	require.NoError(t, err)
	assert.Equal(t, 1.0, settings.MinDistanceKm)
}

func TestRun_CeilingAndFloor(t *testing.T) {
	loop, database := setupLoop(t)
	ctx := context.Background()

	// Park wifi at the ceiling with an old adjustment stamp so fresh
	// feedback still counts.
	require.NoError(t, database.ApplyThresholdAdjustment(ctx, "wifi", 50, 1))
	insertRatings(t, database, "wifi", db.RatingFalsePositive, 6)

	// Park ble at the floor the same way.
	require.NoError(t, database.ApplyThresholdAdjustment(ctx, "ble", 0.25, 1))
	insertRatings(t, database, "ble", db.RatingRealThreat, 6)

	report, err := loop.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, ActionUnchanged, adjustmentFor(t, report, "wifi").Action)
	assert.Equal(t, ActionUnchanged, adjustmentFor(t, report, "ble").Action)

	wifi, err := database.GetSettings(ctx, "wifi")
	require.NoError(t, err)
	assert.Equal(t, 50.0, wifi.MinDistanceKm, "threshold must not exceed the ceiling")

	ble, err := database.GetSettings(ctx, "ble")
	require.NoError(t, err)
	assert.Equal(t, 0.25, ble.MinDistanceKm, "threshold must not drop below the floor")
}

// TestRun_StepIsCappedAtCeiling: a raise from just under the ceiling lands
// on the ceiling, not past it.
func TestRun_StepIsCappedAtCeiling(t *testing.T) {
	loop, database := setupLoop(t)
	ctx := context.Background()

	require.NoError(t, database.ApplyThresholdAdjustment(ctx, "wifi", 40, 1))
	insertRatings(t, database, "wifi", db.RatingFalsePositive, 6)

	report, err := loop.Run(ctx)
	require.NoError(t, err)

	adj := adjustmentFor(t, report, "wifi")
	assert.Equal(t, ActionRaised, adj.Action)
	assert.Equal(t, 50.0, adj.NewMinDistanceKm)
}

func TestRun_TypesAdjustIndependently(t *testing.T) {
	loop, database := setupLoop(t)
	ctx := context.Background()

	insertRatings(t, database, "wifi", db.RatingFalsePositive, 6)
	insertRatings(t, database, "ble", db.RatingRealThreat, 6)

	report, err := loop.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, ActionRaised, adjustmentFor(t, report, "wifi").Action)
	assert.Equal(t, ActionLowered, adjustmentFor(t, report, "ble").Action)
	assert.Equal(t, ActionUnchanged, adjustmentFor(t, report, "bluetooth").Action)
	assert.Equal(t, ActionUnchanged, adjustmentFor(t, report, "cell").Action)
}
