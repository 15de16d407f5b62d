package db

import (
	"context"
	"testing"
)

func TestInsertFeedback_Validation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.InsertFeedback(ctx, &FeedbackEvent{Rating: RatingUncertain}); err == nil {
		t.Error("expected error for feedback without device identifier")
	}
	if err := db.InsertFeedback(ctx, &FeedbackEvent{BSSID: "AA:BB:CC:DD:EE:FF", Rating: "meh"}); err == nil {
		t.Error("expected error for unknown rating")
	}

	fb := &FeedbackEvent{BSSID: "AA:BB:CC:DD:EE:FF", Rating: RatingRealThreat}
	if err := db.InsertFeedback(ctx, fb); err != nil {
		t.Fatalf("InsertFeedback failed: %v", err)
	}
	if fb.ID == 0 {
		t.Error("feedback ID should be set after insert")
	}
	if fb.RadioType != "wifi" {
		t.Errorf("radio type should default to wifi, got %q", fb.RadioType)
	}
}

func TestWhitelist(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	whitelisted, err := db.IsWhitelisted(ctx, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("IsWhitelisted failed: %v", err)
	}
	if whitelisted {
		t.Error("device should not be whitelisted before any feedback")
	}

	err = db.InsertFeedback(ctx, &FeedbackEvent{
		BSSID:              "AA:BB:CC:DD:EE:FF",
		Rating:             RatingFalsePositive,
		WhitelistRequested: true,
		Note:               strPtr("my own hotspot"),
	})
	if err != nil {
		t.Fatalf("InsertFeedback failed: %v", err)
	}

	whitelisted, err = db.IsWhitelisted(ctx, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("IsWhitelisted failed: %v", err)
	}
	if !whitelisted {
		t.Error("device should be whitelisted after whitelist_requested feedback")
	}

	set, err := db.WhitelistedDevices(ctx)
	if err != nil {
		t.Fatalf("WhitelistedDevices failed: %v", err)
	}
	if !set["AA:BB:CC:DD:EE:FF"] || len(set) != 1 {
		t.Errorf("unexpected whitelist set: %v", set)
	}
}

func TestFeedbackCountsForType(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	events := []FeedbackEvent{
		{BSSID: "AA:AA:AA:AA:AA:01", RadioType: "wifi", Rating: RatingFalsePositive},
		{BSSID: "AA:AA:AA:AA:AA:02", RadioType: "wifi", Rating: RatingFalsePositive},
		{BSSID: "AA:AA:AA:AA:AA:03", RadioType: "wifi", Rating: RatingRealThreat},
		{BSSID: "AA:AA:AA:AA:AA:04", RadioType: "ble", Rating: RatingUncertain},
	}
	for i := range events {
		if err := db.InsertFeedback(ctx, &events[i]); err != nil {
			t.Fatalf("InsertFeedback failed: %v", err)
		}
	}

	counts, err := db.FeedbackCountsForType(ctx, "wifi", 0)
	if err != nil {
		t.Fatalf("FeedbackCountsForType failed: %v", err)
	}
	if counts.TotalRated != 3 || counts.FalsePositives != 2 || counts.RealThreats != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}
	if got := counts.FalsePositiveRate(); got < 0.66 || got > 0.67 {
		t.Errorf("expected FP rate 2/3, got %f", got)
	}

	// Cutoff in the future excludes everything and the rate degrades to 0.
	counts, err = db.FeedbackCountsForType(ctx, "wifi", 1e12)
	if err != nil {
		t.Fatalf("FeedbackCountsForType with future cutoff failed: %v", err)
	}
	if counts.TotalRated != 0 || counts.FalsePositiveRate() != 0 {
		t.Errorf("expected empty window, got %+v", counts)
	}
}

func TestFeedbackCountsSince(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	events := []FeedbackEvent{
		{BSSID: "AA:AA:AA:AA:AA:01", RadioType: "wifi", Rating: RatingFalsePositive},
		{BSSID: "AA:AA:AA:AA:AA:02", RadioType: "wifi", Rating: RatingRealThreat},
		{BSSID: "AA:AA:AA:AA:AA:03", RadioType: "ble", Rating: RatingUncertain},
	}
	for i := range events {
		if err := db.InsertFeedback(ctx, &events[i]); err != nil {
			t.Fatalf("InsertFeedback failed: %v", err)
		}
	}

	counts, err := db.FeedbackCountsSince(ctx, 0)
	if err != nil {
		t.Fatalf("FeedbackCountsSince failed: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected counts for 2 radio types, got %d", len(counts))
	}
	byType := make(map[string]RatingCounts)
	for _, c := range counts {
		byType[c.RadioType] = c
	}
	if wifi := byType["wifi"]; wifi.TotalRated != 2 || wifi.FalsePositives != 1 {
		t.Errorf("unexpected wifi counts: %+v", wifi)
	}
	if ble := byType["ble"]; ble.TotalRated != 1 || ble.Uncertain != 1 {
		t.Errorf("unexpected ble counts: %+v", ble)
	}

	counts, err = db.FeedbackCountsSince(ctx, 1e12)
	if err != nil {
		t.Fatalf("FeedbackCountsSince with future cutoff failed: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("expected no counts past a future cutoff, got %+v", counts)
	}
}
