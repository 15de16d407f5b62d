package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTuning_MissingFileUsesDefaults(t *testing.T) {
	tuning, err := LoadTuning(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadTuning failed: %v", err)
	}
	if *tuning.TierExtremeKm != 50 {
		t.Errorf("expected default extreme boundary 50, got %f", *tuning.TierExtremeKm)
	}
	if *tuning.LearnWindowDays != 30 {
		t.Errorf("expected default learn window 30 days, got %d", *tuning.LearnWindowDays)
	}
}

func TestLoadTuning_RejectsNonJSONExtension(t *testing.T) {
	if _, err := LoadTuning("tuning.yaml"); err == nil {
		t.Error("expected error for non-.json extension")
	}
}

func TestLoadTuning_PartialOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.json")
	body := `{"tier_extreme_km": 75, "learn_min_sample_size": 10}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write tuning file: %v", err)
	}

	tuning, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("LoadTuning failed: %v", err)
	}
	if *tuning.TierExtremeKm != 75 {
		t.Errorf("overlay value not applied: extreme = %f", *tuning.TierExtremeKm)
	}
	if *tuning.LearnMinSampleSize != 10 {
		t.Errorf("overlay value not applied: sample size = %d", *tuning.LearnMinSampleSize)
	}
	// Everything the overlay did not name keeps its default.
	if *tuning.TierMediumKm != 5 || *tuning.ConfidenceAwayWeight != 0.3 {
		t.Errorf("defaults lost during merge: %+v", tuning)
	}
}

func TestLoadTuning_MalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write tuning file: %v", err)
	}
	if _, err := LoadTuning(path); err == nil {
		t.Error("expected parse error for malformed JSON")
	}
}

func TestMerge_NilOverlay(t *testing.T) {
	tuning := DefaultTuning()
	tuning.Merge(nil)
	if *tuning.TierMediumKm != 5 {
		t.Errorf("nil merge mutated defaults: %+v", tuning)
	}
}
