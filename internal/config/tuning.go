// Package config holds the service environment configuration and the
// detection tuning defaults. Tier boundaries, confidence weights and
// learning-loop steps are heuristic constants with no derivation behind
// them, so they live here as configurable defaults rather than code
// literals.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultTuningPath is the path to the canonical tuning defaults file.
const DefaultTuningPath = "config/detection.defaults.json"

// Tuning represents the heuristic parameters of the correlation engine and
// the adaptive learning loop. Fields are pointers so a partial JSON file
// overrides only what it names; omitted fields keep their defaults.
type Tuning struct {
	// Tier boundaries: inclusive lower bound of max distance (km) per tier.
	TierMediumKm   *float64 `json:"tier_medium_km,omitempty"`
	TierHighKm     *float64 `json:"tier_high_km,omitempty"`
	TierCriticalKm *float64 `json:"tier_critical_km,omitempty"`
	TierExtremeKm  *float64 `json:"tier_extreme_km,omitempty"`

	// Confidence score weights. The score is a heuristic, not a calibrated
	// probability: distance weight applies to min(max_km/norm, 1), away
	// weight to the away/total sighting ratio, and each home sighting adds
	// home_per_sighting up to home_cap.
	ConfidenceDistanceWeight *float64 `json:"confidence_distance_weight,omitempty"`
	ConfidenceDistanceNormKm *float64 `json:"confidence_distance_norm_km,omitempty"`
	ConfidenceAwayWeight     *float64 `json:"confidence_away_weight,omitempty"`
	ConfidenceHomePerSight   *float64 `json:"confidence_home_per_sighting,omitempty"`
	ConfidenceHomeCap        *float64 `json:"confidence_home_cap,omitempty"`

	// Learning loop params.
	LearnRaiseAboveRate *float64 `json:"learn_raise_above_rate,omitempty"`
	LearnLowerBelowRate *float64 `json:"learn_lower_below_rate,omitempty"`
	LearnStepMultiplier *float64 `json:"learn_step_multiplier,omitempty"`
	LearnCeilingKm      *float64 `json:"learn_ceiling_km,omitempty"`
	LearnFloorKm        *float64 `json:"learn_floor_km,omitempty"`
	LearnWindowDays     *int     `json:"learn_window_days,omitempty"`
	LearnMinSampleSize  *int     `json:"learn_min_sample_size,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultTuning returns the built-in defaults. These match the seeded
// detection_settings rows and the documented boundaries.
func DefaultTuning() *Tuning {
	return &Tuning{
		TierMediumKm:   ptrFloat64(5),
		TierHighKm:     ptrFloat64(10),
		TierCriticalKm: ptrFloat64(20),
		TierExtremeKm:  ptrFloat64(50),

		ConfidenceDistanceWeight: ptrFloat64(0.5),
		ConfidenceDistanceNormKm: ptrFloat64(100),
		ConfidenceAwayWeight:     ptrFloat64(0.3),
		ConfidenceHomePerSight:   ptrFloat64(0.066),
		ConfidenceHomeCap:        ptrFloat64(0.2),

		LearnRaiseAboveRate: ptrFloat64(0.5),
		LearnLowerBelowRate: ptrFloat64(0.2),
		LearnStepMultiplier: ptrFloat64(1.5),
		LearnCeilingKm:      ptrFloat64(50),
		LearnFloorKm:        ptrFloat64(0.25),
		LearnWindowDays:     ptrInt(30),
		LearnMinSampleSize:  ptrInt(5),
	}
}

// LoadTuning loads a Tuning from a JSON file and merges it over the
// defaults. The file is validated to have a .json extension and to be under
// the max file size. A missing file is not an error: the defaults apply.
func LoadTuning(path string) (*Tuning, error) {
	base := DefaultTuning()

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("tuning file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat tuning file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("tuning file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning file: %w", err)
	}

	var overlay Tuning
	if err := json.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse tuning file %s: %w", cleanPath, err)
	}

	base.Merge(&overlay)
	return base, nil
}

// Merge overlays non-nil fields of other onto t.
func (t *Tuning) Merge(other *Tuning) {
	if other == nil {
		return
	}
	if other.TierMediumKm != nil {
		t.TierMediumKm = other.TierMediumKm
	}
	if other.TierHighKm != nil {
		t.TierHighKm = other.TierHighKm
	}
	if other.TierCriticalKm != nil {
		t.TierCriticalKm = other.TierCriticalKm
	}
	if other.TierExtremeKm != nil {
		t.TierExtremeKm = other.TierExtremeKm
	}
	if other.ConfidenceDistanceWeight != nil {
		t.ConfidenceDistanceWeight = other.ConfidenceDistanceWeight
	}
	if other.ConfidenceDistanceNormKm != nil {
		t.ConfidenceDistanceNormKm = other.ConfidenceDistanceNormKm
	}
	if other.ConfidenceAwayWeight != nil {
		t.ConfidenceAwayWeight = other.ConfidenceAwayWeight
	}
	if other.ConfidenceHomePerSight != nil {
		t.ConfidenceHomePerSight = other.ConfidenceHomePerSight
	}
	if other.ConfidenceHomeCap != nil {
		t.ConfidenceHomeCap = other.ConfidenceHomeCap
	}
	if other.LearnRaiseAboveRate != nil {
		t.LearnRaiseAboveRate = other.LearnRaiseAboveRate
	}
	if other.LearnLowerBelowRate != nil {
		t.LearnLowerBelowRate = other.LearnLowerBelowRate
	}
	if other.LearnStepMultiplier != nil {
		t.LearnStepMultiplier = other.LearnStepMultiplier
	}
	if other.LearnCeilingKm != nil {
		t.LearnCeilingKm = other.LearnCeilingKm
	}
	if other.LearnFloorKm != nil {
		t.LearnFloorKm = other.LearnFloorKm
	}
	if other.LearnWindowDays != nil {
		t.LearnWindowDays = other.LearnWindowDays
	}
	if other.LearnMinSampleSize != nil {
		t.LearnMinSampleSize = other.LearnMinSampleSize
	}
}
