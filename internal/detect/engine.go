// Package detect implements the correlation and classification engine. It
// is a pure function over its inputs: a device's sightings, the home
// anchor, the detection parameters, and the tuning constants. Persistence
// and configuration lookup stay outside so the algorithm is deterministic
// and unit-testable without a database.
package detect

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/shadowtrace/internal/bssid"
	"github.com/banshee-data/shadowtrace/internal/config"
	"github.com/banshee-data/shadowtrace/internal/geo"
)

// Sighting is one geolocated observation of the device under evaluation.
type Sighting struct {
	ID         int64
	Lat        float64
	Lon        float64
	ObservedAt float64
}

// Anchor is the protected reference location. The home radius is a Params
// threshold, not an anchor property, so per-query overrides apply to it.
type Anchor struct {
	Lat float64
	Lon float64
}

// Params are the per-radio-type detection thresholds, passed explicitly so
// the engine carries no implicit global state.
type Params struct {
	MinDistanceKm       float64
	MaxDistanceKm       float64
	HomeRadiusM         float64
	MinHomeSightings    int
	MinAwaySightings    int
	ConfidenceThreshold float64
	EnabledTiers        []string
	Enabled             bool
}

func (p *Params) tierEnabled(t Tier) bool {
	name := t.String()
	for _, s := range p.EnabledTiers {
		if s == name {
			return true
		}
	}
	return false
}

// Incident is a threat-leveled, confidence-scored finding for one device.
// It is a view recomputed on demand, not a persisted entity.
type Incident struct {
	DeviceID         string  `json:"device_id"`
	TotalSightings   int     `json:"total_sightings"`
	HomeSightings    int     `json:"home_sightings"`
	AwaySightings    int     `json:"away_sightings"`
	MaxDistanceKm    float64 `json:"max_distance_km"`
	MeanDistanceKm   float64 `json:"mean_distance_km"`
	StddevDistanceKm float64 `json:"stddev_distance_km"`
	Tier             Tier    `json:"tier"`
	// Confidence is a heuristic in [0,1]: qualitatively "higher is more
	// confident", not a calibrated probability.
	Confidence           float64 `json:"confidence"`
	IsMobileHotspotGuess bool    `json:"is_mobile_hotspot_guess"`
	ObservationRefs      []int64 `json:"observation_refs"`
}

// Classify evaluates one device and returns zero or one incident.
//
// A nil return means the device is not actionable under the given
// parameters: whitelisted, disabled radio type, too few home or away
// sightings, max distance under the floor, a disabled tier, or confidence
// under the threshold. Missing configuration is the caller's concern: the
// engine requires a valid anchor and params, and the store layer reports
// their absence distinctly from "no threats found".
func Classify(deviceID string, sightings []Sighting, anchor Anchor, params Params, tuning *config.Tuning, whitelisted bool) *Incident {
	if whitelisted || !params.Enabled || len(sightings) == 0 {
		return nil
	}
	if tuning == nil {
		tuning = config.DefaultTuning()
	}

	homeRadiusKm := geo.MetersToKm(params.HomeRadiusM)

	var (
		home, away int
		maxKm      float64
		distances  = make([]float64, 0, len(sightings))
		refs       = make([]int64, 0, len(sightings))
	)
	for _, s := range sightings {
		d := geo.HaversineKm(anchor.Lat, anchor.Lon, s.Lat, s.Lon)
		distances = append(distances, d)
		refs = append(refs, s.ID)
		if d > maxKm {
			maxKm = d
		}
		switch {
		case d <= homeRadiusKm:
			home++
		case d > params.MinDistanceKm:
			away++
		}
	}

	if home < params.MinHomeSightings || away < params.MinAwaySightings {
		return nil
	}
	if maxKm < params.MinDistanceKm {
		return nil
	}

	tier := assignTier(maxKm, tuning)
	if !params.tierEnabled(tier) {
		return nil
	}

	confidence := confidenceScore(maxKm, home, away, len(sightings), tuning)
	if confidence < params.ConfidenceThreshold {
		return nil
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	mean := stat.Mean(distances, nil)
	stddev := 0.0
	if len(distances) > 1 {
		stddev = stat.StdDev(distances, nil)
	}

	return &Incident{
		DeviceID:             deviceID,
		TotalSightings:       len(sightings),
		HomeSightings:        home,
		AwaySightings:        away,
		MaxDistanceKm:        maxKm,
		MeanDistanceKm:       mean,
		StddevDistanceKm:     stddev,
		Tier:                 tier,
		Confidence:           confidence,
		IsMobileHotspotGuess: bssid.IsLocallyAdministered(deviceID),
		ObservationRefs:      refs,
	}
}

// assignTier is a monotonic step function of max distance with inclusive
// lower bounds: the higher tier wins at an exact boundary.
func assignTier(maxKm float64, tuning *config.Tuning) Tier {
	switch {
	case maxKm >= *tuning.TierExtremeKm:
		return TierExtreme
	case maxKm >= *tuning.TierCriticalKm:
		return TierCritical
	case maxKm >= *tuning.TierHighKm:
		return TierHigh
	case maxKm >= *tuning.TierMediumKm:
		return TierMedium
	default:
		return TierLow
	}
}

// confidenceScore is the weighted heuristic from the tuning defaults:
// distance (normalized and capped), proportion of away sightings, and a
// capped bonus per home sighting. Clipped to [0,1].
func confidenceScore(maxKm float64, home, away, total int, tuning *config.Tuning) float64 {
	if total == 0 {
		return 0
	}
	distanceTerm := *tuning.ConfidenceDistanceWeight * math.Min(maxKm / *tuning.ConfidenceDistanceNormKm, 1)
	awayTerm := *tuning.ConfidenceAwayWeight * (float64(away) / float64(total))
	homeTerm := math.Min(*tuning.ConfidenceHomeCap, *tuning.ConfidenceHomePerSight*float64(home))

	score := distanceTerm + awayTerm + homeTerm
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}
