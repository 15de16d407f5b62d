package detect

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/shadowtrace/internal/config"
	"github.com/banshee-data/shadowtrace/internal/db"
	"github.com/banshee-data/shadowtrace/internal/monitoring"
)

// Scanner runs the engine across the observation store. It is stateless
// between calls: incidents are views, recomputed on demand.
type Scanner struct {
	DB     *db.DB
	Tuning *config.Tuning
}

// Overrides are the optional per-query parameter overrides exposed by the
// incident listing operation. Nil fields keep the stored settings.
type Overrides struct {
	MinDistanceKm    *float64
	HomeRadiusM      *float64
	MinHomeSightings *int
	Limit            int
}

// ScanResult is the outcome of one incident listing. When required
// configuration is absent MissingConfig is populated and Incidents stays
// empty, so the caller can tell a misconfigured scan from a clean one.
type ScanResult struct {
	Incidents        []Incident `json:"incidents"`
	DevicesEvaluated int        `json:"devices_evaluated"`
	MissingConfig    []string   `json:"missing_config,omitempty"`
}

// ListIncidents evaluates every candidate device for the radio type and
// returns the surfaced incidents, highest tier first.
func (s *Scanner) ListIncidents(ctx context.Context, radioType string, ov Overrides) (*ScanResult, error) {
	result := &ScanResult{}

	settings, err := s.DB.GetSettings(ctx, radioType)
	if errors.Is(err, db.ErrNoSettings) {
		result.MissingConfig = append(result.MissingConfig, fmt.Sprintf("detection settings for %s", radioType))
	} else if err != nil {
		return nil, err
	}

	anchor, err := s.DB.PrimaryAnchor(ctx)
	if errors.Is(err, db.ErrNoPrimaryAnchor) {
		result.MissingConfig = append(result.MissingConfig, "primary home anchor")
	} else if err != nil {
		return nil, err
	}

	// Fail closed: no configuration, no incidents.
	if len(result.MissingConfig) > 0 {
		return result, nil
	}

	params := Params{
		MinDistanceKm:       settings.MinDistanceKm,
		MaxDistanceKm:       settings.MaxDistanceKm,
		HomeRadiusM:         settings.HomeRadiusM,
		MinHomeSightings:    settings.MinHomeSightings,
		MinAwaySightings:    settings.MinAwaySightings,
		ConfidenceThreshold: settings.ConfidenceThreshold,
		EnabledTiers:        settings.EnabledTiers,
		Enabled:             settings.Enabled,
	}
	if ov.MinDistanceKm != nil {
		params.MinDistanceKm = *ov.MinDistanceKm
	}
	if ov.HomeRadiusM != nil {
		params.HomeRadiusM = *ov.HomeRadiusM
	}
	if ov.MinHomeSightings != nil {
		params.MinHomeSightings = *ov.MinHomeSightings
	}

	engineAnchor := Anchor{Lat: anchor.Lat, Lon: anchor.Lon}

	whitelist, err := s.DB.WhitelistedDevices(ctx)
	if err != nil {
		return nil, err
	}

	candidates, err := s.DB.CandidateDevices(ctx, params.MinHomeSightings+params.MinAwaySightings)
	if err != nil {
		return nil, err
	}

	for _, deviceID := range candidates {
		observations, err := s.DB.SightingsForDevice(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		sightings := make([]Sighting, len(observations))
		for i, o := range observations {
			sightings[i] = Sighting{ID: o.ID, Lat: o.Lat, Lon: o.Lon, ObservedAt: o.ObservedAt}
		}
		result.DevicesEvaluated++

		incident := Classify(deviceID, sightings, engineAnchor, params, s.Tuning, whitelist[deviceID])
		if incident == nil {
			continue
		}
		monitoring.IncidentsEmitted.WithLabelValues(incident.Tier.String()).Inc()
		result.Incidents = append(result.Incidents, *incident)
	}

	sort.Slice(result.Incidents, func(i, j int) bool {
		a, b := result.Incidents[i], result.Incidents[j]
		if a.Tier != b.Tier {
			return a.Tier > b.Tier
		}
		return a.MaxDistanceKm > b.MaxDistanceKm
	})
	if ov.Limit > 0 && len(result.Incidents) > ov.Limit {
		result.Incidents = result.Incidents[:ov.Limit]
	}

	return result, nil
}
