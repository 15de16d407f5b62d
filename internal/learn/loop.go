// Package learn implements the adaptive threshold adjustment loop. It
// consumes user feedback on surfaced incidents and nudges each radio
// type's min_distance_km: too many false positives raise it, consistently
// accurate detections lower it back toward the floor.
package learn

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/shadowtrace/internal/config"
	"github.com/banshee-data/shadowtrace/internal/db"
	"github.com/banshee-data/shadowtrace/internal/monitoring"
	"github.com/banshee-data/shadowtrace/internal/timeutil"
)

// Actions an adjustment run can take for one radio type.
const (
	ActionRaised    = "raised"
	ActionLowered   = "lowered"
	ActionUnchanged = "unchanged"
)

// Adjustment is the audit record for one radio type in one run.
type Adjustment struct {
	RadioType         string  `json:"radio_type"`
	Action            string  `json:"action"`
	Reason            string  `json:"reason"`
	OldMinDistanceKm  float64 `json:"old_min_distance_km"`
	NewMinDistanceKm  float64 `json:"new_min_distance_km"`
	SampleSize        int     `json:"sample_size"`
	FalsePositives    int     `json:"false_positives"`
	RealThreats       int     `json:"real_threats"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
}

// Report is the outcome of one full adjustment run.
type Report struct {
	RanAtUnix   float64      `json:"ran_at_unix"`
	Adjustments []Adjustment `json:"adjustments"`
}

// Loop owns the adjustment policy. It is driven on demand (the learn
// operation) rather than on a timer: adjustments only make sense after new
// feedback arrives.
type Loop struct {
	DB     *db.DB
	Tuning *config.Tuning
	Clock  timeutil.Clock
}

// Run evaluates every configured radio type against its feedback window
// and applies at most one threshold step per type. Feedback older than the
// type's last adjustment never counts again, so re-running without new
// feedback is a no-op.
func (l *Loop) Run(ctx context.Context) (*Report, error) {
	tuning := l.Tuning
	if tuning == nil {
		tuning = config.DefaultTuning()
	}
	clock := l.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	now := clock.Now()
	report := &Report{RanAtUnix: float64(now.UnixMilli()) / 1000}

	allSettings, err := l.DB.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings for adjustment run: %w", err)
	}

	windowStart := now.Add(-time.Duration(*tuning.LearnWindowDays) * 24 * time.Hour)
	windowStartUnix := float64(windowStart.UnixMilli()) / 1000

	for _, settings := range allSettings {
		adj, err := l.adjustOne(ctx, &settings, tuning, windowStartUnix, report.RanAtUnix)
		if err != nil {
			return nil, err
		}
		report.Adjustments = append(report.Adjustments, *adj)
	}
	return report, nil
}

func (l *Loop) adjustOne(ctx context.Context, settings *db.DetectionSettings, tuning *config.Tuning, windowStartUnix, nowUnix float64) (*Adjustment, error) {
	adj := &Adjustment{
		RadioType:        settings.RadioType,
		Action:           ActionUnchanged,
		OldMinDistanceKm: settings.MinDistanceKm,
		NewMinDistanceKm: settings.MinDistanceKm,
	}

	// Only feedback newer than the last adjustment counts, so each event
	// influences at most one step.
	cutoff := windowStartUnix
	if settings.LastAdjustedAtUnix != nil && *settings.LastAdjustedAtUnix > cutoff {
		cutoff = *settings.LastAdjustedAtUnix
	}

	counts, err := l.DB.FeedbackCountsForType(ctx, settings.RadioType, cutoff)
	if err != nil {
		return nil, err
	}
	adj.SampleSize = counts.TotalRated
	adj.FalsePositives = counts.FalsePositives
	adj.RealThreats = counts.RealThreats
	adj.FalsePositiveRate = counts.FalsePositiveRate()

	if counts.TotalRated < *tuning.LearnMinSampleSize {
		adj.Reason = fmt.Sprintf("sample size %d below minimum %d", counts.TotalRated, *tuning.LearnMinSampleSize)
		return adj, nil
	}

	rate := counts.FalsePositiveRate()
	switch {
	case rate > *tuning.LearnRaiseAboveRate:
		next := settings.MinDistanceKm * *tuning.LearnStepMultiplier
		if next > *tuning.LearnCeilingKm {
			next = *tuning.LearnCeilingKm
		}
		if next == settings.MinDistanceKm {
			adj.Reason = fmt.Sprintf("false positive rate %.2f but threshold already at ceiling %.2f km", rate, *tuning.LearnCeilingKm)
			return adj, nil
		}
		adj.Action = ActionRaised
		adj.NewMinDistanceKm = next
		adj.Reason = fmt.Sprintf("false positive rate %.2f above %.2f", rate, *tuning.LearnRaiseAboveRate)
	case rate < *tuning.LearnLowerBelowRate:
		next := settings.MinDistanceKm / *tuning.LearnStepMultiplier
		if next < *tuning.LearnFloorKm {
			next = *tuning.LearnFloorKm
		}
		if next == settings.MinDistanceKm {
			adj.Reason = fmt.Sprintf("false positive rate %.2f but threshold already at floor %.2f km", rate, *tuning.LearnFloorKm)
			return adj, nil
		}
		adj.Action = ActionLowered
		adj.NewMinDistanceKm = next
		adj.Reason = fmt.Sprintf("false positive rate %.2f below %.2f", rate, *tuning.LearnLowerBelowRate)
	default:
		adj.Reason = fmt.Sprintf("false positive rate %.2f within [%.2f, %.2f]", rate, *tuning.LearnLowerBelowRate, *tuning.LearnRaiseAboveRate)
		return adj, nil
	}

	if err := l.DB.ApplyThresholdAdjustment(ctx, settings.RadioType, adj.NewMinDistanceKm, nowUnix); err != nil {
		return nil, err
	}
	monitoring.Logf("learn: %s min_distance_km %s %.2f -> %.2f (%s)",
		settings.RadioType, adj.Action, adj.OldMinDistanceKm, adj.NewMinDistanceKm, adj.Reason)
	return adj, nil
}
