package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/shadowtrace/internal/bssid"
	"github.com/banshee-data/shadowtrace/internal/db"
	"github.com/banshee-data/shadowtrace/internal/geo"
	"github.com/banshee-data/shadowtrace/internal/monitoring"
	"github.com/banshee-data/shadowtrace/internal/timeutil"
)

// rateLimitRetries bounds how often one item is retried after a rate
// limit response before the run gives up.
const rateLimitRetries = 5

// Worker drains the enrichment queue on a timer. One worker per process;
// the claim step in the store keeps concurrent workers from colliding
// anyway.
type Worker struct {
	DB         *db.DB
	Client     *Client
	Clock      timeutil.Clock
	Interval   time.Duration
	BatchSize  int
	CallDelay  time.Duration
	MaxBackoff time.Duration

	stopChan chan struct{}
}

// RunSummary reports what one queue drain accomplished.
type RunSummary struct {
	Claimed           int `json:"claimed"`
	Completed         int `json:"completed"`
	Failed            int `json:"failed"`
	Skipped           int `json:"skipped"`
	RecordsFound      int `json:"records_found"`
	LocationsInserted int `json:"locations_inserted"`
}

func (s RunSummary) String() string {
	return fmt.Sprintf("%d claimed, %d completed, %d failed, %d skipped, %d locations inserted",
		s.Claimed, s.Completed, s.Failed, s.Skipped, s.LocationsInserted)
}

// Start launches the periodic queue drain. Call Stop to halt it.
func (w *Worker) Start(ctx context.Context) {
	if w.stopChan != nil {
		return
	}
	w.stopChan = make(chan struct{})

	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				summary, err := w.RunOnce(ctx)
				if err != nil {
					monitoring.Logf("enrich: run failed: %v", err)
					continue
				}
				if summary.Claimed > 0 {
					monitoring.Logf("enrich: %s", summary)
				}
			case <-w.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the periodic drain. An in-flight run finishes its batch.
func (w *Worker) Stop() {
	if w.stopChan != nil {
		close(w.stopChan)
		w.stopChan = nil
	}
}

// RunOnce claims one batch of pending items and processes them in order,
// pacing calls by the configured delay. Credential rejection aborts the
// run: every remaining lookup would fail the same way.
func (w *Worker) RunOnce(ctx context.Context) (*RunSummary, error) {
	clock := w.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	summary := &RunSummary{}

	items, err := w.DB.ClaimPending(ctx, w.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue batch: %w", err)
	}
	summary.Claimed = len(items)

	whitelist, err := w.DB.WhitelistedDevices(ctx)
	if err != nil {
		return nil, err
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			w.failRemaining(items[i:], "run cancelled before lookup")
			return summary, err
		}
		if i > 0 {
			clock.Sleep(w.CallDelay)
		}

		if whitelist[item.BSSID] {
			monitoring.EnrichmentLookups.WithLabelValues("skipped").Inc()
			if err := w.DB.SkipQueueItem(ctx, item.TagID, "device is whitelisted"); err != nil {
				return summary, err
			}
			summary.Skipped++
			continue
		}

		records, err := w.lookupWithBackoff(ctx, clock, item.BSSID)
		switch {
		case err == nil:
			inserted, err := w.storeRecords(ctx, item.BSSID, records)
			if err != nil {
				return summary, err
			}
			locations := 0
			for _, rec := range records {
				locations += len(rec.Locations)
			}
			monitoring.EnrichmentLookups.WithLabelValues("found").Inc()
			if err := w.DB.CompleteQueueItem(ctx, item.TagID, len(records), locations); err != nil {
				return summary, err
			}
			summary.Completed++
			summary.RecordsFound += len(records)
			summary.LocationsInserted += inserted

		case errors.Is(err, ErrNotFound):
			// Not an error: the device is simply unknown out there.
			monitoring.EnrichmentLookups.WithLabelValues("not_found").Inc()
			if err := w.DB.CompleteQueueItem(ctx, item.TagID, 0, 0); err != nil {
				return summary, err
			}
			summary.Completed++

		case errors.Is(err, ErrUnauthorized):
			monitoring.EnrichmentLookups.WithLabelValues("unauthorized").Inc()
			if err := w.DB.FailQueueItem(ctx, item.TagID, err.Error()); err != nil {
				return summary, err
			}
			summary.Failed++
			w.failRemaining(items[i+1:], "run aborted: credentials rejected")
			summary.Failed += len(items[i+1:])
			return summary, fmt.Errorf("aborting enrichment run: %w", err)

		default:
			monitoring.EnrichmentLookups.WithLabelValues("failed").Inc()
			if err := w.DB.FailQueueItem(ctx, item.TagID, err.Error()); err != nil {
				return summary, err
			}
			summary.Failed++
		}
	}

	return summary, nil
}

// lookupWithBackoff retries rate-limited lookups with doubling delays,
// never sleeping longer than MaxBackoff per attempt.
func (w *Worker) lookupWithBackoff(ctx context.Context, clock timeutil.Clock, deviceID string) ([]NetworkRecord, error) {
	backoff := w.CallDelay
	if backoff <= 0 {
		backoff = time.Second
	}
	for attempt := 0; ; attempt++ {
		records, err := w.Client.NetworkDetail(ctx, deviceID)
		if !errors.Is(err, ErrRateLimited) {
			return records, err
		}
		if attempt >= rateLimitRetries {
			return nil, fmt.Errorf("giving up on %s after %d rate-limited attempts: %w", deviceID, attempt+1, err)
		}
		monitoring.EnrichmentLookups.WithLabelValues("rate_limited").Inc()
		clock.Sleep(backoff)
		backoff *= 2
		if backoff > w.MaxBackoff {
			backoff = w.MaxBackoff
		}
	}
}

// storeRecords folds lookup results into the store: location history
// becomes observations, network fields update the device view. Returns the
// number of observation rows actually inserted after dedup.
func (w *Worker) storeRecords(ctx context.Context, deviceID string, records []NetworkRecord) (int, error) {
	var observations []db.Observation
	for _, rec := range records {
		for _, loc := range rec.Locations {
			if !geo.ValidCoordinate(loc.Lat, loc.Lon) || loc.ObservedAt.IsZero() {
				continue
			}
			observations = append(observations, db.Observation{
				BSSID:      deviceID,
				SSID:       rec.SSID,
				Lat:        loc.Lat,
				Lon:        loc.Lon,
				SignalDBm:  loc.SignalDBm,
				Channel:    rec.Channel,
				ObservedAt: float64(loc.ObservedAt.UnixMilli()) / 1000,
				Source:     db.SourceExternalLookup,
			})
		}
	}

	inserted := 0
	if len(observations) > 0 {
		stats, err := w.DB.InsertObservations(ctx, observations)
		if err != nil {
			return 0, fmt.Errorf("failed to store lookup observations for %s: %w", deviceID, err)
		}
		inserted = stats.Inserted
		monitoring.ObservationsInserted.WithLabelValues(string(db.SourceExternalLookup)).Add(float64(stats.Inserted))
		monitoring.ObservationsDuplicate.WithLabelValues(string(db.SourceExternalLookup)).Add(float64(stats.Duplicates))
	}

	for _, rec := range records {
		if rec.SSID == nil && rec.Encryption == nil && rec.Channel == nil {
			continue
		}
		if err := w.DB.UpdateDeviceMetadata(ctx, deviceID, rec.SSID, rec.Encryption, rec.Channel, nil, bssid.IsLocallyAdministered(deviceID)); err != nil {
			return inserted, err
		}
		break
	}
	return inserted, nil
}

func (w *Worker) failRemaining(items []db.QueueItem, reason string) {
	// Best effort: the queue row staying in processing would block
	// re-tagging, so mark the leftovers failed even without a ctx.
	ctx := context.Background()
	for _, item := range items {
		if err := w.DB.FailQueueItem(ctx, item.TagID, reason); err != nil {
			monitoring.Logf("enrich: failed to release queue item %d: %v", item.TagID, err)
		}
	}
}
