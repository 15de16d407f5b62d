package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the ingestion and enrichment pipelines. All are
// registered on the default registry and exposed via /metrics.
var (
	// ObservationsInserted counts observation rows written, by source.
	ObservationsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowtrace_observations_inserted_total",
		Help: "Observation rows inserted into the store, by source.",
	}, []string{"source"})

	// ObservationsDuplicate counts rows absorbed by the dedup constraint.
	ObservationsDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowtrace_observations_duplicate_total",
		Help: "Observation rows skipped as duplicates of existing rows, by source.",
	}, []string{"source"})

	// EnrichmentLookups counts external lookup outcomes.
	EnrichmentLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowtrace_enrichment_lookups_total",
		Help: "External device lookups performed by the enrichment worker, by result.",
	}, []string{"result"})

	// ImportRows counts bulk-import row outcomes.
	ImportRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowtrace_import_rows_total",
		Help: "Bulk import rows processed, by outcome.",
	}, []string{"outcome"})

	// IncidentsEmitted counts threat incidents surfaced by tier.
	IncidentsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowtrace_incidents_emitted_total",
		Help: "Threat incidents emitted by the correlation engine, by tier.",
	}, []string{"tier"})
)
