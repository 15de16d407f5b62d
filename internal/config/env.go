package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Env is the service environment configuration, populated from
// SHADOWTRACE_-prefixed environment variables.
type Env struct {
	DBPath string `envconfig:"DB_PATH" default:"shadowtrace.db"`
	Listen string `envconfig:"LISTEN" default:":8080"`

	// External device-lookup service.
	LookupBaseURL string `envconfig:"LOOKUP_BASE_URL" default:"https://api.wigle.net"`
	// Credentials in "name:token" form, or pre-encoded base64.
	LookupAPIKey string `envconfig:"LOOKUP_API_KEY"`

	// Enrichment worker pacing. One call per second is the conservative
	// default for the public lookup service.
	EnrichInterval   time.Duration `envconfig:"ENRICH_INTERVAL" default:"15m"`
	EnrichBatchSize  int           `envconfig:"ENRICH_BATCH_SIZE" default:"25"`
	EnrichCallDelay  time.Duration `envconfig:"ENRICH_CALL_DELAY" default:"1s"`
	EnrichMaxBackoff time.Duration `envconfig:"ENRICH_MAX_BACKOFF" default:"60s"`

	ImportPageSize int `envconfig:"IMPORT_PAGE_SIZE" default:"50000"`
	// When set, import source paths must live under this directory.
	ImportDir string `envconfig:"IMPORT_DIR"`

	TuningPath string `envconfig:"TUNING_PATH" default:"config/detection.defaults.json"`
}

// LoadEnv reads the environment configuration.
func LoadEnv() (*Env, error) {
	var e Env
	if err := envconfig.Process("SHADOWTRACE", &e); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if e.ImportPageSize <= 0 {
		return nil, fmt.Errorf("import page size must be positive, got %d", e.ImportPageSize)
	}
	if e.EnrichBatchSize <= 0 {
		return nil, fmt.Errorf("enrich batch size must be positive, got %d", e.EnrichBatchSize)
	}
	return &e, nil
}
