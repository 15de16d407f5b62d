// Package monitoring carries the observability surface shared by the
// ingestion, enrichment and detection pipelines: Prometheus collectors and
// a replaceable diagnostic logger. Row-level import skips and worker
// retries log through Logf so tests can mute them.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
