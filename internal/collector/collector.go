// Package collector gathers raw activity events from monitored sources.
package collector

import (
	"context"

	"github.com/ubaguard/ubaguard/internal/models"
)

// Collector is a polled event source. The coordinator calls Collect on each
// collector's own goroutine at its configured interval; implementations must
// be safe for that single caller plus any internal goroutines they run.
type Collector interface {
	// Name identifies the collector in logs, metrics, and event records.
	Name() string
	// Collect returns the events gathered since the previous call.
	Collect(ctx context.Context) ([]*models.Event, error)
}

// Runner is implemented by collectors with background machinery (watchers,
// subscriptions) that needs explicit lifecycle management.
type Runner interface {
	Start() error
	Stop() error
}
