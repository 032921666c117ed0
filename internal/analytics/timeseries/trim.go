package timeseries

import (
	"time"

	"github.com/kubilitics/kubilitics-loglens/internal/dataset"
	"github.com/kubilitics/kubilitics-loglens/internal/models"
)

// DefaultCompletenessCutoff is how much of its minute the final bucket must be
// covered by raw events to be kept.
const DefaultCompletenessCutoff = 50 * time.Second

// TrimOptions configures TrimPartialFinalBucket.
type TrimOptions struct {
	CompletenessCutoff time.Duration
}

// DefaultTrimOptions returns the stock trimming options.
func DefaultTrimOptions() TrimOptions {
	return TrimOptions{CompletenessCutoff: DefaultCompletenessCutoff}
}

// TrimResult describes what TrimPartialFinalBucket decided.
type TrimResult struct {
	Trimmed    bool          `json:"trimmed"`
	Covered    time.Duration `json:"covered_ns"`
	Reconciled bool          `json:"zone_reconciled"`
	Checked    bool          `json:"checked"` // false when there were no events to corroborate
}

// TrimPartialFinalBucket drops the last aggregate bucket when the raw event log
// stopped less than opts.CompletenessCutoff into that bucket's minute. With no
// events the table is returned unmodified. At most one bucket is removed.
//
// Tables that were not yet aligned are passed through dataset.Reconcile first,
// and the returned table carries the reconciled instants. Reconciled reports
// whether either table had its zone-less timestamps re-read.
func TrimPartialFinalBucket(agg *dataset.AggregateTable, events *dataset.EventTable, opts TrimOptions) (*dataset.AggregateTable, TrimResult) {
	var res TrimResult
	if agg == nil || len(agg.Buckets) == 0 {
		return agg, res
	}
	if events.Empty() {
		return agg, res
	}
	agg, events = dataset.Reconcile(agg, events)
	res.Reconciled = agg.Zone.Reconciled || events.Zone.Reconciled
	res.Checked = true

	maxObserved, _ := events.MaxInstant()

	cutoff := opts.CompletenessCutoff
	if cutoff <= 0 {
		cutoff = DefaultCompletenessCutoff
	}

	last := agg.Buckets[len(agg.Buckets)-1].Instant

	covered := maxObserved.Sub(last)
	if covered < 0 {
		covered = 0
	}
	res.Covered = covered

	if covered < cutoff {
		res.Trimmed = true
		kept := make([]models.TimeBucket, len(agg.Buckets)-1)
		copy(kept, agg.Buckets)
		return agg.WithBuckets(kept), res
	}
	return agg, res
}
