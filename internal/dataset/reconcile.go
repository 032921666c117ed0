package dataset

import (
	"sort"

	"github.com/kubilitics/kubilitics-loglens/internal/models"
)

// Reconcile aligns the two tables when exactly one of them was written without
// zone offsets: the naive table's instants are re-read as wall-clock time in
// the other table's zone. The inputs are not modified; a table that needs no
// change is returned as is.
func Reconcile(agg *AggregateTable, events *EventTable) (*AggregateTable, *EventTable) {
	if agg == nil || events == nil {
		return agg, events
	}

	switch {
	case events.Zone.Naive && !agg.Zone.Naive && agg.Zone.Location != nil:
		loc := agg.Zone.Location
		out := make([]models.Event, len(events.Events))
		for i, e := range events.Events {
			e.Instant = Localize(e.Instant, events.Zone.Assumed, loc)
			out[i] = e
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Instant.Before(out[j].Instant) })

		cp := *events
		cp.Events = out
		cp.Zone = Zone{Location: loc, Assumed: events.Zone.Assumed, Reconciled: true}
		return agg, &cp

	case agg.Zone.Naive && !events.Zone.Naive && events.Zone.Location != nil:
		loc := events.Zone.Location
		out := make([]models.TimeBucket, len(agg.Buckets))
		for i, b := range agg.Buckets {
			b.Instant = Localize(b.Instant, agg.Zone.Assumed, loc)
			out[i] = b
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Instant.Before(out[j].Instant) })

		cp := agg.WithBuckets(out)
		cp.Zone = Zone{Location: loc, Assumed: agg.Zone.Assumed, Reconciled: true}
		return cp, events
	}
	return agg, events
}
