package dataset

// Package dataset builds the two in-memory input tables of a loglens run.
//
// Responsibilities:
//   - Read the per-minute aggregate table and the raw event table from CSV
//   - Parse ISO-8601 timestamps into UTC instants (the temporal normalizer)
//   - Drop rows whose timestamp does not parse and sort the rest ascending
//   - Apply column defaults in one place, at table construction
//   - Remember whether a table's timestamps were zone-less so the trimmer
//     can reconcile it against the other table
//
// A missing aggregate file is fatal (ErrAggregateMissing); a missing event
// file yields an empty, valid table.

import (
	"errors"
	"time"

	"github.com/kubilitics/kubilitics-loglens/internal/models"
)

// Column names of the upstream CSV exports.
const (
	MinuteColumn    = "minute_iso"
	TimestampColumn = "timestamp_iso"
	LevelColumn     = "level"
	SourceColumn    = "source"
	MessageColumn   = "message"
)

var (
	// ErrAggregateMissing is returned when the aggregate table does not exist.
	ErrAggregateMissing = errors.New("aggregate time series input missing")

	// ErrNoTimeColumn is returned when the aggregate table has no minute_iso column.
	ErrNoTimeColumn = errors.New("aggregate time series has no " + MinuteColumn + " column")
)

// Defaults are the values substituted for absent event fields.
type Defaults struct {
	// Text fills level/message when the column is absent from the file.
	Text string
	// UnknownSource replaces blank or "nan" sources.
	UnknownSource string
	// NaiveLocation is the zone assumed for timestamps without an offset.
	NaiveLocation *time.Location
}

// DefaultDefaults returns the stock column defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		Text:          "",
		UnknownSource: "unknown",
		NaiveLocation: time.UTC,
	}
}

func (d Defaults) location() *time.Location {
	if d.NaiveLocation == nil {
		return time.UTC
	}
	return d.NaiveLocation
}

// Zone describes how a table's timestamps were written.
type Zone struct {
	// Naive is true when no parsed timestamp carried an offset.
	Naive bool
	// Location is the zone of the first timestamp that did carry one.
	Location *time.Location
	// Assumed is the zone naive timestamps were parsed in.
	Assumed *time.Location
	// Reconciled is true when Reconcile re-read the naive timestamps in Location.
	Reconciled bool
}

// AggregateTable is the normalised per-minute table.
type AggregateTable struct {
	Columns []string // numeric columns in file order, "total" included when present
	Buckets []models.TimeBucket
	Zone    Zone
	Dropped int // rows discarded because minute_iso did not parse
}

// HasColumn reports whether the upstream file carried the named numeric column.
func (t *AggregateTable) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Instants returns the bucket instants in order.
func (t *AggregateTable) Instants() []time.Time {
	out := make([]time.Time, len(t.Buckets))
	for i, b := range t.Buckets {
		out[i] = b.Instant
	}
	return out
}

// Column returns the named column as a slice aligned with Buckets.
func (t *AggregateTable) Column(name string) []float64 {
	out := make([]float64, len(t.Buckets))
	for i, b := range t.Buckets {
		out[i] = b.Count(name)
	}
	return out
}

// WithBuckets returns a shallow copy of t holding the given buckets.
func (t *AggregateTable) WithBuckets(buckets []models.TimeBucket) *AggregateTable {
	cp := *t
	cp.Buckets = buckets
	return &cp
}

// EventTable is the normalised raw event table.
type EventTable struct {
	Events  []models.Event
	Zone    Zone
	Dropped int  // rows discarded because timestamp_iso did not parse
	Absent  bool // the upstream file did not exist
}

// Empty reports whether the table holds no events.
func (t *EventTable) Empty() bool {
	return t == nil || len(t.Events) == 0
}

// MaxInstant returns the latest event instant.
func (t *EventTable) MaxInstant() (time.Time, bool) {
	if t.Empty() {
		return time.Time{}, false
	}
	// Events are sorted ascending by Normalize.
	return t.Events[len(t.Events)-1].Instant, true
}
