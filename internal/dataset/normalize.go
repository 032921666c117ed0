package dataset

import (
	"sort"
	"strings"
	"time"
)

// Layouts carrying an explicit offset ("Z" is accepted by the Z07 forms).
var awareLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02T15:04:05Z07",
	"2006-01-02 15:04:05Z07",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04Z07:00",
	"2006-01-02T15:04:05 -0700",
	"2006-01-02 15:04:05 -0700",
}

// Zone-less layouts; fractional seconds are accepted after the seconds field.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseInstant parses an ISO-8601 timestamp into a UTC instant.
// Timestamps without an offset are read as wall-clock time in naiveLoc and
// reported with naive=true.
func ParseInstant(text string, naiveLoc *time.Location) (t time.Time, naive bool, ok bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, false, false
	}
	if naiveLoc == nil {
		naiveLoc = time.UTC
	}

	for _, layout := range awareLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, false, true
		}
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, s, naiveLoc); err == nil {
			return parsed.UTC(), true, true
		}
	}
	return time.Time{}, false, false
}

// Stamped is a row paired with its parsed instant.
type Stamped[T any] struct {
	Instant time.Time
	Naive   bool
	Row     T
}

// Normalized is the output of Normalize.
type Normalized[T any] struct {
	Rows    []Stamped[T]
	Dropped int
	Zone    Zone
}

// Normalize parses the timestamp of every row, drops rows that fail to parse
// and stable-sorts the remainder ascending by instant. Instants are UTC.
// An empty input yields an empty result.
func Normalize[T any](rows []T, stamp func(T) string, naiveLoc *time.Location) Normalized[T] {
	if naiveLoc == nil {
		naiveLoc = time.UTC
	}
	out := Normalized[T]{Rows: make([]Stamped[T], 0, len(rows))}
	out.Zone.Assumed = naiveLoc

	allNaive := true
	for _, row := range rows {
		t, naive, ok := ParseInstant(stamp(row), naiveLoc)
		if !ok {
			out.Dropped++
			continue
		}
		if !naive {
			allNaive = false
			if out.Zone.Location == nil {
				out.Zone.Location = t.Location()
			}
		}
		out.Rows = append(out.Rows, Stamped[T]{Instant: t.UTC(), Naive: naive, Row: row})
	}
	out.Zone.Naive = allNaive && len(out.Rows) > 0

	sort.SliceStable(out.Rows, func(i, j int) bool {
		return out.Rows[i].Instant.Before(out.Rows[j].Instant)
	})
	return out
}

// Localize re-reads a naive instant as wall-clock time in loc.
// from is the zone the instant was originally parsed in.
func Localize(t time.Time, from, loc *time.Location) time.Time {
	if loc == nil {
		return t
	}
	if from == nil {
		from = time.UTC
	}
	w := t.In(from)
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), loc).UTC()
}
