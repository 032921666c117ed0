package models

// Package models defines the core data types shared by every loglens stage.
//
// These types describe the two input tables (minute buckets and raw events),
// the numeric series handed to the presentation layer, and the per-bucket
// anomaly and correlation results. All of them are built once per run and are
// never mutated afterwards; transformations return new values.

import (
	"encoding/json"
	"time"
)

// Value is a numeric observation that may be absent.
// A Missing value marks a period with no data and is distinct from zero.
type Value struct {
	v       float64
	present bool
}

// Present wraps an observed number.
func Present(v float64) Value {
	return Value{v: v, present: true}
}

// Missing returns the "no data" marker.
func Missing() Value {
	return Value{}
}

// Get returns the wrapped number and whether it was observed.
func (v Value) Get() (float64, bool) {
	return v.v, v.present
}

// IsMissing reports whether v is a gap marker.
func (v Value) IsMissing() bool {
	return !v.present
}

// MarshalJSON encodes a gap marker as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.present {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}

// UnmarshalJSON decodes null as a gap marker.
func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Missing()
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Present(f)
	return nil
}

// Point is a single (instant, value) pair of a Series.
type Point struct {
	Instant time.Time `json:"t"`
	Value   Value     `json:"v"`
}

// Series is an ordered sequence of points, oldest first.
type Series struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// Len returns the number of points, gap markers included.
func (s Series) Len() int {
	return len(s.Points)
}

// Values returns the observed values, skipping gap markers.
func (s Series) Values() []float64 {
	out := make([]float64, 0, len(s.Points))
	for _, p := range s.Points {
		if v, ok := p.Value.Get(); ok {
			out = append(out, v)
		}
	}
	return out
}

// NewSeries builds a gap-free series from parallel instant/value slices.
func NewSeries(name string, instants []time.Time, values []float64) Series {
	n := len(instants)
	if len(values) < n {
		n = len(values)
	}
	pts := make([]Point, n)
	for i := 0; i < n; i++ {
		pts[i] = Point{Instant: instants[i], Value: Present(values[i])}
	}
	return Series{Name: name, Points: pts}
}

// TimeBucket is one row of the per-minute aggregate table.
type TimeBucket struct {
	Instant time.Time          `json:"instant"`
	Total   float64            `json:"total"`
	Counts  map[string]float64 `json:"counts"` // per-level counts and any extra numeric columns
}

// Count returns the named column, or 0 when the table does not carry it.
func (b TimeBucket) Count(column string) float64 {
	if column == TotalColumn {
		return b.Total
	}
	return b.Counts[column]
}

// TotalColumn is the conventional name of the aggregate volume column.
const TotalColumn = "total"

// Event is one row of the raw event table.
type Event struct {
	Instant time.Time `json:"instant"`
	Level   string    `json:"level"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

// AnomalyResult is the score of one retained bucket.
type AnomalyResult struct {
	Instant  time.Time `json:"instant"`
	Score    float64   `json:"score"`
	IsBreach bool      `json:"is_breach"`
}

// CorrelationMatrix is a labelled, symmetric entity x entity matrix.
// Entries for entities with zero variance are Missing; the diagonal is 1.
type CorrelationMatrix struct {
	Entities []string  `json:"entities"`
	Values   [][]Value `json:"values"`
}

// Get returns the coefficient for the pair (a, b).
func (m *CorrelationMatrix) Get(a, b string) (float64, bool) {
	i, j := m.index(a), m.index(b)
	if i < 0 || j < 0 {
		return 0, false
	}
	return m.Values[i][j].Get()
}

func (m *CorrelationMatrix) index(entity string) int {
	for i, e := range m.Entities {
		if e == entity {
			return i
		}
	}
	return -1
}

// KnownLevels lists the level columns in presentation order.
var KnownLevels = []string{"trace", "debug", "info", "warn", "error", "critical", "unknown"}
