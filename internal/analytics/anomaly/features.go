package anomaly

import (
	"regexp"
	"time"

	"github.com/kubilitics/kubilitics-loglens/internal/dataset"
	"github.com/kubilitics/kubilitics-loglens/internal/models"
)

// Derived feature names.
const (
	UniqueSourcesFeature = "unique_sources"
	UniqueIPsFeature     = "unique_ips"
)

// DefaultFeatureColumns are the candidate features, in matrix column order.
var DefaultFeatureColumns = []string{
	models.TotalColumn, "error", "warn", "critical", "anomalies", "malformed",
	UniqueSourcesFeature, UniqueIPsFeature,
}

// AddressPattern matches a dotted-quad network address.
var AddressPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

// FirstAddress returns the first dotted-quad in the event's message and source.
func FirstAddress(e models.Event) (string, bool) {
	m := AddressPattern.FindString(e.Message + " " + e.Source)
	return m, m != ""
}

// FeatureTable is the per-bucket feature matrix before column selection.
type FeatureTable struct {
	Instants []time.Time
	Columns  map[string][]float64 // present candidate columns, aligned with Instants
}

// Has reports whether the named feature is present.
func (f *FeatureTable) Has(name string) bool {
	_, ok := f.Columns[name]
	return ok
}

// BuildFeatures collects every aggregate column plus, when events exist, the
// per-minute distinct source and distinct address counts. Minutes without
// events get 0 for the derived features.
func BuildFeatures(agg *dataset.AggregateTable, events *dataset.EventTable) *FeatureTable {
	ft := &FeatureTable{
		Instants: agg.Instants(),
		Columns:  make(map[string][]float64, len(agg.Columns)+2),
	}
	for _, c := range agg.Columns {
		ft.Columns[c] = agg.Column(c)
	}
	if events.Empty() {
		return ft
	}

	sources := map[time.Time]map[string]struct{}{}
	addrs := map[time.Time]map[string]struct{}{}
	for _, e := range events.Events {
		minute := e.Instant.Truncate(time.Minute)
		addTo(sources, minute, e.Source)
		if ip, ok := FirstAddress(e); ok {
			addTo(addrs, minute, ip)
		}
	}

	us := make([]float64, len(ft.Instants))
	ui := make([]float64, len(ft.Instants))
	for i, t := range ft.Instants {
		us[i] = float64(len(sources[t]))
		ui[i] = float64(len(addrs[t]))
	}
	ft.Columns[UniqueSourcesFeature] = us
	ft.Columns[UniqueIPsFeature] = ui
	return ft
}

func addTo(m map[time.Time]map[string]struct{}, k time.Time, v string) {
	set, ok := m[k]
	if !ok {
		set = map[string]struct{}{}
		m[k] = set
	}
	set[v] = struct{}{}
}

// Selection is the outcome of choosing feature columns.
type Selection struct {
	Columns  []string
	Degraded bool // fewer than two usable columns were found
}

// SelectFeatures picks the usable candidates: present and not constant.
// With fewer than two usable columns it falls back to total alone, or to the
// present candidates when there is no total column. An empty Columns means
// there is nothing to score.
func SelectFeatures(ft *FeatureTable, candidates []string) Selection {
	var present, usable []string
	for _, c := range candidates {
		col, ok := ft.Columns[c]
		if !ok {
			continue
		}
		present = append(present, c)
		if len(col) > 0 && !constant(col) {
			usable = append(usable, c)
		}
	}
	if len(usable) >= 2 {
		return Selection{Columns: usable}
	}
	if ft.Has(models.TotalColumn) {
		return Selection{Columns: []string{models.TotalColumn}, Degraded: true}
	}
	return Selection{Columns: present, Degraded: true}
}

// Matrix returns the rows x columns matrix for the selected columns.
func (f *FeatureTable) Matrix(columns []string) [][]float64 {
	X := make([][]float64, len(f.Instants))
	for i := range X {
		row := make([]float64, len(columns))
		for j, c := range columns {
			row[j] = f.Columns[c][i]
		}
		X[i] = row
	}
	return X
}
