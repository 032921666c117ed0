// Package breakdown computes the categorical summaries of a run: level
// distribution, busiest sources, most frequent error messages, network
// address frequency and the time x level heatmap.
package breakdown

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kubilitics/kubilitics-loglens/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-loglens/internal/dataset"
	"github.com/kubilitics/kubilitics-loglens/internal/models"
)

// Defaults for the top-N cuts.
const (
	DefaultSourceTopN  = 15
	DefaultMessageTopN = 10
	DefaultAddressTopN = 15
)

var (
	digitRun   = regexp.MustCompile(`\b\d+\b`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Count is one labelled bar.
type Count struct {
	Label string  `json:"label"`
	Count float64 `json:"count"`
}

// Heatmap is a levels x buckets matrix of counts.
type Heatmap struct {
	Levels   []string    `json:"levels"`
	Instants []time.Time `json:"instants"`
	Values   [][]float64 `json:"values"` // Values[level][bucket]
}

// Breakdowns bundles every summary of a run. Nil or empty fields mean the
// input did not support that summary.
type Breakdowns struct {
	Levels        []Count  `json:"levels"`
	LevelsFromAgg bool     `json:"levels_from_aggregate"`
	Sources       []Count  `json:"sources"`
	ErrorMessages []Count  `json:"error_messages"`
	Addresses     []Count  `json:"addresses"`
	LevelHeatmap  *Heatmap `json:"level_heatmap,omitempty"`
}

// Builder computes Breakdowns with configurable cut-offs.
type Builder struct {
	SourceTopN  int
	MessageTopN int
	AddressTopN int
}

// NewBuilder returns a Builder with the default cut-offs.
func NewBuilder() *Builder {
	return &Builder{
		SourceTopN:  DefaultSourceTopN,
		MessageTopN: DefaultMessageTopN,
		AddressTopN: DefaultAddressTopN,
	}
}

// Build computes every summary.
func (b *Builder) Build(agg *dataset.AggregateTable, events *dataset.EventTable) *Breakdowns {
	out := &Breakdowns{
		Sources:       SourceActivity(events, b.SourceTopN),
		ErrorMessages: TopErrorMessages(events, b.MessageTopN),
		Addresses:     AddressFrequency(events, b.AddressTopN),
	}
	out.Levels, out.LevelsFromAgg = LevelDistribution(events, agg)
	if hm, ok := LevelHeatmap(agg); ok {
		out.LevelHeatmap = hm
	}
	return out
}

// LevelDistribution counts event levels, upper-cased. With no events it falls
// back to the sums of the aggregate level columns and reports true.
func LevelDistribution(events *dataset.EventTable, agg *dataset.AggregateTable) ([]Count, bool) {
	if !events.Empty() {
		counts := map[string]float64{}
		for _, e := range events.Events {
			counts[strings.ToUpper(e.Level)]++
		}
		return ranked(counts, 0), false
	}
	if agg == nil {
		return nil, false
	}
	counts := map[string]float64{}
	for _, level := range levelColumns(agg) {
		sum := 0.0
		for _, v := range agg.Column(level) {
			sum += v
		}
		counts[strings.ToUpper(level)] = sum
	}
	if len(counts) == 0 {
		return nil, false
	}
	return ranked(counts, 0), true
}

// SourceActivity counts events per source and keeps the topN.
func SourceActivity(events *dataset.EventTable, topN int) []Count {
	if events.Empty() {
		return nil
	}
	counts := map[string]float64{}
	for _, e := range events.Events {
		counts[e.Source]++
	}
	return ranked(counts, topN)
}

// TopErrorMessages counts ERROR and CRITICAL messages after replacing digit
// runs with 0 and collapsing whitespace, and keeps the topN.
func TopErrorMessages(events *dataset.EventTable, topN int) []Count {
	if events.Empty() {
		return nil
	}
	counts := map[string]float64{}
	for _, e := range events.Events {
		switch strings.ToUpper(e.Level) {
		case "ERROR", "CRITICAL":
			counts[NormalizeMessage(e.Message)]++
		}
	}
	if len(counts) == 0 {
		return nil
	}
	return ranked(counts, topN)
}

// NormalizeMessage folds numbers and whitespace so that messages differing
// only in ids or counters group together.
func NormalizeMessage(msg string) string {
	msg = digitRun.ReplaceAllString(msg, "0")
	return strings.TrimSpace(whitespace.ReplaceAllString(msg, " "))
}

// AddressFrequency counts every dotted-quad found in message and source text
// and keeps the topN.
func AddressFrequency(events *dataset.EventTable, topN int) []Count {
	if events.Empty() {
		return nil
	}
	counts := map[string]float64{}
	for _, e := range events.Events {
		for _, ip := range anomaly.AddressPattern.FindAllString(e.Message+" "+e.Source, -1) {
			counts[ip]++
		}
	}
	if len(counts) == 0 {
		return nil
	}
	return ranked(counts, topN)
}

// LevelHeatmap returns the level x bucket matrix. It needs at least one level
// column and two buckets.
func LevelHeatmap(agg *dataset.AggregateTable) (*Heatmap, bool) {
	if agg == nil || len(agg.Buckets) < 2 {
		return nil, false
	}
	levels := levelColumns(agg)
	if len(levels) == 0 {
		return nil, false
	}
	hm := &Heatmap{Instants: agg.Instants()}
	for _, level := range levels {
		hm.Levels = append(hm.Levels, strings.ToUpper(level))
		hm.Values = append(hm.Values, agg.Column(level))
	}
	return hm, true
}

func levelColumns(agg *dataset.AggregateTable) []string {
	var out []string
	for _, level := range models.KnownLevels {
		if agg.HasColumn(level) {
			out = append(out, level)
		}
	}
	return out
}

// ranked sorts counts descending, ties by label, and keeps the first topN
// (all when topN <= 0).
func ranked(counts map[string]float64, topN int) []Count {
	out := make([]Count, 0, len(counts))
	for label, c := range counts {
		out = append(out, Count{Label: label, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}
