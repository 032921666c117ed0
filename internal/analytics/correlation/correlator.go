// Package correlation measures how closely the per-minute activity of the
// busiest event sources moves together.
package correlation

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kubilitics/kubilitics-loglens/internal/dataset"
	"github.com/kubilitics/kubilitics-loglens/internal/models"
)

// DefaultTopN is the number of most active sources correlated.
const DefaultTopN = 20

// Correlator builds a Pearson correlation matrix over source activity.
type Correlator struct {
	TopN int
}

// NewCorrelator returns a Correlator keeping topN sources, or DefaultTopN
// when topN <= 0.
func NewCorrelator(topN int) *Correlator {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Correlator{TopN: topN}
}

// ActivityMatrix is the minute x entity event count matrix.
type ActivityMatrix struct {
	Minutes  []time.Time
	Entities []string    // sorted by name
	Counts   [][]float64 // Counts[entity][minute]
}

// Activity buckets events to minutes and counts events per (minute, source)
// for the TopN sources by event count. Ties on count are broken by name.
// Only minutes with at least one event from a kept source appear; absent
// combinations are 0.
func (c *Correlator) Activity(events *dataset.EventTable) *ActivityMatrix {
	if events.Empty() {
		return &ActivityMatrix{}
	}

	totals := map[string]int{}
	for _, e := range events.Events {
		totals[e.Source]++
	}
	ranked := make([]string, 0, len(totals))
	for s := range totals {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if totals[ranked[i]] != totals[ranked[j]] {
			return totals[ranked[i]] > totals[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	topN := c.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	sort.Strings(ranked)

	col := make(map[string]int, len(ranked))
	for i, s := range ranked {
		col[s] = i
	}

	// Events are sorted, so minutes come out in order.
	m := &ActivityMatrix{Entities: ranked, Counts: make([][]float64, len(ranked))}
	var last time.Time
	for _, e := range events.Events {
		j, ok := col[e.Source]
		if !ok {
			continue
		}
		minute := e.Instant.Truncate(time.Minute)
		if len(m.Minutes) == 0 || !minute.Equal(last) {
			m.Minutes = append(m.Minutes, minute)
			for k := range m.Counts {
				m.Counts[k] = append(m.Counts[k], 0)
			}
			last = minute
		}
		m.Counts[j][len(m.Minutes)-1]++
	}
	return m
}

// Correlate returns the entity x entity Pearson correlation matrix, or false
// when fewer than two entities qualify. Pairs involving a zero-variance
// entity are Missing; the diagonal is always exactly 1.
func (c *Correlator) Correlate(events *dataset.EventTable) (*models.CorrelationMatrix, bool) {
	act := c.Activity(events)
	n := len(act.Entities)
	if n < 2 {
		return nil, false
	}

	varies := make([]bool, n)
	for i, counts := range act.Counts {
		varies[i] = stat.Variance(counts, nil) > 0
	}

	values := make([][]models.Value, n)
	for i := range values {
		values[i] = make([]models.Value, n)
	}
	for i := 0; i < n; i++ {
		values[i][i] = models.Present(1)
		for j := i + 1; j < n; j++ {
			v := models.Missing()
			if varies[i] && varies[j] {
				r := stat.Correlation(act.Counts[i], act.Counts[j], nil)
				if !math.IsNaN(r) {
					v = models.Present(clamp(r))
				}
			}
			values[i][j] = v
			values[j][i] = v
		}
	}

	return &models.CorrelationMatrix{
		Entities: append([]string(nil), act.Entities...),
		Values:   values,
	}, true
}

func clamp(r float64) float64 {
	return math.Max(-1, math.Min(1, r))
}
