package timeseries

// Package timeseries shapes the per-minute aggregate table into the numeric
// series handed to the presentation layer.
//
// Responsibilities:
//   - Drop a final minute bucket that the raw event log only partly covers
//   - Break series at long silences with explicit gap markers so a line
//     renderer never draws across a period with no data
//   - Rolling-window smoothing (moving average with min-periods 1)
//
// Every function here is a pure transform: inputs are never modified and a
// new slice is returned.

import (
	"time"

	"github.com/kubilitics/kubilitics-loglens/internal/dataset"
	"github.com/kubilitics/kubilitics-loglens/internal/models"
)

// DefaultMaxGap is the largest spacing between two buckets that is still
// drawn as a continuous line.
const DefaultMaxGap = 10 * time.Minute

// Builder turns aggregate columns into gap-broken named series.
type Builder struct {
	MaxGap time.Duration
}

// NewBuilder returns a Builder using maxGap, or DefaultMaxGap when maxGap <= 0.
// Positive values under one minute are raised to one minute.
func NewBuilder(maxGap time.Duration) *Builder {
	switch {
	case maxGap <= 0:
		maxGap = DefaultMaxGap
	case maxGap < time.Minute:
		maxGap = time.Minute
	}
	return &Builder{MaxGap: maxGap}
}

// Column builds the gap-broken series for a single aggregate column.
func (b *Builder) Column(tbl *dataset.AggregateTable, column string) models.Series {
	return b.Values(column, tbl.Instants(), tbl.Column(column))
}

// Values builds a gap-broken series from values aligned with instants.
func (b *Builder) Values(name string, instants []time.Time, values []float64) models.Series {
	return BreakGaps(models.NewSeries(name, instants, values), b.MaxGap)
}

// Volume builds the total series followed by one series per known level
// column the table carries.
func (b *Builder) Volume(tbl *dataset.AggregateTable) []models.Series {
	var out []models.Series
	if tbl.HasColumn(models.TotalColumn) {
		out = append(out, b.Column(tbl, models.TotalColumn))
	}
	for _, level := range models.KnownLevels {
		if tbl.HasColumn(level) {
			out = append(out, b.Column(tbl, level))
		}
	}
	return out
}
