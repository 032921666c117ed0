package timeseries

import (
	"time"

	"github.com/kubilitics/kubilitics-loglens/internal/models"
)

// BreakGaps inserts a Missing point one minute after every observed point that
// is followed by a silence longer than maxGap. Series of length <= 1 are
// returned unchanged.
//
// Spacing is measured between observed points, and a silence that already
// holds a gap marker is left alone, so BreakGaps(BreakGaps(s)) == BreakGaps(s).
// A maxGap under one minute is raised to one minute, so a marker always falls
// strictly between the points around it.
func BreakGaps(series models.Series, maxGap time.Duration) models.Series {
	if series.Len() <= 1 {
		return series
	}
	if maxGap < time.Minute {
		maxGap = time.Minute
	}

	out := models.Series{
		Name:   series.Name,
		Points: make([]models.Point, 0, series.Len()+series.Len()/4),
	}

	var prev time.Time
	havePrev := false
	marked := false
	for _, p := range series.Points {
		if p.Value.IsMissing() {
			out.Points = append(out.Points, p)
			marked = true
			continue
		}
		if havePrev && !marked && p.Instant.Sub(prev) > maxGap {
			out.Points = append(out.Points, models.Point{
				Instant: prev.Add(time.Minute),
				Value:   models.Missing(),
			})
		}
		out.Points = append(out.Points, p)
		prev = p.Instant
		havePrev = true
		marked = false
	}
	return out
}
