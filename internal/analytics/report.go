package analytics

import (
	"time"

	"github.com/kubilitics/kubilitics-loglens/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-loglens/internal/analytics/breakdown"
	"github.com/kubilitics/kubilitics-loglens/internal/analytics/timeseries"
	"github.com/kubilitics/kubilitics-loglens/internal/models"
)

// Series names added next to the aggregate columns.
const (
	MovingAverageSeries = "moving_average"
	ZScoreSeries        = "zscore"
)

// NoticeKind classifies a Notice.
type NoticeKind string

const (
	// NoticeInfo reports something worth knowing that changed no result.
	NoticeInfo NoticeKind = "info"
	// NoticeDegraded reports a stage that ran on reduced input.
	NoticeDegraded NoticeKind = "degraded"
	// NoticeSkipped reports a stage that produced no result.
	NoticeSkipped NoticeKind = "skipped"
)

// Notice is a recoverable condition met during a run.
type Notice struct {
	Stage   string     `json:"stage"`
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// StageTiming records how long one stage took.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
}

// InputSummary describes the two tables a run read.
type InputSummary struct {
	Columns        []string `json:"columns"`
	Buckets        int      `json:"buckets"`
	DroppedBuckets int      `json:"dropped_buckets"`
	Events         int      `json:"events"`
	DroppedEvents  int      `json:"dropped_events"`
	EventsAbsent   bool     `json:"events_absent"`
}

// Report is the complete output of one run. Optional sections are nil when
// the input did not support them; Notices say why.
type Report struct {
	RunID        string                      `json:"run_id"`
	GeneratedAt  time.Time                   `json:"generated_at"`
	Inputs       InputSummary                `json:"inputs"`
	Trim         timeseries.TrimResult       `json:"trim"`
	Series       []models.Series             `json:"series"`
	Univariate   *anomaly.UnivariateResult   `json:"univariate,omitempty"`
	Multivariate *anomaly.MultivariateResult `json:"multivariate,omitempty"`
	Correlation  *models.CorrelationMatrix   `json:"correlation,omitempty"`
	Breakdowns   *breakdown.Breakdowns       `json:"breakdowns,omitempty"`
	Statistics   *Statistics                 `json:"statistics,omitempty"`
	Trend        *Trend                      `json:"trend,omitempty"`
	Notices      []Notice                    `json:"notices"`
	Timings      []StageTiming               `json:"timings"`
	Duration     time.Duration               `json:"duration_ns"`
}

// SeriesByName returns the named series.
func (r *Report) SeriesByName(name string) (models.Series, bool) {
	for _, s := range r.Series {
		if s.Name == name {
			return s, true
		}
	}
	return models.Series{}, false
}

// NoticesFor returns the notices recorded by stage.
func (r *Report) NoticesFor(stage string) []Notice {
	var out []Notice
	for _, n := range r.Notices {
		if n.Stage == stage {
			out = append(out, n)
		}
	}
	return out
}

// Flagged returns the multivariate results marked as headline anomalies,
// highest score last.
func (r *Report) Flagged() []models.AnomalyResult {
	if r.Multivariate == nil {
		return nil
	}
	out := make([]models.AnomalyResult, 0, len(r.Multivariate.Flagged))
	for _, i := range r.Multivariate.Flagged {
		out = append(out, r.Multivariate.Results[i])
	}
	return out
}
