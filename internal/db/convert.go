package db

import (
	"encoding/json"
	"fmt"

	"github.com/kubilitics/kubilitics-loglens/internal/analytics"
)

// RunFromReport builds the runs row of rep.
func RunFromReport(rep *analytics.Report) (*RunRecord, error) {
	rec := &RunRecord{
		ID:          rep.RunID,
		GeneratedAt: rep.GeneratedAt,
		Buckets:     rep.Inputs.Buckets,
		Events:      rep.Inputs.Events,
		Trimmed:     rep.Trim.Trimmed,
		DurationMs:  rep.Duration.Milliseconds(),
	}
	if u := rep.Univariate; u != nil {
		rec.Breaches = u.Breaches
		rec.Mean = u.Mean
		rec.StdDev = u.StdDev
	}
	features := []string{}
	if m := rep.Multivariate; m != nil {
		rec.Flagged = len(m.Flagged)
		features = m.Features
	}

	b, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("encode features: %w", err)
	}
	rec.Features = string(b)

	notices := rep.Notices
	if notices == nil {
		notices = []analytics.Notice{}
	}
	if b, err = json.Marshal(notices); err != nil {
		return nil, fmt.Errorf("encode notices: %w", err)
	}
	rec.Notices = string(b)
	return rec, nil
}

// AnomaliesFromReport flattens the univariate and multivariate results of rep.
func AnomaliesFromReport(rep *analytics.Report) []*AnomalyRecord {
	var out []*AnomalyRecord
	if u := rep.Univariate; u != nil {
		for _, r := range u.Results {
			out = append(out, &AnomalyRecord{
				RunID: rep.RunID, Detector: DetectorUnivariate,
				Instant: r.Instant, Score: r.Score, IsBreach: r.IsBreach,
			})
		}
	}
	if m := rep.Multivariate; m != nil {
		for _, r := range m.Results {
			out = append(out, &AnomalyRecord{
				RunID: rep.RunID, Detector: DetectorMultivariate,
				Instant: r.Instant, Score: r.Score, IsBreach: r.IsBreach,
			})
		}
	}
	return out
}

// CorrelationsFromReport returns the upper triangle of the correlation matrix.
func CorrelationsFromReport(rep *analytics.Report) []*CorrelationRecord {
	m := rep.Correlation
	if m == nil {
		return nil
	}
	var out []*CorrelationRecord
	for i := range m.Entities {
		for j := i + 1; j < len(m.Entities); j++ {
			a, b := m.Entities[i], m.Entities[j]
			v := m.Values[i][j]
			if b < a {
				a, b = b, a
			}
			coef, ok := v.Get()
			out = append(out, &CorrelationRecord{
				RunID: rep.RunID, EntityA: a, EntityB: b,
				Coefficient: coef, Valid: ok,
			})
		}
	}
	return out
}
