package anomaly

// Package anomaly scores per-minute buckets for unusual activity.
//
// Two scorers are provided:
//
//   1. Univariate (UnivariateScorer)
//      - Trailing moving average over the total-volume series
//      - Global population z-score: z = (x - mean) / stddev, divisor N
//      - A bucket breaches when |z| >= threshold (3.0 by default)
//      - A constant series scores 0 everywhere
//
//   2. Multivariate (MultivariateScorer)
//      - Feature vector per bucket: volume, per-level counts, and the number
//        of distinct sources and network addresses seen in that minute
//      - Scored by an ensemble outlier model behind OutlierModel
//      - Higher score = more anomalous; the top fraction is flagged
//
// The outlier model is optional. When it reports ErrModelUnavailable the
// caller skips the multivariate stage and records a notice; the rest of the
// run is unaffected.

import (
	"context"
	"errors"
	"fmt"
)

// ErrModelUnavailable is returned by an OutlierModel that cannot run in this
// environment.
var ErrModelUnavailable = errors.New("outlier detection model unavailable")

// OutlierModel fits on a feature matrix and scores every row of the same
// matrix. Rows are buckets, columns are features. Higher = more anomalous.
type OutlierModel interface {
	FitScore(ctx context.Context, X [][]float64) ([]float64, error)
}

// UnavailableModel is the OutlierModel used when multivariate scoring is
// disabled or cannot be provided.
type UnavailableModel struct {
	Reason string
}

// FitScore always fails with ErrModelUnavailable.
func (m UnavailableModel) FitScore(context.Context, [][]float64) ([]float64, error) {
	if m.Reason == "" {
		return nil, ErrModelUnavailable
	}
	return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, m.Reason)
}
