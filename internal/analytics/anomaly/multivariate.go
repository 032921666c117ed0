package anomaly

import (
	"context"
	"fmt"
	"sort"

	"github.com/kubilitics/kubilitics-loglens/internal/dataset"
	"github.com/kubilitics/kubilitics-loglens/internal/models"
)

// DefaultTopFraction is the share of buckets flagged as headline anomalies.
const DefaultTopFraction = 0.01

// MultivariateScorer scores buckets on a feature vector with an OutlierModel.
type MultivariateScorer struct {
	Model       OutlierModel
	Candidates  []string
	TopFraction float64
}

// NewMultivariateScorer returns a scorer over DefaultFeatureColumns.
func NewMultivariateScorer(model OutlierModel) *MultivariateScorer {
	return &MultivariateScorer{
		Model:       model,
		Candidates:  DefaultFeatureColumns,
		TopFraction: DefaultTopFraction,
	}
}

// MultivariateResult holds one result per bucket; IsBreach marks the top
// fraction by score.
type MultivariateResult struct {
	Features []string               `json:"features"`
	Degraded bool                   `json:"degraded"`
	Results  []models.AnomalyResult `json:"results"`
	Flagged  []int                  `json:"flagged"` // indices into Results, highest score last
}

// Score builds the feature matrix and scores it. It returns (nil, nil) when
// no feature column exists or there are no buckets. A model that cannot run
// yields an error wrapping ErrModelUnavailable.
func (s *MultivariateScorer) Score(ctx context.Context, agg *dataset.AggregateTable, events *dataset.EventTable) (*MultivariateResult, error) {
	if len(agg.Buckets) == 0 {
		return nil, nil
	}
	ft := BuildFeatures(agg, events)
	candidates := s.Candidates
	if len(candidates) == 0 {
		candidates = DefaultFeatureColumns
	}
	sel := SelectFeatures(ft, candidates)
	if len(sel.Columns) == 0 {
		return nil, nil
	}

	model := s.Model
	if model == nil {
		model = UnavailableModel{}
	}
	scores, err := model.FitScore(ctx, ft.Matrix(sel.Columns))
	if err != nil {
		return nil, fmt.Errorf("fit outlier model: %w", err)
	}
	if len(scores) != len(ft.Instants) {
		return nil, fmt.Errorf("outlier model returned %d scores for %d buckets", len(scores), len(ft.Instants))
	}

	res := &MultivariateResult{
		Features: sel.Columns,
		Degraded: sel.Degraded,
		Results:  make([]models.AnomalyResult, len(scores)),
	}
	for i, sc := range scores {
		res.Results[i] = models.AnomalyResult{Instant: ft.Instants[i], Score: sc}
	}
	res.Flagged = TopIndices(scores, s.TopFraction)
	for _, i := range res.Flagged {
		res.Results[i].IsBreach = true
	}
	return res, nil
}

// TopIndices returns the indices of the max(1, int(fraction*n)) highest
// scores, ordered by ascending score. Equal scores keep their index order.
func TopIndices(scores []float64, fraction float64) []int {
	n := len(scores)
	if n == 0 {
		return nil
	}
	if fraction <= 0 {
		fraction = DefaultTopFraction
	}
	k := int(fraction * float64(n))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] < scores[idx[b]]
	})
	return idx[n-k:]
}
