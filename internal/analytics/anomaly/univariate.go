package anomaly

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kubilitics/kubilitics-loglens/internal/analytics/timeseries"
	"github.com/kubilitics/kubilitics-loglens/internal/models"
)

// Univariate defaults.
const (
	DefaultWindow    = 10
	DefaultThreshold = 3.0
)

// UnivariateScorer computes the moving average and global z-score of a
// single series.
type UnivariateScorer struct {
	Window    int
	Threshold float64
}

// NewUnivariateScorer returns a scorer, substituting defaults for
// non-positive arguments.
func NewUnivariateScorer(window int, threshold float64) *UnivariateScorer {
	if window <= 0 {
		window = DefaultWindow
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &UnivariateScorer{Window: window, Threshold: threshold}
}

// UnivariateResult holds the per-bucket outputs aligned with the input.
type UnivariateResult struct {
	MovingAverage []float64              `json:"moving_average"`
	ZScores       []float64              `json:"zscores"`
	Results       []models.AnomalyResult `json:"results"`
	Mean          float64                `json:"mean"`
	StdDev        float64                `json:"stddev"`
	Breaches      int                    `json:"breaches"`
}

// Score scores values, which must be aligned with instants.
func (s *UnivariateScorer) Score(instants []time.Time, values []float64) *UnivariateResult {
	mean, std := PopMeanStdDev(values)
	z := ZScores(values)

	res := &UnivariateResult{
		MovingAverage: timeseries.MovingAverage(values, s.Window),
		ZScores:       z,
		Results:       make([]models.AnomalyResult, len(values)),
		Mean:          mean,
		StdDev:        std,
	}
	for i := range values {
		breach := math.Abs(z[i]) >= s.Threshold
		if breach {
			res.Breaches++
		}
		var at time.Time
		if i < len(instants) {
			at = instants[i]
		}
		res.Results[i] = models.AnomalyResult{Instant: at, Score: z[i], IsBreach: breach}
	}
	return res
}

// PopMeanStdDev returns the mean and population standard deviation (divisor N)
// of values. An empty input yields zeros.
func PopMeanStdDev(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	if constant(values) {
		return values[0], 0
	}
	return stat.PopMeanStdDev(values, nil)
}

// ZScores returns (x - mean) / std for every value using population
// statistics over the whole input. When std is 0 every score is 0.
func ZScores(values []float64) []float64 {
	out := make([]float64, len(values))
	mean, std := PopMeanStdDev(values)
	if std == 0 || math.IsNaN(std) {
		return out
	}
	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}

func constant(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}
