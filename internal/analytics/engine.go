package analytics

// Package analytics runs a complete loglens analysis: it reconciles the two
// input tables, builds the presentation series, scores anomalies, correlates
// sources and collects the categorical breakdowns into a single Report.
//
// Statistical Methods Used:
//   1. Z-Score Analysis: global population z-score over total volume
//   2. Moving Averages: trailing mean, min-periods 1
//   3. Percentiles: p50, p95, p99 with linear interpolation
//   4. Linear Regression: recent volume trend slope and R²
//   5. Isolation Forest: multivariate per-minute outlier score
//   6. Pearson Correlation: per-minute activity between sources
//
// Integration Points:
//   - dataset: reads and normalises the aggregate and event tables
//   - timeseries, anomaly, ml, correlation, breakdown: the analysis stages
//   - report, db, metrics: sinks for the finished Report

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kubilitics/kubilitics-loglens/internal/analytics/anomaly"
)

// DefaultTrendWindow is the number of most recent buckets used for the trend.
const DefaultTrendWindow = 50

// ErrInsufficientData is returned when a computation needs more points.
var ErrInsufficientData = errors.New("insufficient data")

// Trend represents a statistical trend in data
type Trend struct {
	Direction   string    `json:"direction"` // increasing, decreasing, stable
	Slope       float64   `json:"slope"`     // change per bucket
	Intercept   float64   `json:"intercept"`
	RSquared    float64   `json:"r_squared"` // Goodness of fit
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Description string    `json:"description"`
}

// Statistics represents statistical measures of a dataset
type Statistics struct {
	Mean               float64 `json:"mean"`
	Median             float64 `json:"median"`
	StdDev             float64 `json:"std_dev"` // population
	Min                float64 `json:"min"`
	Max                float64 `json:"max"`
	P50                float64 `json:"p50"`
	P95                float64 `json:"p95"`
	P99                float64 `json:"p99"`
	CoefficientOfVar   float64 `json:"coefficient_of_variation"`
	InterquartileRange float64 `json:"iqr"`
	Count              int     `json:"count"`
}

// Engine computes descriptive statistics and trends over a series.
type Engine struct {
	trendAnalysisWindow int
}

// NewEngine creates a new analytics engine; trendWindow <= 0 selects
// DefaultTrendWindow.
func NewEngine(trendWindow int) *Engine {
	if trendWindow <= 0 {
		trendWindow = DefaultTrendWindow
	}
	return &Engine{trendAnalysisWindow: trendWindow}
}

// CalculateStatistics returns descriptive statistics for values.
func (e *Engine) CalculateStatistics(values []float64) (*Statistics, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("calculate statistics: %w", ErrInsufficientData)
	}

	sortedValues := make([]float64, len(values))
	copy(sortedValues, values)
	sort.Float64s(sortedValues)

	mean, stdDev := anomaly.PopMeanStdDev(values)

	p50 := e.percentile(sortedValues, 50)
	p95 := e.percentile(sortedValues, 95)
	p99 := e.percentile(sortedValues, 99)

	q1 := e.percentile(sortedValues, 25)
	q3 := e.percentile(sortedValues, 75)

	cv := 0.0
	if mean != 0 {
		cv = stdDev / math.Abs(mean)
	}

	return &Statistics{
		Mean:               mean,
		Median:             p50,
		StdDev:             stdDev,
		Min:                sortedValues[0],
		Max:                sortedValues[len(sortedValues)-1],
		P50:                p50,
		P95:                p95,
		P99:                p99,
		CoefficientOfVar:   cv,
		InterquartileRange: q3 - q1,
		Count:              len(values),
	}, nil
}

// AnalyzeTrend fits a least-squares line over the most recent buckets.
// instants and values must be aligned.
func (e *Engine) AnalyzeTrend(instants []time.Time, values []float64) (*Trend, error) {
	if len(values) < 2 || len(instants) != len(values) {
		return nil, fmt.Errorf("analyze trend: need at least 2 aligned points: %w", ErrInsufficientData)
	}

	start := 0
	if len(values) > e.trendAnalysisWindow {
		start = len(values) - e.trendAnalysisWindow
	}
	ys := values[start:]
	xs := make([]float64, len(ys))
	for i := range xs {
		xs[i] = float64(i)
	}

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)

	// A flat window is fitted exactly.
	rSquared := 1.0
	if _, std := anomaly.PopMeanStdDev(ys); std > 0 {
		rSquared = stat.RSquared(xs, ys, nil, intercept, slope)
	}

	direction := "stable"
	if math.Abs(slope) > 0.01 { // Threshold for considering trend significant
		if slope > 0 {
			direction = "increasing"
		} else {
			direction = "decreasing"
		}
	}

	return &Trend{
		Direction: direction,
		Slope:     slope,
		Intercept: intercept,
		RSquared:  rSquared,
		StartTime: instants[start],
		EndTime:   instants[len(instants)-1],
		Description: fmt.Sprintf("Volume is %s with slope %.4f per minute (R²=%.3f)",
			direction, slope, rSquared),
	}, nil
}

// percentile calculates the nth percentile of sorted data
func (e *Engine) percentile(sortedData []float64, p int) float64 {
	if len(sortedData) == 0 {
		return 0
	}
	if len(sortedData) == 1 {
		return sortedData[0]
	}

	rank := float64(p) / 100.0 * float64(len(sortedData)-1)
	lowerIndex := int(math.Floor(rank))
	upperIndex := int(math.Ceil(rank))

	if lowerIndex == upperIndex {
		return sortedData[lowerIndex]
	}

	// Linear interpolation
	weight := rank - float64(lowerIndex)
	return sortedData[lowerIndex]*(1-weight) + sortedData[upperIndex]*weight
}
