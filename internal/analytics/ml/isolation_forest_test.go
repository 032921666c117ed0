package ml

import (
	"context"
	"errors"
	"math"
	"testing"
)

// clusterWithOutlier returns n points around (1, 2) followed by one point far away.
func clusterWithOutlier(n int) [][]float64 {
	X := make([][]float64, 0, n+1)
	for i := 0; i < n; i++ {
		jitter := float64(i%7-3) * 0.05
		X = append(X, []float64{1.0 + jitter, 2.0 - jitter})
	}
	return append(X, []float64{10.0, 20.0})
}

func TestIsolationForest_Basic(t *testing.T) {
	X := clusterWithOutlier(60)

	forest := NewIsolationForest(DefaultConfig())
	scores, err := forest.FitScore(context.Background(), X)
	if err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}
	if len(scores) != len(X) {
		t.Fatalf("Expected %d scores, got %d", len(X), len(scores))
	}
	if forest.NumTrees() != DefaultNumTrees {
		t.Errorf("Expected %d trees, got %d", DefaultNumTrees, forest.NumTrees())
	}

	outlier := scores[len(scores)-1]
	for i, s := range scores[:len(scores)-1] {
		if s >= outlier {
			t.Errorf("Point %d score (%f) should be lower than outlier score (%f)", i, s, outlier)
		}
	}
	if outlier <= 0 {
		t.Errorf("Outlier should score above the neutral point, got %f", outlier)
	}
}

func TestIsolationForest_SingleDimension(t *testing.T) {
	X := [][]float64{{1.0}, {2.0}, {1.5}, {2.5}, {1.8}, {100.0}}

	forest := NewIsolationForest(Config{NumTrees: 50, Seed: 7})
	scores, err := forest.FitScore(context.Background(), X)
	if err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	if scores[5] <= scores[1] {
		t.Errorf("Outlier score (%f) should be higher than normal score (%f)", scores[5], scores[1])
	}
}

func TestIsolationForest_DeterministicAcrossWorkers(t *testing.T) {
	X := clusterWithOutlier(300)

	serial := NewIsolationForest(Config{Seed: 42, Workers: 1})
	parallel := NewIsolationForest(Config{Seed: 42, Workers: 8})

	a, err := serial.FitScore(context.Background(), X)
	if err != nil {
		t.Fatalf("serial fit: %v", err)
	}
	b, err := parallel.FitScore(context.Background(), X)
	if err != nil {
		t.Fatalf("parallel fit: %v", err)
	}

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("score %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestIsolationForest_EmptyData(t *testing.T) {
	forest := NewIsolationForest(DefaultConfig())

	scores, err := forest.FitScore(context.Background(), nil)
	if err != nil {
		t.Errorf("FitScore with empty data should not error: %v", err)
	}
	if len(scores) != 0 {
		t.Errorf("Expected no scores, got %d", len(scores))
	}

	// An untrained forest scores everything as neutral.
	raw, err := forest.ScoreSamples([][]float64{{1.0}})
	if err != nil {
		t.Fatalf("ScoreSamples: %v", err)
	}
	if raw[0] != 0.5 {
		t.Errorf("Expected 0.5, got %f", raw[0])
	}
}

func TestIsolationForest_IdenticalPoints(t *testing.T) {
	X := [][]float64{{1.0, 1.0}, {1.0, 1.0}, {1.0, 1.0}}

	scores, err := NewIsolationForest(DefaultConfig()).FitScore(context.Background(), X)
	if err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}
	for i, s := range scores {
		if math.Abs(s) > 1e-12 {
			t.Errorf("Identical point %d should score 0, got %f", i, s)
		}
	}
}

func TestIsolationForest_SingleRow(t *testing.T) {
	scores, err := NewIsolationForest(DefaultConfig()).FitScore(context.Background(), [][]float64{{3, 4}})
	if err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}
	if len(scores) != 1 || scores[0] != 0 {
		t.Errorf("Expected single neutral score, got %v", scores)
	}
}

func TestIsolationForest_RaggedMatrix(t *testing.T) {
	X := [][]float64{{1, 2}, {3}}
	_, err := NewIsolationForest(DefaultConfig()).FitScore(context.Background(), X)
	if !errors.Is(err, ErrRaggedMatrix) {
		t.Errorf("Expected ErrRaggedMatrix, got %v", err)
	}
}

func TestIsolationForest_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewIsolationForest(DefaultConfig()).FitScore(ctx, clusterWithOutlier(10))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestIsolationForest_AveragePathLength(t *testing.T) {
	tests := []struct {
		n        int
		expected float64
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{10, 3.7488},
		{256, 10.2448},
	}

	for _, tt := range tests {
		result := averagePathLength(tt.n)
		if math.Abs(result-tt.expected) > 1e-3 {
			t.Errorf("averagePathLength(%d) = %f, expected %f", tt.n, result, tt.expected)
		}
	}
}

func BenchmarkIsolationForest_FitScore(b *testing.B) {
	X := make([][]float64, 1000)
	for i := range X {
		X[i] = []float64{float64(i % 100), float64((i * 2) % 100)}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		forest := NewIsolationForest(DefaultConfig())
		if _, err := forest.FitScore(context.Background(), X); err != nil {
			b.Fatal(err)
		}
	}
}
