package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Defaults match the usual isolation forest setup: 200 trees, 256 samples.
const (
	DefaultNumTrees   = 200
	DefaultMaxSamples = 256
	DefaultSeed       = 42
)

// ErrRaggedMatrix is returned when the rows of a feature matrix differ in width.
var ErrRaggedMatrix = errors.New("feature matrix rows have different lengths")

// IsolationTree represents a single tree in the Isolation Forest
type IsolationTree struct {
	splitFeature int
	splitValue   float64
	left         *IsolationTree
	right        *IsolationTree
	size         int
	isLeaf       bool
}

// Config configures an IsolationForest.
type Config struct {
	NumTrees   int
	MaxSamples int   // per-tree sample size, capped at the number of rows
	Seed       int64 // same seed and data give bit-identical scores
	Workers    int   // concurrent tree builders; <= 0 means GOMAXPROCS
}

// DefaultConfig returns the stock forest configuration.
func DefaultConfig() Config {
	return Config{
		NumTrees:   DefaultNumTrees,
		MaxSamples: DefaultMaxSamples,
		Seed:       DefaultSeed,
	}
}

// IsolationForest implements the Isolation Forest algorithm for anomaly detection
type IsolationForest struct {
	trees      []*IsolationTree
	cfg        Config
	sampleSize int
	maxDepth   int
	numFeat    int
}

// NewIsolationForest creates a new Isolation Forest; zero fields of cfg take
// their defaults.
func NewIsolationForest(cfg Config) *IsolationForest {
	if cfg.NumTrees <= 0 {
		cfg.NumTrees = DefaultNumTrees
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultMaxSamples
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &IsolationForest{cfg: cfg}
}

// Fit trains the Isolation Forest on X (rows are samples). Trees are built
// concurrently; each tree draws from its own source seeded from
// (Seed, tree index) so the result does not depend on scheduling.
func (f *IsolationForest) Fit(ctx context.Context, X [][]float64) error {
	f.trees = nil
	if len(X) == 0 {
		return nil
	}
	numFeat := len(X[0])
	for _, row := range X {
		if len(row) != numFeat {
			return ErrRaggedMatrix
		}
	}

	f.numFeat = numFeat
	f.sampleSize = f.cfg.MaxSamples
	if f.sampleSize > len(X) {
		f.sampleSize = len(X)
	}
	f.maxDepth = int(math.Ceil(math.Log2(math.Max(float64(f.sampleSize), 2))))

	trees := make([]*IsolationTree, f.cfg.NumTrees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Workers)
	for i := range trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b := &treeBuilder{
				X:        X,
				rng:      rand.New(rand.NewSource(treeSeed(f.cfg.Seed, i))),
				maxDepth: f.maxDepth,
			}
			sample := b.rng.Perm(len(X))[:f.sampleSize]
			trees[i] = b.build(sample, 0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("build isolation trees: %w", err)
	}
	f.trees = trees
	return nil
}

// ScoreSamples returns the isolation score 2^(-E[h(x)]/c(n)) of every row,
// in (0, 1]. Higher = more anomalous; 0.5 is the neutral point.
func (f *IsolationForest) ScoreSamples(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	if len(f.trees) == 0 {
		for i := range out {
			out[i] = 0.5
		}
		return out, nil
	}

	c := averagePathLength(f.sampleSize)
	for i, row := range X {
		if len(row) != f.numFeat {
			return nil, ErrRaggedMatrix
		}
		// Summed in tree order so the float result is reproducible.
		total := 0.0
		for _, tree := range f.trees {
			total += pathLength(tree, row, 0)
		}
		avg := total / float64(len(f.trees))
		if c <= 0 {
			out[i] = 0.5
			continue
		}
		out[i] = math.Pow(2, -avg/c)
	}
	return out, nil
}

// FitScore fits on X and returns one anomaly score per row, centred so that
// 0 is neutral and higher is more anomalous.
func (f *IsolationForest) FitScore(ctx context.Context, X [][]float64) ([]float64, error) {
	if err := f.Fit(ctx, X); err != nil {
		return nil, err
	}
	scores, err := f.ScoreSamples(X)
	if err != nil {
		return nil, err
	}
	for i := range scores {
		scores[i] -= 0.5
	}
	return scores, nil
}

// NumTrees reports how many trees the last Fit built.
func (f *IsolationForest) NumTrees() int {
	return len(f.trees)
}

// treeSeed derives a per-tree seed with a splitmix64 step.
func treeSeed(seed int64, index int) int64 {
	z := uint64(seed) + uint64(index+1)*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return int64(z ^ (z >> 31))
}

// treeBuilder holds the state for building one tree.
type treeBuilder struct {
	X        [][]float64
	rng      *rand.Rand
	maxDepth int
}

// build recursively builds an isolation tree over the row indices in idx
func (b *treeBuilder) build(idx []int, depth int) *IsolationTree {
	if len(idx) <= 1 || depth >= b.maxDepth {
		return &IsolationTree{size: len(idx), isLeaf: true}
	}

	// Only features that still vary inside this node can split it.
	var candidates []int
	for feat := range b.X[idx[0]] {
		lo, hi := b.featureRange(idx, feat)
		if hi > lo {
			candidates = append(candidates, feat)
		}
	}
	if len(candidates) == 0 {
		return &IsolationTree{size: len(idx), isLeaf: true}
	}

	feat := candidates[b.rng.Intn(len(candidates))]
	lo, hi := b.featureRange(idx, feat)
	split := lo + b.rng.Float64()*(hi-lo)

	// split is in [lo, hi) so both sides are non-empty.
	var left, right []int
	for _, i := range idx {
		if b.X[i][feat] <= split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &IsolationTree{
		splitFeature: feat,
		splitValue:   split,
		left:         b.build(left, depth+1),
		right:        b.build(right, depth+1),
		size:         len(idx),
	}
}

// featureRange gets min and max values for a feature
func (b *treeBuilder) featureRange(idx []int, feat int) (float64, float64) {
	lo := b.X[idx[0]][feat]
	hi := lo
	for _, i := range idx[1:] {
		v := b.X[i][feat]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// pathLength calculates the path length for a data point in a tree
func pathLength(tree *IsolationTree, point []float64, depth int) float64 {
	for !tree.isLeaf {
		if point[tree.splitFeature] <= tree.splitValue {
			tree = tree.left
		} else {
			tree = tree.right
		}
		depth++
	}
	// Add average path length for remaining points in leaf
	return float64(depth) + averagePathLength(tree.size)
}

// averagePathLength calculates the average path length of unsuccessful search in BST
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	// c(n) = 2H(n-1) - (2(n-1)/n)
	return 2*harmonicNumber(n-1) - (2 * float64(n-1) / float64(n))
}

// harmonicNumber approximates the nth harmonic number
func harmonicNumber(n int) float64 {
	// H(n) ≈ ln(n) + 0.5772156649 (Euler-Mascheroni constant)
	return math.Log(float64(n)) + 0.5772156649
}
