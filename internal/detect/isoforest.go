package detect

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// IsolationForestConfig configures the tree-ensemble detector.
type IsolationForestConfig struct {
	Trees         int     // number of trees (default: 64)
	SubsampleSize int     // samples per tree (default: 256)
	Contamination float64 // expected anomaly fraction for the trained threshold (default: 0.1)
	Seed          int64   // RNG seed; scoring is deterministic given the fit
	MinTrainRows  int     // minimum rows before the detector reports ready (default: 32)
}

// DefaultIsolationForestConfig returns sensible defaults.
func DefaultIsolationForestConfig() IsolationForestConfig {
	return IsolationForestConfig{
		Trees:         64,
		SubsampleSize: 256,
		Contamination: 0.1,
		Seed:          1,
		MinTrainRows:  32,
	}
}

// IsolationForest is the tree-ensemble detector adapter. Points that are
// isolated in few random splits receive scores near 1; dense normal points
// score near 0.
type IsolationForest struct {
	cfg IsolationForestConfig

	mu        sync.RWMutex
	trees     []*isoNode
	avgPath   float64 // c(subsample) normalization term
	threshold float64
	fitted    bool
}

type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int
}

// NewIsolationForest creates an untrained detector.
func NewIsolationForest(cfg IsolationForestConfig) *IsolationForest {
	if cfg.Trees <= 0 {
		cfg.Trees = 64
	}
	if cfg.SubsampleSize <= 0 {
		cfg.SubsampleSize = 256
	}
	if cfg.Contamination <= 0 || cfg.Contamination >= 1 {
		cfg.Contamination = 0.1
	}
	if cfg.MinTrainRows <= 0 {
		cfg.MinTrainRows = 32
	}
	return &IsolationForest{cfg: cfg}
}

// Name returns "isolation_forest".
func (f *IsolationForest) Name() string { return "isolation_forest" }

// Ready reports whether the forest has been fitted.
func (f *IsolationForest) Ready() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fitted
}

// Fit builds the forest from a historical feature matrix.
func (f *IsolationForest) Fit(m [][]float64) error {
	if len(m) < f.cfg.MinTrainRows {
		return fmt.Errorf("need at least %d rows to fit, got %d", f.cfg.MinTrainRows, len(m))
	}

	rng := rand.New(rand.NewSource(f.cfg.Seed))

	psi := f.cfg.SubsampleSize
	if psi > len(m) {
		psi = len(m)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(psi))))

	trees := make([]*isoNode, f.cfg.Trees)
	for i := range trees {
		sample := make([][]float64, psi)
		for j := range sample {
			sample[j] = m[rng.Intn(len(m))]
		}
		trees[i] = buildIsoTree(sample, 0, maxDepth, rng)
	}

	avgPath := averagePathLength(psi)

	// Trained decision threshold: the (1 - contamination) quantile of the
	// training scores.
	scores := make([]float64, len(m))
	for i, row := range m {
		scores[i] = isoScore(trees, avgPath, row)
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * (1 - f.cfg.Contamination))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	threshold := sorted[idx]

	f.mu.Lock()
	f.trees = trees
	f.avgPath = avgPath
	f.threshold = threshold
	f.fitted = true
	f.mu.Unlock()
	return nil
}

// Score returns one anomaly score in (0, 1) per row.
func (f *IsolationForest) Score(m [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.fitted {
		return nil, errors.New("isolation forest is not trained")
	}

	out := make([]float64, len(m))
	for i, row := range m {
		if len(row) != NumFeatures {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), NumFeatures)
		}
		out[i] = isoScore(f.trees, f.avgPath, row)
	}
	return out, nil
}

// Detect returns scores plus the indices exceeding the trained threshold.
func (f *IsolationForest) Detect(m [][]float64) (*Detection, error) {
	scores, err := f.Score(m)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	threshold := f.threshold
	f.mu.RUnlock()

	var anomalous []int
	for i, s := range scores {
		if s >= threshold {
			anomalous = append(anomalous, i)
		}
	}
	return &Detection{Scores: scores, AnomalyIndices: anomalous, Threshold: threshold}, nil
}

func buildIsoTree(sample [][]float64, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if depth >= maxDepth || len(sample) <= 1 {
		return &isoNode{size: len(sample)}
	}

	feature := rng.Intn(NumFeatures)
	lo, hi := sample[0][feature], sample[0][feature]
	for _, row := range sample[1:] {
		if row[feature] < lo {
			lo = row[feature]
		}
		if row[feature] > hi {
			hi = row[feature]
		}
	}
	if hi == lo {
		return &isoNode{size: len(sample)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, row := range sample {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &isoNode{
		feature: feature,
		split:   split,
		left:    buildIsoTree(left, depth+1, maxDepth, rng),
		right:   buildIsoTree(right, depth+1, maxDepth, rng),
		size:    len(sample),
	}
}

func pathLength(n *isoNode, row []float64, depth float64) float64 {
	if n.left == nil && n.right == nil {
		return depth + averagePathLength(n.size)
	}
	if row[n.feature] < n.split {
		return pathLength(n.left, row, depth+1)
	}
	return pathLength(n.right, row, depth+1)
}

func isoScore(trees []*isoNode, avgPath float64, row []float64) float64 {
	total := 0.0
	for _, t := range trees {
		total += pathLength(t, row, 0)
	}
	mean := total / float64(len(trees))
	return math.Pow(2, -mean/avgPath)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// BST search over n points.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
}
