package detect

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ReconstructionConfig configures the reconstruction-error detector.
type ReconstructionConfig struct {
	Contamination float64 // expected anomaly fraction for the trained threshold (default: 0.1)
	MinTrainRows  int     // minimum rows before the detector reports ready (default: 32)
}

// DefaultReconstructionConfig returns sensible defaults.
func DefaultReconstructionConfig() ReconstructionConfig {
	return ReconstructionConfig{
		Contamination: 0.1,
		MinTrainRows:  32,
	}
}

// ReconstructionDetector is the reconstruction-error detector adapter. It
// learns the per-feature center and spread of normal behavior; an event's
// score grows with its distance from that learned profile.
type ReconstructionDetector struct {
	cfg ReconstructionConfig

	mu        sync.RWMutex
	mean      []float64
	std       []float64
	threshold float64
	fitted    bool
}

// NewReconstructionDetector creates an untrained detector.
func NewReconstructionDetector(cfg ReconstructionConfig) *ReconstructionDetector {
	if cfg.Contamination <= 0 || cfg.Contamination >= 1 {
		cfg.Contamination = 0.1
	}
	if cfg.MinTrainRows <= 0 {
		cfg.MinTrainRows = 32
	}
	return &ReconstructionDetector{cfg: cfg}
}

// Name returns "autoencoder".
func (d *ReconstructionDetector) Name() string { return "autoencoder" }

// Ready reports whether the detector has been fitted.
func (d *ReconstructionDetector) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fitted
}

// Fit learns the per-feature profile from a historical feature matrix.
func (d *ReconstructionDetector) Fit(m [][]float64) error {
	if len(m) < d.cfg.MinTrainRows {
		return fmt.Errorf("need at least %d rows to fit, got %d", d.cfg.MinTrainRows, len(m))
	}

	mean := make([]float64, NumFeatures)
	for _, row := range m {
		if len(row) != NumFeatures {
			return fmt.Errorf("row has %d features, want %d", len(row), NumFeatures)
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(m))
	for j := range mean {
		mean[j] /= n
	}

	std := make([]float64, NumFeatures)
	for _, row := range m {
		for j, v := range row {
			diff := v - mean[j]
			std[j] += diff * diff
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
		if std[j] < 1e-8 {
			std[j] = 1e-8
		}
	}

	// Trained threshold from the training error distribution.
	errs := make([]float64, len(m))
	for i, row := range m {
		errs[i] = reconstructionError(row, mean, std)
	}
	sorted := append([]float64(nil), errs...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * (1 - d.cfg.Contamination))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	threshold := sorted[idx]

	d.mu.Lock()
	d.mean = mean
	d.std = std
	d.threshold = threshold
	d.fitted = true
	d.mu.Unlock()
	return nil
}

// Score returns one anomaly score in [0, 1) per row.
func (d *ReconstructionDetector) Score(m [][]float64) ([]float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.fitted {
		return nil, errors.New("reconstruction detector is not trained")
	}

	out := make([]float64, len(m))
	for i, row := range m {
		if len(row) != NumFeatures {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), NumFeatures)
		}
		out[i] = reconstructionError(row, d.mean, d.std)
	}
	return out, nil
}

// Detect returns scores plus the indices exceeding the trained threshold.
func (d *ReconstructionDetector) Detect(m [][]float64) (*Detection, error) {
	scores, err := d.Score(m)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	threshold := d.threshold
	d.mu.RUnlock()

	var anomalous []int
	for i, s := range scores {
		if s >= threshold {
			anomalous = append(anomalous, i)
		}
	}
	return &Detection{Scores: scores, AnomalyIndices: anomalous, Threshold: threshold}, nil
}

// reconstructionError is the mean squared normalized deviation squashed
// into [0, 1).
func reconstructionError(row, mean, std []float64) float64 {
	sum := 0.0
	for j, v := range row {
		z := (v - mean[j]) / std[j]
		sum += z * z
	}
	mse := sum / float64(len(row))
	return mse / (1 + mse)
}
