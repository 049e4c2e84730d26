package detect

import (
	"errors"
	"math"
	"testing"

	"github.com/ubaguard/ubaguard/internal/models"
)

// stubDetector returns fixed scores, optionally as binary labels.
type stubDetector struct {
	name   string
	scores []float64
	binary bool
	err    error
	ready  bool
}

func (s *stubDetector) Name() string { return s.name }
func (s *stubDetector) Ready() bool  { return s.ready }
func (s *stubDetector) Binary() bool { return s.binary }
func (s *stubDetector) Score(m [][]float64) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

func TestCombineWeighted(t *testing.T) {
	contribs := []WeightedScores{
		{Name: "isolation_forest", Weight: 0.6, Scores: []float64{0.8}},
		{Name: "autoencoder", Weight: 0.4, Scores: []float64{0.2}},
	}
	combined := CombineWeighted(1, contribs)

	want := 0.6*0.8 + 0.4*0.2 // 0.56
	if math.Abs(combined[0]-want) > 1e-9 {
		t.Errorf("combined = %v, want %v", combined[0], want)
	}
}

func TestCombineWeightedNormalizesWeights(t *testing.T) {
	// Weights that do not sum to 1 are normalized by their total.
	contribs := []WeightedScores{
		{Name: "a", Weight: 3, Scores: []float64{1.0}},
		{Name: "b", Weight: 1, Scores: []float64{0.0}},
	}
	combined := CombineWeighted(1, contribs)
	if math.Abs(combined[0]-0.75) > 1e-9 {
		t.Errorf("combined = %v, want 0.75", combined[0])
	}
}

func TestCombineWeightedNoContributors(t *testing.T) {
	combined := CombineWeighted(3, nil)
	for i, v := range combined {
		if v != 0 {
			t.Errorf("combined[%d] = %v, want 0", i, v)
		}
	}
}

func TestClassifyThresholds(t *testing.T) {
	e := NewEnsemble(NewRegistry(), DefaultEnsembleConfig(), nil)

	tests := []struct {
		score float64
		want  models.Severity
	}{
		{0.69, ""},
		{0.70, models.SeverityMedium}, // threshold is inclusive
		{0.89, models.SeverityMedium},
		{0.90, models.SeverityHigh}, // threshold is inclusive
		{1.0, models.SeverityHigh},
		{0.0, ""},
	}
	for _, tt := range tests {
		if got := e.Classify(tt.score); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestNormalizeMinMax(t *testing.T) {
	out := normalize([]float64{1, 2, 3}, false)
	if out[0] != 0 {
		t.Errorf("min should normalize to 0, got %v", out[0])
	}
	if out[2] < 0.99 || out[2] > 1 {
		t.Errorf("max should normalize to ~1, got %v", out[2])
	}
	if out[1] <= out[0] || out[1] >= out[2] {
		t.Errorf("middle value out of order: %v", out)
	}
}

func TestNormalizeConstantScores(t *testing.T) {
	out := normalize([]float64{0.5, 0.5, 0.5}, false)
	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("out[%d] = %v, want finite", i, v)
		}
	}
}

func TestNormalizeBinaryPassthrough(t *testing.T) {
	out := normalize([]float64{0, 1, 1, 0}, true)
	want := []float64{0, 1, 1, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestScoreBatchSkipsFailingDetector(t *testing.T) {
	registry := NewRegistry()
	registry.Register(0.6, &stubDetector{name: "broken", err: errors.New("boom"), ready: true})
	registry.Register(0.4, &stubDetector{name: "working", scores: []float64{1, 1, 1}, binary: true, ready: true})

	e := NewEnsemble(registry, DefaultEnsembleConfig(), nil)
	res := e.ScoreBatch([][]float64{{0}, {0}, {0}})

	if res.DetectorsUsed != 1 {
		t.Fatalf("detectors used = %d, want 1", res.DetectorsUsed)
	}
	// The working detector was the only contributor, so its labels pass
	// through at full weight.
	for i, v := range res.Combined {
		if v != 1 {
			t.Errorf("combined[%d] = %v, want 1", i, v)
		}
	}
	if len(res.Contributions[0]) != 1 || res.Contributions[0][0].Detector != "working" {
		t.Errorf("contributions = %+v, want only working", res.Contributions[0])
	}
}

func TestScoreBatchSkipsNotReady(t *testing.T) {
	registry := NewRegistry()
	registry.Register(1.0, &stubDetector{name: "untrained", scores: []float64{1}, ready: false})

	e := NewEnsemble(registry, DefaultEnsembleConfig(), nil)
	res := e.ScoreBatch([][]float64{{0}})

	if res.DetectorsUsed != 0 {
		t.Errorf("detectors used = %d, want 0", res.DetectorsUsed)
	}
	if res.Combined[0] != 0 {
		t.Errorf("combined = %v, want 0 with no signal", res.Combined[0])
	}
}

func TestScoreBatchMismatchedLength(t *testing.T) {
	registry := NewRegistry()
	registry.Register(1.0, &stubDetector{name: "short", scores: []float64{1}, ready: true})

	e := NewEnsemble(registry, DefaultEnsembleConfig(), nil)
	res := e.ScoreBatch([][]float64{{0}, {0}})

	if res.DetectorsUsed != 0 {
		t.Errorf("detectors used = %d, want 0", res.DetectorsUsed)
	}
}

func TestScoreBatchEmpty(t *testing.T) {
	e := NewEnsemble(NewRegistry(), DefaultEnsembleConfig(), nil)
	res := e.ScoreBatch(nil)
	if len(res.Combined) != 0 {
		t.Errorf("combined = %v, want empty", res.Combined)
	}
}
