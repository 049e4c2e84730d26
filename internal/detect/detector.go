// Package detect implements the anomaly detector contract, the feature
// derivation used by every detector, and the weighted ensemble that combines
// detector signals into one score per event.
package detect

import (
	"fmt"
	"sync"
)

// Detector produces a per-event anomaly signal over a feature matrix.
// Implementations may fail independently; the ensemble drops a failing
// detector for that batch only.
type Detector interface {
	// Name returns a stable identifier used in detection details.
	Name() string
	// Ready reports whether the detector is trained and able to score.
	Ready() bool
	// Score returns one raw anomaly signal per row of the matrix.
	Score(m [][]float64) ([]float64, error)
}

// Detection is the structured result exposed by detectors that classify
// as well as score.
type Detection struct {
	Scores         []float64
	AnomalyIndices []int
	Threshold      float64
}

// StructuredDetector is optionally implemented by detectors that expose a
// trained decision threshold alongside raw scores.
type StructuredDetector interface {
	Detector
	Detect(m [][]float64) (*Detection, error)
}

// BinaryDetector is optionally implemented by detectors whose Score output
// is a 0/1 label rather than a continuous signal. Binary outputs bypass
// in-batch min-max normalization.
type BinaryDetector interface {
	Binary() bool
}

// Trainable is implemented by detectors that can be refit from historical
// feature matrices during baseline refresh.
type Trainable interface {
	Fit(m [][]float64) error
}

// DetectorError wraps a per-detector, per-batch scoring failure.
type DetectorError struct {
	Detector string
	Err      error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s: %v", e.Detector, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// registration pairs a detector with its ensemble weight.
type registration struct {
	weight   float64
	detector Detector
}

// Registry is the name -> (weight, detector) table the ensemble scores with.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]registration),
	}
}

// Register adds or replaces a detector under the given weight.
func (r *Registry) Register(weight float64, d Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := d.Name()
	if _, ok := r.entries[name]; !ok {
		r.order = append(r.order, name)
	}
	r.entries[name] = registration{weight: weight, detector: d}
}

// Get returns a registered detector by name.
func (r *Registry) Get(name string) (Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return reg.detector, true
}

// Weight returns the registered weight for a detector name.
func (r *Registry) Weight(name string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name].weight
}

// All returns registered detectors in registration order with weights.
func (r *Registry) All() []struct {
	Weight   float64
	Detector Detector
} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]struct {
		Weight   float64
		Detector Detector
	}, 0, len(r.order))
	for _, name := range r.order {
		reg := r.entries[name]
		out = append(out, struct {
			Weight   float64
			Detector Detector
		}{reg.weight, reg.detector})
	}
	return out
}

// ReadyCount returns the number of detectors reporting Ready.
func (r *Registry) ReadyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, reg := range r.entries {
		if reg.detector.Ready() {
			n++
		}
	}
	return n
}
