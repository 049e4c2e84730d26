package detect

import (
	"github.com/sirupsen/logrus"

	"github.com/ubaguard/ubaguard/internal/metrics"
	"github.com/ubaguard/ubaguard/internal/models"
)

// normEpsilon keeps min-max normalization defined when a batch's scores are
// all equal.
const normEpsilon = 1e-8

// EnsembleConfig holds the scoring thresholds.
type EnsembleConfig struct {
	AlertThreshold     float64 // combined score at or above this raises MEDIUM (default: 0.7)
	HighAlertThreshold float64 // combined score at or above this raises HIGH (default: 0.9)
}

// DefaultEnsembleConfig returns the default thresholds.
func DefaultEnsembleConfig() EnsembleConfig {
	return EnsembleConfig{
		AlertThreshold:     0.7,
		HighAlertThreshold: 0.9,
	}
}

// Ensemble runs every ready detector over a batch's feature matrix and
// weight-averages their normalized signals into one score per event.
// Scoring is deterministic given its inputs.
type Ensemble struct {
	registry *Registry
	cfg      EnsembleConfig
	log      *logrus.Entry
}

// NewEnsemble creates an ensemble over the given registry.
func NewEnsemble(registry *Registry, cfg EnsembleConfig, log *logrus.Entry) *Ensemble {
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 0.7
	}
	if cfg.HighAlertThreshold <= 0 {
		cfg.HighAlertThreshold = 0.9
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Ensemble{registry: registry, cfg: cfg, log: log}
}

// WeightedScores pairs one detector's weight with its normalized per-event
// scores for a batch.
type WeightedScores struct {
	Name   string
	Weight float64
	Scores []float64
}

// Result holds the combined per-event scores for one batch, along with the
// per-detector contribution breakdown used in alert detection details.
type Result struct {
	Combined      []float64
	Contributions [][]models.DetectorContribution
	DetectorsUsed int
}

// ScoreBatch scores a feature matrix. A detector that errors, returns a
// mismatched score length, or is not ready is skipped for this batch; when
// no detector contributes, every combined score is zero (a no-signal
// outcome, not an error).
func (e *Ensemble) ScoreBatch(m [][]float64) *Result {
	n := len(m)
	res := &Result{
		Combined:      make([]float64, n),
		Contributions: make([][]models.DetectorContribution, n),
	}
	if n == 0 {
		return res
	}

	var contribs []WeightedScores
	for _, reg := range e.registry.All() {
		det := reg.Detector
		if !det.Ready() {
			continue
		}

		raw, err := det.Score(m)
		if err != nil {
			metrics.DetectorErrorsTotal.WithLabelValues(det.Name()).Inc()
			e.log.WithError(err).WithField("detector", det.Name()).
				Warn("detector failed, excluding from batch")
			continue
		}
		if len(raw) != n {
			metrics.DetectorErrorsTotal.WithLabelValues(det.Name()).Inc()
			e.log.WithFields(logrus.Fields{
				"detector": det.Name(),
				"got":      len(raw),
				"want":     n,
			}).Warn("detector returned mismatched score length, excluding from batch")
			continue
		}

		contribs = append(contribs, WeightedScores{
			Name:   det.Name(),
			Weight: reg.Weight,
			Scores: normalize(raw, isBinary(det)),
		})
	}

	res.Combined = CombineWeighted(n, contribs)
	res.DetectorsUsed = len(contribs)

	for _, c := range contribs {
		for i, s := range c.Scores {
			res.Contributions[i] = append(res.Contributions[i], models.DetectorContribution{
				Detector: c.Name,
				Weight:   c.Weight,
				Score:    s,
			})
		}
	}
	return res
}

// CombineWeighted computes the weight-averaged score per event:
// sum(weight_i * score_i) / sum(weight_i) over the contributing detectors.
// Contributions whose score length does not match n are excluded.
func CombineWeighted(n int, contribs []WeightedScores) []float64 {
	combined := make([]float64, n)
	totalWeight := 0.0

	for _, c := range contribs {
		if len(c.Scores) != n {
			continue
		}
		for i, s := range c.Scores {
			combined[i] += c.Weight * s
		}
		totalWeight += c.Weight
	}

	if totalWeight > 0 {
		for i := range combined {
			combined[i] /= totalWeight
		}
	}
	return combined
}

// Classify maps a combined score to a severity. Scores below the alert
// threshold return the empty severity (no alert). Both thresholds are
// inclusive lower bounds.
func (e *Ensemble) Classify(score float64) models.Severity {
	switch {
	case score >= e.cfg.HighAlertThreshold:
		return models.SeverityHigh
	case score >= e.cfg.AlertThreshold:
		return models.SeverityMedium
	default:
		return ""
	}
}

// AlertThreshold returns the configured alert threshold.
func (e *Ensemble) AlertThreshold() float64 { return e.cfg.AlertThreshold }

// Registry returns the detector registry the ensemble scores with.
func (e *Ensemble) Registry() *Registry { return e.registry }

func isBinary(d Detector) bool {
	b, ok := d.(BinaryDetector)
	return ok && b.Binary()
}

// normalize maps raw detector output to [0, 1]. Continuous scores are
// min-max normalized within the batch; binary labels pass through as 0/1.
func normalize(raw []float64, binary bool) []float64 {
	out := make([]float64, len(raw))
	if binary {
		for i, v := range raw {
			if v > 0 {
				out[i] = 1
			}
		}
		return out
	}

	lo, hi := raw[0], raw[0]
	for _, v := range raw[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	for i, v := range raw {
		out[i] = (v - lo) / (hi - lo + normEpsilon)
	}
	return out
}
