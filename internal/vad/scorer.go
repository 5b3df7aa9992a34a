package vad

import "math"

// Scorer returns the probability that a frame contains speech.
type Scorer interface {
	Score(frame []float32) (float32, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(frame []float32) (float32, error)

// Score implements Scorer.
func (f ScorerFunc) Score(frame []float32) (float32, error) {
	return f(frame)
}

// EnergyScorer maps frame RMS energy linearly onto [0, 1], saturating at
// Reference.
type EnergyScorer struct {
	Reference float32
}

// Score implements Scorer.
func (e EnergyScorer) Score(frame []float32) (float32, error) {
	if len(frame) == 0 || e.Reference <= 0 {
		return 0, nil
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(frame)))

	p := float32(rms) / e.Reference
	if p > 1 {
		p = 1
	}
	return p, nil
}
