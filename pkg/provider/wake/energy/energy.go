// Package energy provides an RMS-energy reference implementation of
// [wake.Detector].
//
// It is not a trained wake-word model: it scores frames by speech energy
// alone and is intended as the swappable default for development rigs and
// tests, and as the speech-energy signal consumed by the barge-in controller
// when no second wake model is configured.
package energy

import (
	"github.com/cadenza-ai/cadenza/pkg/audio"
	"github.com/cadenza-ai/cadenza/pkg/provider/wake"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Compile-time assertion that Detector satisfies wake.Detector.
var _ wake.Detector = (*Detector)(nil)

const (
	// defaultThreshold is the score above which a frame counts as speech.
	defaultThreshold = 0.5

	// fullScaleRMS is the RMS value mapped to a score of 1.0. Normal speech
	// at arm's length lands around 1000–4000 on 16-bit capture.
	fullScaleRMS = 4000.0
)

// Option configures a [Detector] during construction.
type Option func(*Detector)

// WithThreshold overrides the decision threshold. Default: 0.5.
func WithThreshold(t float64) Option {
	return func(d *Detector) { d.threshold = t }
}

// WithFullScaleRMS sets the RMS value that maps to a score of 1.0.
// Lower values make the detector more sensitive. Default: 4000.
func WithFullScaleRMS(rms float64) Option {
	return func(d *Detector) { d.fullScale = rms }
}

// Detector scores frames by normalised RMS energy.
type Detector struct {
	threshold float64
	fullScale float64
}

// New creates an energy Detector with the supplied options.
func New(opts ...Option) *Detector {
	d := &Detector{
		threshold: defaultThreshold,
		fullScale: fullScaleRMS,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Score implements [wake.Detector]. The score is the frame's RMS energy
// normalised against the full-scale reference, clamped to [0.0, 1.0].
func (d *Detector) Score(frame types.AudioFrame) (float64, error) {
	score := audio.RMS(frame.PCM) / d.fullScale
	if score > 1.0 {
		score = 1.0
	}
	return score, nil
}

// Threshold implements [wake.Detector].
func (d *Detector) Threshold() float64 { return d.threshold }
