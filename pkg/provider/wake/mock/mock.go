// Package mock provides a scripted mock implementation of [wake.Detector]
// for use in unit tests.
package mock

import (
	"sync"

	"github.com/cadenza-ai/cadenza/pkg/provider/wake"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Compile-time interface assertion.
var _ wake.Detector = (*Detector)(nil)

// Detector is a mock [wake.Detector]. Scores are consumed from the Scores
// slice in order; once exhausted, Fallback is returned. Errors can be
// injected per call index via Errs.
type Detector struct {
	mu sync.Mutex

	// Scores are returned one per Score call, in order.
	Scores []float64

	// Fallback is returned once Scores is exhausted. Default zero.
	Fallback float64

	// Errs maps a zero-based call index to an error returned for that call
	// (the score for that call is discarded).
	Errs map[int]error

	// ThresholdValue is returned by Threshold. Default 0.5 when zero and
	// DefaultThresholdZero is false.
	ThresholdValue float64

	// Calls counts Score invocations.
	Calls int
}

// Score implements [wake.Detector].
func (d *Detector) Score(types.AudioFrame) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.Calls
	d.Calls++
	if err, ok := d.Errs[idx]; ok {
		return 0, err
	}
	if idx < len(d.Scores) {
		return d.Scores[idx], nil
	}
	return d.Fallback, nil
}

// Threshold implements [wake.Detector].
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ThresholdValue == 0 {
		return 0.5
	}
	return d.ThresholdValue
}
