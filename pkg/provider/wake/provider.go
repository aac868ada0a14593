// Package wake defines the Detector interface for wake-word detection
// backends.
//
// A Detector wraps a trained trigger-phrase model (openWakeWord, Porcupine, a
// custom keyword spotter) and scores individual audio frames. The detector is
// stateless from the pipeline's point of view; the rolling window, threshold
// crossing, and debounce logic live in the wake gate, so detectors stay
// trivially swappable.
//
// Implementations must be safe for concurrent use.
package wake

import "github.com/cadenza-ai/cadenza/pkg/types"

// Detector is the abstraction over any wake-word scoring backend.
type Detector interface {
	// Score returns the trigger-phrase likelihood for a single frame in the
	// range [0.0, 1.0]. Detectors may keep internal acoustic state across
	// calls (trailing context windows) but must bound it.
	//
	// An error indicates a detector-internal failure for this frame only;
	// the caller treats it as non-fatal and continues with later frames.
	Score(frame types.AudioFrame) (float64, error)

	// Threshold returns the trained decision threshold for this detector.
	// Scores at or above the threshold count toward a trigger.
	Threshold() float64
}
