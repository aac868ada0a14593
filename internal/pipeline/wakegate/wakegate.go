// Package wakegate implements the wake-word gate that arms the pipeline.
//
// The gate scores every capture frame through a [wake.Detector] and opens
// when the rolling mean over a short window of frames crosses the detector
// threshold. A debounce interval suppresses immediate re-triggering, and
// detector faults are absorbed: a failing detector scores the frame as
// silence and the gate keeps running.
package wakegate

import (
	"fmt"
	"time"

	"github.com/cadenza-ai/cadenza/pkg/provider/wake"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Gate scores capture frames and reports wake events. It is driven by a
// single capture goroutine and is not safe for concurrent use.
type Gate struct {
	detector  wake.Detector
	window    int
	debounce  time.Duration
	threshold float64

	scores  []float64 // ring of the last window scores
	next    int
	filled  int
	lastHit time.Time
	faults  int
}

// New creates a Gate over detector. window is how many consecutive frame
// scores are averaged (minimum 1); debounce suppresses re-triggering after a
// detection. threshold overrides the detector's own threshold when > 0.
func New(detector wake.Detector, window int, debounce time.Duration, threshold float64) (*Gate, error) {
	if detector == nil {
		return nil, fmt.Errorf("wakegate: detector must not be nil")
	}
	if window < 1 {
		window = 1
	}
	if threshold <= 0 {
		threshold = detector.Threshold()
	}
	return &Gate{
		detector:  detector,
		window:    window,
		debounce:  debounce,
		threshold: threshold,
		scores:    make([]float64, window),
	}, nil
}

// Observe scores one frame. It returns a non-nil [types.WakeEvent] when the
// gate opens on this frame, and the detector fault (if any) for accounting.
// A faulting detector never opens the gate and never stops it: the frame is
// scored as silence and observation continues.
func (g *Gate) Observe(frame types.AudioFrame) (*types.WakeEvent, error) {
	score, err := g.detector.Score(frame)
	if err != nil {
		score = 0
		g.faults++
		err = fmt.Errorf("wakegate: detector fault: %w", err)
	}

	g.scores[g.next] = score
	g.next = (g.next + 1) % g.window
	if g.filled < g.window {
		g.filled++
	}

	if g.filled < g.window {
		return nil, err
	}
	if !g.lastHit.IsZero() && frame.Captured.Sub(g.lastHit) < g.debounce {
		return nil, err
	}

	var sum float64
	for _, s := range g.scores {
		sum += s
	}
	mean := sum / float64(g.window)
	if mean < g.threshold {
		return nil, err
	}

	g.lastHit = frame.Captured
	g.reset()
	return &types.WakeEvent{
		FrameSeq: frame.Seq,
		Score:    mean,
		At:       frame.Captured,
	}, err
}

// Faults returns how many detector faults have been absorbed.
func (g *Gate) Faults() int { return g.faults }

// reset clears the score window after a trigger so stale high scores cannot
// re-open the gate the moment the debounce expires.
func (g *Gate) reset() {
	for i := range g.scores {
		g.scores[i] = 0
	}
	g.next = 0
	g.filled = 0
}
