package utterance

import (
	"time"

	"github.com/cadenza-ai/cadenza/pkg/audio"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// EndReason says why the endpointer closed the utterance.
type EndReason int

const (
	// EndNone means the utterance is still open.
	EndNone EndReason = iota

	// EndSilence means trailing silence exceeded the timeout.
	EndSilence

	// EndMaxDuration means the utterance hit the hard length cap.
	EndMaxDuration
)

// Endpointer decides when the user has stopped speaking. A frame whose RMS
// falls below the threshold counts as silence; once accumulated trailing
// silence reaches the timeout, the utterance ends. A hard cap bounds
// pathological utterances that never go quiet.
//
// The endpointer is driven by the capture loop and is not safe for
// concurrent use.
type Endpointer struct {
	threshold float64
	timeout   time.Duration
	maxLength time.Duration

	voiced   bool
	silence  time.Duration
	elapsed  time.Duration
	lastSeen time.Time
}

// NewEndpointer creates an Endpointer. threshold is the RMS silence floor,
// timeout the trailing-silence duration that ends the utterance, and
// maxLength the hard cap on total utterance duration (0 disables the cap).
func NewEndpointer(threshold float64, timeout, maxLength time.Duration) *Endpointer {
	return &Endpointer{
		threshold: threshold,
		timeout:   timeout,
		maxLength: maxLength,
	}
}

// Observe accounts one frame and reports whether the utterance should end.
// The trailing-silence clock only starts after the first voiced frame, so a
// wake word followed by a hesitant pause is not cut off before the user
// starts talking.
func (e *Endpointer) Observe(frame types.AudioFrame) EndReason {
	d := frame.Duration()
	e.elapsed += d
	e.lastSeen = frame.Captured

	if audio.RMS(frame.PCM) >= e.threshold {
		e.voiced = true
		e.silence = 0
	} else if e.voiced {
		e.silence += d
	}

	if e.maxLength > 0 && e.elapsed >= e.maxLength {
		return EndMaxDuration
	}
	if e.voiced && e.silence >= e.timeout {
		return EndSilence
	}
	return EndNone
}

// LastFrameAt returns the capture timestamp of the last observed frame.
func (e *Endpointer) LastFrameAt() time.Time { return e.lastSeen }
