// Package utterance holds the per-utterance lifecycle: the state machine,
// the bounded frame ring between capture and transcription, and the silence
// endpointer that decides when the user has stopped speaking.
//
// Exactly one utterance is active at a time; the orchestrator enforces that
// invariant and this package keeps each utterance's own bookkeeping honest.
package utterance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// State is the lifecycle phase of an utterance.
type State int

const (
	// StateListening means capture frames are flowing into the ring.
	StateListening State = iota

	// StateFinalizing means end-of-speech fired and the final transcript is
	// being produced.
	StateFinalizing

	// StateResponding means the intent is classified and response
	// generation is running.
	StateResponding

	// StateSpeaking means synthesised audio is being played back.
	StateSpeaking

	// StateCompleted is the successful terminal state.
	StateCompleted

	// StateCancelled is the terminal state after barge-in or shutdown.
	StateCancelled

	// StateFailed is the terminal state after an unrecoverable stage fault.
	StateFailed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateFinalizing:
		return "finalizing"
	case StateResponding:
		return "responding"
	case StateSpeaking:
		return "speaking"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Utterance is one wake-to-response interaction. It owns a context that all
// of the utterance's stage goroutines run under; cancelling it (with a
// cause) is the single cancellation mechanism for the whole cycle.
type Utterance struct {
	id     string
	ctx    context.Context
	cancel context.CancelCauseFunc
	ring   *FrameRing

	started time.Time

	mu          sync.Mutex
	state       State
	endOfSpeech time.Time
}

// New creates an utterance in [StateListening] with a frame ring of the
// given capacity. The utterance context is derived from parent; onStall is
// forwarded to the ring.
func New(parent context.Context, ringCapacity int, onStall func()) *Utterance {
	ctx, cancel := context.WithCancelCause(parent)
	return &Utterance{
		id:      uuid.NewString(),
		ctx:     ctx,
		cancel:  cancel,
		ring:    NewFrameRing(ringCapacity, onStall),
		started: time.Now(),
		state:   StateListening,
	}
}

// ID returns the utterance's unique identifier.
func (u *Utterance) ID() string { return u.id }

// Context returns the utterance-scoped context. All stage work for this
// utterance must run under it.
func (u *Utterance) Context() context.Context { return u.ctx }

// Ring returns the utterance's frame buffer.
func (u *Utterance) Ring() *FrameRing { return u.ring }

// Started returns when the utterance began.
func (u *Utterance) Started() time.Time { return u.started }

// Cancel cancels the utterance context with the given cause and moves the
// utterance to [StateCancelled] unless it already reached a terminal state.
func (u *Utterance) Cancel(cause error) {
	u.mu.Lock()
	if !u.state.Terminal() {
		u.state = StateCancelled
	}
	u.mu.Unlock()
	u.cancel(cause)
}

// Cause returns the cancellation cause, or nil while the context is live.
func (u *Utterance) Cause() error {
	return context.Cause(u.ctx)
}

// State returns the current lifecycle state.
func (u *Utterance) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Transition advances the lifecycle to next. Transitions must move forward;
// regressions and transitions out of a terminal state are rejected.
func (u *Utterance) Transition(next State) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state.Terminal() {
		return fmt.Errorf("utterance %s: transition %s -> %s after terminal state", u.id, u.state, next)
	}
	if !next.Terminal() && next <= u.state {
		return fmt.Errorf("utterance %s: transition %s -> %s goes backwards", u.id, u.state, next)
	}
	u.state = next
	return nil
}

// MarkEndOfSpeech records when the endpointer closed the utterance's audio.
// Response latency is measured from this instant.
func (u *Utterance) MarkEndOfSpeech(at time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.endOfSpeech.IsZero() {
		u.endOfSpeech = at
	}
}

// EndOfSpeech returns the recorded end-of-speech time, zero if speech has
// not ended yet.
func (u *Utterance) EndOfSpeech() time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.endOfSpeech
}

// Stamp fills the UtteranceID on a transcript.
func (u *Utterance) Stamp(t *types.Transcript) {
	t.UtteranceID = u.id
}
