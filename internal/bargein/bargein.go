// Package bargein detects the user speaking over assistant playback.
//
// The controller is armed while synthesised audio is playing. While armed it
// votes on every capture frame: a frame whose RMS exceeds the energy
// threshold is a "voiced" vote, and when a majority of the last N frames are
// voiced the controller triggers. A debounce interval suppresses retriggers
// from the tail of the same interjection.
//
// Arm/Disarm are called by the playback side and Observe by the capture
// loop, so the controller is safe for concurrent use.
package bargein

import (
	"sync"
	"time"

	"github.com/cadenza-ai/cadenza/pkg/audio"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Phase is the controller's detection phase.
type Phase int

const (
	// PhaseIdle means no playback is active; frames are not examined.
	PhaseIdle Phase = iota

	// PhaseArmed means playback is active and frames are being voted on.
	PhaseArmed

	// PhaseTriggered means a barge-in fired and the debounce window is
	// running.
	PhaseTriggered
)

// String returns the lower-case phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseArmed:
		return "armed"
	case PhaseTriggered:
		return "triggered"
	default:
		return "unknown"
	}
}

// Config tunes the controller.
type Config struct {
	// EnergyThreshold is the RMS level a frame must exceed to count as a
	// voiced vote.
	EnergyThreshold float64

	// VoteWindow is how many recent frames are examined; a strict majority
	// of voiced frames triggers. Minimum 1.
	VoteWindow int

	// Debounce suppresses re-triggering for this long after a trigger.
	Debounce time.Duration
}

// Controller implements barge-in detection.
type Controller struct {
	cfg Config

	mu        sync.Mutex
	phase     Phase
	votes     []bool
	next      int
	filled    int
	lastFired time.Time
	triggers  int
}

// New creates a Controller in [PhaseIdle].
func New(cfg Config) *Controller {
	if cfg.VoteWindow < 1 {
		cfg.VoteWindow = 1
	}
	return &Controller{
		cfg:   cfg,
		votes: make([]bool, cfg.VoteWindow),
	}
}

// Arm starts examining frames. Called when playback of a response begins.
func (c *Controller) Arm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseIdle {
		c.phase = PhaseArmed
		c.resetVotes()
	}
}

// Disarm stops examining frames. Called when playback ends or is cancelled.
func (c *Controller) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = PhaseIdle
	c.resetVotes()
}

// Phase returns the current detection phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Triggers returns how many barge-ins have fired since construction.
func (c *Controller) Triggers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggers
}

// Observe votes on one capture frame and reports whether a barge-in fired
// on it. Frames observed while idle or inside the debounce window never
// trigger.
func (c *Controller) Observe(frame types.AudioFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case PhaseIdle:
		return false
	case PhaseTriggered:
		if frame.Captured.Sub(c.lastFired) < c.cfg.Debounce {
			return false
		}
		// Debounce elapsed; resume voting.
		c.phase = PhaseArmed
		c.resetVotes()
	}

	c.votes[c.next] = audio.RMS(frame.PCM) > c.cfg.EnergyThreshold
	c.next = (c.next + 1) % c.cfg.VoteWindow
	if c.filled < c.cfg.VoteWindow {
		c.filled++
	}
	if c.filled < c.cfg.VoteWindow {
		return false
	}

	voiced := 0
	for _, v := range c.votes {
		if v {
			voiced++
		}
	}
	if voiced*2 <= c.cfg.VoteWindow {
		return false
	}

	c.phase = PhaseTriggered
	c.lastFired = frame.Captured
	c.triggers++
	return true
}

// resetVotes clears the vote window. Must be called with c.mu held.
func (c *Controller) resetVotes() {
	for i := range c.votes {
		c.votes[i] = false
	}
	c.next = 0
	c.filled = 0
}
