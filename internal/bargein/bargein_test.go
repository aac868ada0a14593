package bargein

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// frame builds a mono frame of constant amplitude captured at the given time.
func frame(amp int16, at time.Time) types.AudioFrame {
	pcm := make([]byte, 320*2)
	for i := 0; i < 320; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(amp))
	}
	return types.AudioFrame{PCM: pcm, SampleRate: 16000, Channels: 1, Captured: at}
}

func testConfig() Config {
	return Config{
		EnergyThreshold: 1000,
		VoteWindow:      5,
		Debounce:        500 * time.Millisecond,
	}
}

func TestController_IdleIgnoresFrames(t *testing.T) {
	t.Parallel()

	c := New(testConfig())
	now := time.Now()
	for i := 0; i < 20; i++ {
		if c.Observe(frame(8000, now)) {
			t.Fatal("triggered while idle")
		}
	}
	if c.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want idle", c.Phase())
	}
}

func TestController_MajorityVoteTriggers(t *testing.T) {
	t.Parallel()

	c := New(testConfig())
	c.Arm()
	now := time.Now()

	// Four loud frames: window of five not yet filled, no trigger.
	for i := 0; i < 4; i++ {
		if c.Observe(frame(8000, now)) {
			t.Fatalf("triggered on frame %d before window filled", i)
		}
	}
	if !c.Observe(frame(8000, now)) {
		t.Fatal("did not trigger once a voiced majority filled the window")
	}
	if c.Phase() != PhaseTriggered {
		t.Fatalf("phase = %s, want triggered", c.Phase())
	}
	if c.Triggers() != 1 {
		t.Fatalf("Triggers() = %d, want 1", c.Triggers())
	}
}

func TestController_MinorityDoesNotTrigger(t *testing.T) {
	t.Parallel()

	c := New(testConfig())
	c.Arm()
	now := time.Now()

	// Alternate loud and quiet: at most 3/5 voiced in any window is a
	// majority, but 2/5 is not. Use a pattern that never exceeds 2 voiced
	// per window: one loud every three frames.
	pattern := []int16{8000, 0, 0, 8000, 0, 0, 8000, 0, 0, 8000, 0, 0}
	for i, amp := range pattern {
		if c.Observe(frame(amp, now)) {
			t.Fatalf("triggered at frame %d without a voiced majority", i)
		}
	}
}

func TestController_DebounceThenRearm(t *testing.T) {
	t.Parallel()

	c := New(testConfig())
	c.Arm()
	start := time.Now()

	for i := 0; i < 5; i++ {
		c.Observe(frame(8000, start))
	}
	if c.Phase() != PhaseTriggered {
		t.Fatal("setup: controller did not trigger")
	}

	// Inside the debounce window: ignored.
	if c.Observe(frame(8000, start.Add(100*time.Millisecond))) {
		t.Fatal("re-triggered inside debounce window")
	}

	// After the debounce the window restarts from empty, so a trigger
	// needs five fresh voiced frames.
	after := start.Add(time.Second)
	for i := 0; i < 4; i++ {
		if c.Observe(frame(8000, after)) {
			t.Fatalf("re-triggered on frame %d before fresh window filled", i)
		}
	}
	if !c.Observe(frame(8000, after)) {
		t.Fatal("did not re-trigger after debounce with a fresh voiced majority")
	}
	if c.Triggers() != 2 {
		t.Fatalf("Triggers() = %d, want 2", c.Triggers())
	}
}

func TestController_DisarmResets(t *testing.T) {
	t.Parallel()

	c := New(testConfig())
	c.Arm()
	now := time.Now()
	for i := 0; i < 4; i++ {
		c.Observe(frame(8000, now))
	}
	c.Disarm()
	if c.Phase() != PhaseIdle {
		t.Fatalf("phase = %s after Disarm, want idle", c.Phase())
	}

	// Re-arming starts with an empty vote window; the stale four votes
	// must not count.
	c.Arm()
	for i := 0; i < 4; i++ {
		if c.Observe(frame(8000, now)) {
			t.Fatalf("stale votes survived Disarm (frame %d)", i)
		}
	}
}

func TestController_MinimumWindow(t *testing.T) {
	t.Parallel()

	c := New(Config{EnergyThreshold: 1000, VoteWindow: 0, Debounce: time.Second})
	c.Arm()
	if !c.Observe(frame(8000, time.Now())) {
		t.Fatal("window of one did not trigger on a single voiced frame")
	}
}
