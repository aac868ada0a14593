package intentcache

import (
	"testing"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

func TestReconciler_ConfirmedMatch(t *testing.T) {
	t.Parallel()

	cache := New(8, 0.93)
	r := NewReconciler(cache)

	provisional := types.Intent{Tag: "lights.off", Provisional: true}
	p := r.Propose("turn off the", provisional, false)

	confirmed := types.Intent{Tag: "lights.off", Confidence: 0.95}
	if got := r.Confirm(p, "turn off the lights", confirmed); got != Confirmed {
		t.Fatalf("Confirm = %s, want confirmed", got)
	}

	// The confirmed classification is cached under the final text.
	cached, res := cache.Get("turn off the lights")
	if res != Hit || cached.Tag != "lights.off" {
		t.Fatalf("final text not cached: res=%s tag=%q", res, cached.Tag)
	}
}

func TestReconciler_MismatchOnTag(t *testing.T) {
	t.Parallel()

	r := NewReconciler(New(8, 0.93))

	p := r.Propose("what's the", types.Intent{Tag: "weather.query"}, false)
	if got := r.Confirm(p, "what's the time", types.Intent{Tag: "time.query"}); got != Mismatch {
		t.Fatalf("Confirm = %s, want mismatch", got)
	}
}

func TestReconciler_MismatchOnSlots(t *testing.T) {
	t.Parallel()

	r := NewReconciler(New(8, 0.93))

	p := r.Propose("set a timer for five",
		types.Intent{Tag: "timer.set", Slots: map[string]string{"duration": "5m"}}, false)
	confirmed := types.Intent{Tag: "timer.set", Slots: map[string]string{"duration": "15m"}}
	if got := r.Confirm(p, "set a timer for fifteen minutes", confirmed); got != Mismatch {
		t.Fatalf("Confirm = %s, want mismatch (slot values differ)", got)
	}
}

func TestReconciler_ConfidenceIgnoredInMatch(t *testing.T) {
	t.Parallel()

	r := NewReconciler(New(8, 0.93))

	p := r.Propose("turn off", types.Intent{Tag: "lights.off", Confidence: 0.6, Provisional: true}, false)
	if got := r.Confirm(p, "turn off the lights", types.Intent{Tag: "lights.off", Confidence: 0.99}); got != Confirmed {
		t.Fatalf("Confirm = %s, want confirmed (confidence and provenance ignored)", got)
	}
}

func TestReconciler_MismatchInvalidatesStaleCacheEntry(t *testing.T) {
	t.Parallel()

	cache := New(8, 0.93)
	r := NewReconciler(cache)

	// A stale cached binding seeded the proposal.
	cache.Put("play some music", types.Intent{Tag: "lights.on"})
	stale, res := cache.Get("play some music")
	if res != Hit {
		t.Fatal("setup: stale entry not cached")
	}

	p := r.Propose("play some music", stale, true)
	if got := r.Confirm(p, "play some music please", types.Intent{Tag: "music.play"}); got != Mismatch {
		t.Fatalf("Confirm = %s, want mismatch", got)
	}

	// The stale entry is gone; the corrected one is present.
	if _, res := cache.Get("play some music"); res == Hit {
		t.Fatal("stale cache entry survived a contradicting confirmation")
	}
	if cached, res := cache.Get("play some music please"); res != Hit || cached.Tag != "music.play" {
		t.Fatalf("corrected entry missing: res=%s tag=%q", res, cached.Tag)
	}
}

func TestReconciler_ClassifierMismatchKeepsCacheWrites(t *testing.T) {
	t.Parallel()

	cache := New(8, 0.93)
	r := NewReconciler(cache)

	// Proposal came from the classifier, not the cache: nothing to
	// invalidate, but the confirmed result is still stored.
	p := r.Propose("turn on", types.Intent{Tag: "lights.on"}, false)
	if got := r.Confirm(p, "turn on the radio", types.Intent{Tag: "radio.on"}); got != Mismatch {
		t.Fatalf("Confirm = %s, want mismatch", got)
	}
	if _, res := cache.Get("turn on the radio"); res != Hit {
		t.Fatal("confirmed intent not cached after mismatch")
	}
}
