package intentcache

import (
	"fmt"
	"testing"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

func TestCache_ExactHit(t *testing.T) {
	t.Parallel()

	c := New(8, 0.93)
	want := types.Intent{Tag: "lights.off", Confidence: 0.9}
	c.Put("Turn off the lights", want)

	// Normalisation makes case and spacing irrelevant.
	got, res := c.Get("turn  OFF the lights")
	if res != Hit {
		t.Fatalf("result = %s, want hit", res)
	}
	if got.Tag != want.Tag {
		t.Fatalf("Tag = %q, want %q", got.Tag, want.Tag)
	}
}

func TestCache_FuzzyHit(t *testing.T) {
	t.Parallel()

	c := New(8, 0.93)
	c.Put("turn off the lights", types.Intent{Tag: "lights.off"})

	// One dropped letter: similar enough for Jaro-Winkler.
	got, res := c.Get("turn of the lights")
	if res != FuzzyHit {
		t.Fatalf("result = %s, want fuzzy_hit", res)
	}
	if got.Tag != "lights.off" {
		t.Fatalf("Tag = %q, want lights.off", got.Tag)
	}

	// Unrelated text misses.
	if _, res := c.Get("what's the weather in tokyo"); res != Miss {
		t.Fatalf("result = %s, want miss", res)
	}
}

func TestCache_LRUEviction(t *testing.T) {
	t.Parallel()

	c := New(2, 0.99)
	c.Put("alpha one", types.Intent{Tag: "a"})
	c.Put("beta two", types.Intent{Tag: "b"})

	// Touch "alpha one" so "beta two" becomes the eviction candidate.
	if _, res := c.Get("alpha one"); res != Hit {
		t.Fatal("setup: alpha one not cached")
	}
	c.Put("gamma three", types.Intent{Tag: "c"})

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, res := c.Get("beta two"); res != Miss {
		t.Fatalf("beta two result = %s, want miss (evicted)", res)
	}
	if _, res := c.Get("alpha one"); res != Hit {
		t.Fatal("alpha one evicted despite being most recently used")
	}
}

func TestCache_PutUpdatesExisting(t *testing.T) {
	t.Parallel()

	c := New(4, 0.93)
	c.Put("set a timer", types.Intent{Tag: "timer.set", Confidence: 0.5})
	c.Put("set a timer", types.Intent{Tag: "timer.set", Confidence: 0.9})

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	got, _ := c.Get("set a timer")
	if got.Confidence != 0.9 {
		t.Fatalf("Confidence = %.2f, want 0.9 (last write wins)", got.Confidence)
	}
}

func TestCache_Invalidate(t *testing.T) {
	t.Parallel()

	c := New(4, 0.93)
	c.Put("turn off the lights", types.Intent{Tag: "lights.off"})
	c.Invalidate("turn off the lights")
	c.Invalidate("never cached") // no-op

	if c.Len() != 0 {
		t.Fatalf("Len() = %d after invalidate, want 0", c.Len())
	}
}

func TestCache_ZeroCapacityDisabled(t *testing.T) {
	t.Parallel()

	c := New(0, 0.93)
	c.Put("anything", types.Intent{Tag: "x"})
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 for disabled cache", c.Len())
	}
	if _, res := c.Get("anything"); res != Miss {
		t.Fatalf("result = %s, want miss", res)
	}
}

func TestCache_EmptyTextIgnored(t *testing.T) {
	t.Parallel()

	c := New(4, 0.93)
	c.Put("   ", types.Intent{Tag: "x"})
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", c.Len())
	}
	if _, res := c.Get(""); res != Miss {
		t.Fatalf("result = %s, want miss", res)
	}
}

func TestCache_FuzzyPicksBestMatch(t *testing.T) {
	t.Parallel()

	c := New(8, 0.90)
	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("set a timer for %d minutes", i), types.Intent{Tag: fmt.Sprintf("t%d", i)})
	}

	got, res := c.Get("set a timer for 2 minute")
	if res != FuzzyHit {
		t.Fatalf("result = %s, want fuzzy_hit", res)
	}
	if got.Tag != "t2" {
		t.Fatalf("Tag = %q, want t2 (highest similarity)", got.Tag)
	}
}
