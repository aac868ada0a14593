package anyllm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// runRechunk feeds the scripted deltas through rechunk, with the error
// channel already closed as a clean backend stream leaves it, and returns
// every fragment emitted.
func runRechunk(t *testing.T, deltas []tokenDelta) []types.ResponseFragment {
	t.Helper()

	in := make(chan tokenDelta)
	errs := make(chan error)
	close(errs)
	out := make(chan types.ResponseFragment, 16)
	go func() {
		defer close(out)
		rechunk(context.Background(), in, errs, out)
	}()

	for _, d := range deltas {
		in <- d
	}
	close(in)

	var frags []types.ResponseFragment
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-out:
			if !ok {
				return frags
			}
			frags = append(frags, f)
		case <-deadline:
			t.Fatal("fragment stream did not close")
		}
	}
}

func TestFirstSentenceBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
	}{
		{"", -1},
		{"no boundary here", -1},
		{"Hello. World", 5},
		{"Hi! There", 2},
		{"Really? Yes", 6},
		{"3.14 is pi", -1},                // digit follows the dot
		{"Done.", -1},                     // trailing punctuation, no space yet
		{"One.\nTwo", 3},                  // newline counts as whitespace
		{"First. Second. Third.", 5},      // earliest boundary wins
		{"Wait... done. Next", 6},         // last ellipsis dot before the space
	}

	for _, tt := range tests {
		if got := firstSentenceBoundary(tt.in); got != tt.want {
			t.Errorf("firstSentenceBoundary(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRenderIntent(t *testing.T) {
	t.Parallel()

	got := renderIntent(types.Intent{
		Tag: "timer.set",
		Slots: map[string]string{
			"unit":     "minutes",
			"duration": "5",
		},
	})
	want := "Intent: timer.set\nSlots:\n  duration: 5\n  unit: minutes\n"
	if got != want {
		t.Errorf("renderIntent = %q, want %q", got, want)
	}
}

func TestRenderIntent_NoSlots(t *testing.T) {
	t.Parallel()

	got := renderIntent(types.Intent{Tag: "greeting"})
	if got != "Intent: greeting\n" {
		t.Errorf("renderIntent = %q", got)
	}
}

func TestRechunk_SplitsSentences(t *testing.T) {
	t.Parallel()

	frags := runRechunk(t, []tokenDelta{
		{content: "Hello wor"},
		{content: "ld. How are you? I"},
	})

	want := []types.ResponseFragment{
		{Seq: 0, Text: "Hello world."},
		{Seq: 1, Text: "How are you?"},
		{Seq: 2, Text: "I", Last: true},
	}
	if len(frags) != len(want) {
		t.Fatalf("got %d fragments, want %d: %+v", len(frags), len(want), frags)
	}
	for i, w := range want {
		if frags[i] != w {
			t.Errorf("fragment %d = %+v, want %+v", i, frags[i], w)
		}
	}
}

func TestRechunk_FinishReasonFlushesFinal(t *testing.T) {
	t.Parallel()

	frags := runRechunk(t, []tokenDelta{{content: "Done now", finish: "stop"}})
	if len(frags) != 1 || frags[0].Text != "Done now" || !frags[0].Last {
		t.Fatalf("fragments = %+v, want one terminal fragment", frags)
	}
}

func TestRechunk_ClosedErrorChannelCompletesStream(t *testing.T) {
	t.Parallel()

	// Backends close the error channel without a value on a clean stream;
	// that must not abort or stall the fragment stream.
	frags := runRechunk(t, []tokenDelta{
		{content: "All good here. Carry"},
		{content: " on"},
	})

	if len(frags) != 2 {
		t.Fatalf("got %d fragments, want 2: %+v", len(frags), frags)
	}
	if frags[0].Text != "All good here." || frags[0].Last {
		t.Errorf("fragment 0 = %+v", frags[0])
	}
	if frags[1].Text != "Carry on" || !frags[1].Last {
		t.Errorf("fragment 1 = %+v, want the terminal remainder", frags[1])
	}
}

func TestRechunk_BackendErrorAbortsWithoutLast(t *testing.T) {
	t.Parallel()

	in := make(chan tokenDelta)
	errs := make(chan error)
	out := make(chan types.ResponseFragment, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		rechunk(context.Background(), in, errs, out)
	}()

	in <- tokenDelta{content: "Let me think about"}
	errs <- errors.New("stream torn down")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rechunk did not stop on backend error")
	}
	for f := range out {
		if f.Last {
			t.Errorf("aborted stream emitted terminal fragment %+v", f)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o-mini", nil); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := New("openai", "", nil); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("smoke-signals", "m1", nil); err == nil {
		t.Error("expected error for unsupported provider")
	}
}
