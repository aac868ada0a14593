package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestFallbackGroup_PrimaryServes(t *testing.T) {
	fg := NewFallbackGroup("primary", "deepgram", FallbackConfig{})
	fg.AddFallback("whisper", "secondary")

	var called string
	name, err := fg.Execute(func(v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "primary" {
		t.Fatalf("called = %q, want primary", called)
	}
	if name != "deepgram" {
		t.Fatalf("served name = %q, want deepgram", name)
	}
	if !fg.Primary(name) {
		t.Fatal("Primary(deepgram) = false, want true")
	}
}

func TestFallbackGroup_FallbackServesOnPrimaryFailure(t *testing.T) {
	fg := NewFallbackGroup("primary", "deepgram", FallbackConfig{})
	fg.AddFallback("whisper", "secondary")

	name, err := fg.Execute(func(v string) error {
		if v == "primary" {
			return errTest
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "whisper" {
		t.Fatalf("served name = %q, want whisper", name)
	}
	if fg.Primary(name) {
		t.Fatal("Primary(whisper) = true, want false")
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := NewFallbackGroup("primary", "deepgram", FallbackConfig{})
	fg.AddFallback("whisper", "secondary")

	_, err := fg.Execute(func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_OpenBreakerSkipsPrimary(t *testing.T) {
	fg := NewFallbackGroup("primary", "deepgram", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("whisper", "secondary")

	// Trip the primary's breaker.
	if _, err := fg.Execute(func(v string) error {
		if v == "primary" {
			return errTest
		}
		return nil
	}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// The next call must not touch the primary at all.
	var calls []string
	name, err := fg.Execute(func(v string) error {
		calls = append(calls, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "whisper" {
		t.Fatalf("served name = %q, want whisper", name)
	}
	if len(calls) != 1 || calls[0] != "secondary" {
		t.Fatalf("calls = %v, want [secondary]", calls)
	}
}

func TestExecuteWithResult(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	fg.AddFallback("twenty", 20)

	got, name, err := ExecuteWithResult(fg, func(v int) (int, error) {
		if v == 10 {
			return 0, errTest
		}
		return v * 2, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 40 {
		t.Fatalf("result = %d, want 40", got)
	}
	if name != "twenty" {
		t.Fatalf("served name = %q, want twenty", name)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{})

	_, _, err := ExecuteWithResult(fg, func(int) (int, error) {
		return 0, errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_SingleEntry(t *testing.T) {
	fg := NewFallbackGroup("only", "solo", FallbackConfig{})

	name, err := fg.Execute(func(string) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "solo" || !fg.Primary(name) {
		t.Fatalf("name = %q, Primary = %v", name, fg.Primary(name))
	}
}
