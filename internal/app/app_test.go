package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/cadenza-ai/cadenza/internal/config"
	"github.com/cadenza-ai/cadenza/internal/intentcache"
	"github.com/cadenza-ai/cadenza/internal/observe"
	audiomock "github.com/cadenza-ai/cadenza/pkg/audio/mock"
	asrmock "github.com/cadenza-ai/cadenza/pkg/provider/asr/mock"
	nlumock "github.com/cadenza-ai/cadenza/pkg/provider/nlu/mock"
	genmock "github.com/cadenza-ai/cadenza/pkg/provider/respond/mock"
	ttsmock "github.com/cadenza-ai/cadenza/pkg/provider/tts/mock"
	wakemock "github.com/cadenza-ai/cadenza/pkg/provider/wake/mock"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Server.ListenAddr = "" // no diagnostics server in unit tests
	cfg.Providers.Wake.Name = "mock"
	cfg.Providers.ASR.Name = "mock"
	cfg.Providers.NLU.Name = "mock"
	cfg.Providers.Respond.Name = "mock"
	cfg.Providers.TTS.Name = "mock"
	return cfg
}

func mockProviders() *Providers {
	return &Providers{
		Source: audiomock.NewSource(16),
		Sink:   audiomock.NewSink(),
		Wake:   &wakemock.Detector{},
		ASR:    &asrmock.Model{},
		NLU:    &nlumock.Classifier{},
		Gen:    &genmock.Generator{},
		TTS:    &ttsmock.Synthesizer{},
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestNew_WithMockProviders(t *testing.T) {
	t.Parallel()

	a, err := New(testConfig(), mockProviders(), WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.orch == nil {
		t.Fatal("orchestrator not built")
	}
	if a.httpSrv != nil {
		t.Error("http server built despite empty listen_addr")
	}
}

func TestNew_MissingProviderSlots(t *testing.T) {
	t.Parallel()

	p := mockProviders()
	p.ASR = nil
	p.TTS = nil

	_, err := New(testConfig(), p, WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("expected error for missing providers")
	}
	for _, want := range []string{"asr", "tts"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not name %q", err, want)
		}
	}
}

func TestNew_NilArgs(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, mockProviders()); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(testConfig(), nil); err == nil {
		t.Error("expected error for nil providers")
	}
}

func TestNew_BuildsCacheFromConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Cache.Capacity = 32

	a, err := New(cfg, mockProviders(), WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.cache == nil {
		t.Fatal("cache not built from config capacity")
	}
}

func TestNew_WithCacheInjection(t *testing.T) {
	t.Parallel()

	cache := intentcache.New(4, 0.95)
	cache.Put("hello there", types.Intent{Tag: "greeting"})

	a, err := New(testConfig(), mockProviders(), WithMetrics(testMetrics(t)), WithCache(cache))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.cache != cache {
		t.Fatal("injected cache was not used")
	}
}

func TestNew_SynthesisedNLUFallback(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Providers.NLU.Name = "openai"
	cfg.Providers.NLU.Intents = []string{"timer.set", "lights.off"}

	if _, err := New(cfg, mockProviders(), WithMetrics(testMetrics(t))); err != nil {
		t.Fatalf("New with synthesised keyword fallback: %v", err)
	}

	// An empty intent set cannot seed a keyword classifier; New must still
	// succeed, just without the synthesised fallback.
	cfg.Providers.NLU.Intents = nil
	if _, err := New(cfg, mockProviders(), WithMetrics(testMetrics(t))); err != nil {
		t.Fatalf("New without intents: %v", err)
	}
}

func TestRulesFromIntents(t *testing.T) {
	t.Parallel()

	rules := rulesFromIntents([]string{"timer.set", "lights_off", "volume-up"})
	want := map[string]string{
		"timer.set":  "timer set",
		"lights_off": "lights off",
		"volume-up":  "volume up",
	}
	if len(rules) != len(want) {
		t.Fatalf("got %d rules, want %d", len(rules), len(want))
	}
	for _, r := range rules {
		if len(r.Patterns) != 1 || r.Patterns[0] != want[r.Tag] {
			t.Errorf("rule %q patterns = %v, want [%q]", r.Tag, r.Patterns, want[r.Tag])
		}
	}
}

func TestFallbackName(t *testing.T) {
	t.Parallel()

	if got := fallbackName(nil, "def"); got != "def" {
		t.Errorf("fallbackName(nil) = %q", got)
	}
	if got := fallbackName(&config.ProviderEntry{}, "def"); got != "def" {
		t.Errorf("fallbackName(empty) = %q", got)
	}
	if got := fallbackName(&config.ProviderEntry{Name: "whisper"}, "def"); got != "whisper" {
		t.Errorf("fallbackName(whisper) = %q", got)
	}
}

func TestRun_StopsWhenSourceCloses(t *testing.T) {
	t.Parallel()

	p := mockProviders()
	a, err := New(testConfig(), p, WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Shutdown closes the capture source; the run loop drains out on its
	// own, then ctx cancellation stops the event logger.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a, err := New(testConfig(), mockProviders(), WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
