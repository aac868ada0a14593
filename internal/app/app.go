// Package app wires all Cadenza subsystems into a running application.
//
// The application lifecycle is: [New] creates and connects all subsystems,
// [App.Run] executes the capture loop and diagnostics server, and
// [App.Shutdown] tears everything down in order.
//
// For testing, inject mock implementations via the [Providers] struct and
// functional [Option] values.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cadenza-ai/cadenza/internal/bargein"
	"github.com/cadenza-ai/cadenza/internal/config"
	"github.com/cadenza-ai/cadenza/internal/health"
	"github.com/cadenza-ai/cadenza/internal/intentcache"
	"github.com/cadenza-ai/cadenza/internal/observe"
	"github.com/cadenza-ai/cadenza/internal/pipeline"
	"github.com/cadenza-ai/cadenza/internal/pipeline/wakegate"
	"github.com/cadenza-ai/cadenza/internal/resilience"
	"github.com/cadenza-ai/cadenza/pkg/audio"
	"github.com/cadenza-ai/cadenza/pkg/provider/asr"
	"github.com/cadenza-ai/cadenza/pkg/provider/nlu"
	"github.com/cadenza-ai/cadenza/pkg/provider/nlu/keyword"
	"github.com/cadenza-ai/cadenza/pkg/provider/respond"
	"github.com/cadenza-ai/cadenza/pkg/provider/respond/template"
	"github.com/cadenza-ai/cadenza/pkg/provider/tts"
	"github.com/cadenza-ai/cadenza/pkg/provider/wake"
)

// Providers holds the concrete provider implementations selected by config.
// main populates this via the config registry; tests populate it with mocks.
//
// Source, Sink, Wake, ASR, NLU, Gen, and TTS are required. The *Fallback
// slots are optional secondaries tried when the primary fails; when
// NLUFallback or GenFallback are nil the app synthesises deterministic
// local fallbacks (keyword classifier, template generator) so classification
// and spoken error responses survive provider outages.
type Providers struct {
	Source audio.FrameSource
	Sink   audio.Sink

	Wake wake.Detector

	ASR         asr.Model
	ASRFallback asr.Model

	NLU         nlu.Classifier
	NLUFallback nlu.Classifier

	Gen         respond.Generator
	GenFallback respond.Generator

	TTS         tts.Synthesizer
	TTSFallback tts.Synthesizer
}

// Option customises App construction. Used by tests to inject doubles for
// subsystems the Providers struct does not cover.
type Option func(*App)

// WithMetrics injects a metrics bundle instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithCache injects an intent cache instead of building one from config.
func WithCache(c *intentcache.Cache) Option {
	return func(a *App) { a.cache = c }
}

// App is the assembled Cadenza application.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	cache     *intentcache.Cache

	orch    *pipeline.Orchestrator
	httpSrv *http.Server

	closers  []func() error
	stopOnce sync.Once
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: fallback chains
// around each provider, the intent cache, the wake gate, the barge-in
// controller, the pipeline orchestrator, and the diagnostics HTTP server.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	if providers == nil {
		return nil, fmt.Errorf("app: providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.checkProviders(); err != nil {
		return nil, err
	}
	// Closed in reverse order: capture source first, playback sink last.
	a.closers = append(a.closers, providers.Sink.Close, providers.Source.Close)

	// ── 1. Fallback chains ───────────────────────────────────────────────
	asrGroup, nluGroup, genGroup, ttsGroup, fbGen, err := a.buildGroups()
	if err != nil {
		return nil, fmt.Errorf("app: build fallback chains: %w", err)
	}

	// ── 2. Intent cache ──────────────────────────────────────────────────
	if a.cache == nil && cfg.Cache.Capacity > 0 {
		a.cache = intentcache.New(cfg.Cache.Capacity, cfg.Cache.FuzzyThreshold)
	}

	// ── 3. Wake gate ─────────────────────────────────────────────────────
	gate, err := wakegate.New(
		providers.Wake,
		cfg.Providers.Wake.Window,
		cfg.Providers.Wake.Debounce.Std(),
		cfg.Providers.Wake.Threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("app: wake gate: %w", err)
	}

	// ── 4. Barge-in controller ───────────────────────────────────────────
	barge := bargein.New(bargein.Config{
		EnergyThreshold: cfg.BargeIn.EnergyThreshold,
		VoteWindow:      cfg.BargeIn.VoteWindow,
		Debounce:        cfg.BargeIn.Debounce.Std(),
	})

	// ── 5. Orchestrator ──────────────────────────────────────────────────
	a.orch, err = pipeline.New(pipeline.Deps{
		Config:      cfg,
		Source:      providers.Source,
		Sink:        providers.Sink,
		Gate:        gate,
		Barge:       barge,
		ASR:         asrGroup,
		NLU:         nluGroup,
		Gen:         genGroup,
		TTS:         ttsGroup,
		FallbackGen: fbGen,
		Cache:       a.cache,
		Metrics:     a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: orchestrator: %w", err)
	}

	// ── 6. Diagnostics server ────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		a.httpSrv = a.buildHTTPServer()
	}

	return a, nil
}

// checkProviders validates that every required provider slot is populated.
func (a *App) checkProviders() error {
	p := a.providers
	var missing []string
	if p.Source == nil {
		missing = append(missing, "source")
	}
	if p.Sink == nil {
		missing = append(missing, "sink")
	}
	if p.Wake == nil {
		missing = append(missing, "wake")
	}
	if p.ASR == nil {
		missing = append(missing, "asr")
	}
	if p.NLU == nil {
		missing = append(missing, "nlu")
	}
	if p.Gen == nil {
		missing = append(missing, "respond")
	}
	if p.TTS == nil {
		missing = append(missing, "tts")
	}
	if len(missing) > 0 {
		return fmt.Errorf("app: missing required providers: %s", strings.Join(missing, ", "))
	}
	return nil
}

// buildGroups wraps each provider in a fallback chain. Primaries carry their
// configured names so degraded-mode events identify which provider served.
func (a *App) buildGroups() (
	*resilience.FallbackGroup[asr.Model],
	*resilience.FallbackGroup[nlu.Classifier],
	*resilience.FallbackGroup[respond.Generator],
	*resilience.FallbackGroup[tts.Synthesizer],
	respond.Generator,
	error,
) {
	p := a.providers
	cfg := a.cfg
	rcfg := resilience.FallbackConfig{}

	asrGroup := resilience.NewFallbackGroup(p.ASR, cfg.Providers.ASR.Name, rcfg)
	if p.ASRFallback != nil {
		asrGroup.AddFallback(fallbackName(cfg.Providers.ASR.Fallback, "asr-fallback"), p.ASRFallback)
	}

	nluGroup := resilience.NewFallbackGroup(p.NLU, cfg.Providers.NLU.Name, rcfg)
	nluFallback := p.NLUFallback
	nluFallbackName := fallbackName(cfg.Providers.NLU.Fallback, "keyword")
	if nluFallback == nil && cfg.Providers.NLU.Name != "keyword" && len(cfg.Providers.NLU.Intents) > 0 {
		kw, err := keyword.New(rulesFromIntents(cfg.Providers.NLU.Intents))
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("keyword fallback: %w", err)
		}
		nluFallback = kw
		nluFallbackName = "keyword"
	}
	if nluFallback != nil {
		nluGroup.AddFallback(nluFallbackName, nluFallback)
	}

	// The template generator serves double duty: last entry in the
	// generation chain and the canned-speech path for failed utterances.
	canned := template.New(nil)

	genGroup := resilience.NewFallbackGroup(p.Gen, cfg.Providers.Respond.Name, rcfg)
	if p.GenFallback != nil {
		genGroup.AddFallback(fallbackName(cfg.Providers.Respond.Fallback, "respond-fallback"), p.GenFallback)
	} else if cfg.Providers.Respond.Name != "template" {
		genGroup.AddFallback("template", canned)
	}

	ttsGroup := resilience.NewFallbackGroup(p.TTS, cfg.Providers.TTS.Name, rcfg)
	if p.TTSFallback != nil {
		ttsGroup.AddFallback(fallbackName(cfg.Providers.TTS.Fallback, "tts-fallback"), p.TTSFallback)
	}

	return asrGroup, nluGroup, genGroup, ttsGroup, canned, nil
}

// fallbackName resolves the display name of a configured fallback entry.
func fallbackName(entry *config.ProviderEntry, def string) string {
	if entry != nil && entry.Name != "" {
		return entry.Name
	}
	return def
}

// rulesFromIntents derives one keyword rule per configured intent tag so the
// synthesised fallback classifier recognises at least the tag's own words.
// "timer.set" matches "timer set", "timer_set" matches "timer set", etc.
func rulesFromIntents(intents []string) []keyword.Rule {
	rules := make([]keyword.Rule, 0, len(intents))
	for _, tag := range intents {
		phrase := strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(tag)
		rules = append(rules, keyword.Rule{Tag: tag, Patterns: []string{phrase}})
	}
	return rules
}

// buildHTTPServer assembles the diagnostics mux: health probes, Prometheus
// metrics, and the observability middleware.
func (a *App) buildHTTPServer() *http.Server {
	mux := http.NewServeMux()

	h := health.New(health.Checker{
		Name: "pipeline",
		Check: func(context.Context) error {
			if !a.orch.Running() {
				return fmt.Errorf("capture loop not running")
			}
			return nil
		},
	})
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the pipeline and the diagnostics server and blocks until ctx is
// cancelled or a subsystem fails fatally.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.orch.Run(gctx)
	})

	g.Go(func() error {
		a.logEvents(gctx)
		return nil
	})

	if a.httpSrv != nil {
		g.Go(func() error {
			slog.Info("diagnostics server listening", "addr", a.httpSrv.Addr)
			if err := a.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("diagnostics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.httpSrv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// logEvents drains the orchestrator's event stream into structured logs so
// every session is reconstructable from log output alone.
func (a *App) logEvents(ctx context.Context) {
	events := a.orch.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			logEvent(ev)
		}
	}
}

// logEvent maps one pipeline event to a log line at the appropriate level.
func logEvent(ev pipeline.Event) {
	attrs := []any{"utterance_id", ev.UtteranceID}
	switch {
	case ev.Transcript != nil:
		attrs = append(attrs, "text", ev.Transcript.Text, "final", ev.Transcript.Final)
	case ev.Intent != nil:
		attrs = append(attrs, "tag", ev.Intent.Tag,
			"confidence", ev.Intent.Confidence, "provisional", ev.Intent.Provisional)
	}
	if ev.Stage != "" {
		attrs = append(attrs, "stage", ev.Stage, "provider", ev.Provider)
	}

	switch ev.Type {
	case pipeline.EventFailed:
		attrs = append(attrs, "error", ev.Err)
		slog.Error("utterance failed", attrs...)
	case pipeline.EventDegraded:
		slog.Warn("stage served by fallback provider", attrs...)
	case pipeline.EventPartialTranscript:
		slog.Debug(string(ev.Type), attrs...)
	default:
		slog.Info(string(ev.Type), attrs...)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops capture and releases all resources. Safe to call more than
// once; only the first call does the work. The capture source is closed
// first so the orchestrator's Run loop drains out on its own.
func (a *App) Shutdown(_ context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
