// Package pipeline contains the orchestrator that drives the full voice
// cycle: wake detection, utterance capture, streaming transcription, intent
// classification with a speculative fast path, response generation, and
// streaming synthesis with barge-in.
//
// One orchestrator owns one capture stream. At most one utterance is in
// flight at any time; frames that arrive while a response is playing feed
// the barge-in controller instead of a second utterance. Stage faults fail
// the utterance, never the pipeline.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/cadenza-ai/cadenza/internal/bargein"
	"github.com/cadenza-ai/cadenza/internal/config"
	"github.com/cadenza-ai/cadenza/internal/intentcache"
	"github.com/cadenza-ai/cadenza/internal/observe"
	"github.com/cadenza-ai/cadenza/internal/pipeline/utterance"
	"github.com/cadenza-ai/cadenza/internal/pipeline/wakegate"
	"github.com/cadenza-ai/cadenza/internal/resilience"
	"github.com/cadenza-ai/cadenza/pkg/audio"
	"github.com/cadenza-ai/cadenza/pkg/provider/asr"
	"github.com/cadenza-ai/cadenza/pkg/provider/nlu"
	"github.com/cadenza-ai/cadenza/pkg/provider/respond"
	"github.com/cadenza-ai/cadenza/pkg/provider/tts"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Deps bundles everything the orchestrator needs. All fields are required
// unless noted.
type Deps struct {
	Config *config.Config

	Source audio.FrameSource
	Sink   audio.Sink

	Gate  *wakegate.Gate
	Barge *bargein.Controller

	ASR *resilience.FallbackGroup[asr.Model]
	NLU *resilience.FallbackGroup[nlu.Classifier]
	Gen *resilience.FallbackGroup[respond.Generator]
	TTS *resilience.FallbackGroup[tts.Synthesizer]

	// FallbackGen produces canned responses when transcription or
	// generation fails outright, so the user never gets silence.
	FallbackGen respond.Generator

	// Cache may be nil when the fast path is disabled.
	Cache *intentcache.Cache

	// Metrics defaults to [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

// activeUtterance pairs an utterance with its capture-side endpointer.
type activeUtterance struct {
	u    *utterance.Utterance
	ep   *utterance.Endpointer
	done chan struct{}
}

// Orchestrator drives the pipeline. Create with [New], start with [Run].
type Orchestrator struct {
	cfg     *config.Config
	source  audio.FrameSource
	sink    audio.Sink
	gate    *wakegate.Gate
	barge   *bargein.Controller
	asr     *resilience.FallbackGroup[asr.Model]
	nlu     *resilience.FallbackGroup[nlu.Classifier]
	gen     *resilience.FallbackGroup[respond.Generator]
	tts     *resilience.FallbackGroup[tts.Synthesizer]
	fbGen   respond.Generator
	cache   *intentcache.Cache
	recon   *intentcache.Reconciler
	metrics *observe.Metrics

	events  chan Event
	running atomic.Bool

	mu     sync.Mutex
	active *activeUtterance
}

// New validates deps and creates an Orchestrator.
func New(d Deps) (*Orchestrator, error) {
	switch {
	case d.Config == nil:
		return nil, fmt.Errorf("pipeline: Config is required")
	case d.Source == nil:
		return nil, fmt.Errorf("pipeline: Source is required")
	case d.Sink == nil:
		return nil, fmt.Errorf("pipeline: Sink is required")
	case d.Gate == nil:
		return nil, fmt.Errorf("pipeline: Gate is required")
	case d.Barge == nil:
		return nil, fmt.Errorf("pipeline: Barge is required")
	case d.ASR == nil || d.NLU == nil || d.Gen == nil || d.TTS == nil:
		return nil, fmt.Errorf("pipeline: all provider groups are required")
	case d.FallbackGen == nil:
		return nil, fmt.Errorf("pipeline: FallbackGen is required")
	}

	m := d.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}

	o := &Orchestrator{
		cfg:     d.Config,
		source:  d.Source,
		sink:    d.Sink,
		gate:    d.Gate,
		barge:   d.Barge,
		asr:     d.ASR,
		nlu:     d.NLU,
		gen:     d.Gen,
		tts:     d.TTS,
		fbGen:   d.FallbackGen,
		cache:   d.Cache,
		metrics: m,
		events:  make(chan Event, 64),
	}
	if o.cache != nil {
		o.recon = intentcache.NewReconciler(o.cache)
	}
	return o, nil
}

// Events returns the diagnostic event stream. Delivery is best-effort;
// consumers that fall behind lose events rather than stalling audio.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Running reports whether the capture loop is active. Used by the readiness
// probe.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Run consumes capture frames until ctx is cancelled or the source closes.
// It blocks; run it in its own goroutine. On exit any in-flight utterance
// is cancelled and awaited up to the configured grace period.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.running.Store(true)
	defer o.running.Store(false)

	frames := o.source.Frames()
	for {
		select {
		case <-ctx.Done():
			o.shutdownActive()
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				o.shutdownActive()
				return nil
			}
			o.handleFrame(ctx, frame)
		}
	}
}

// handleFrame routes one capture frame: to the wake gate when idle, into
// the active utterance's ring while listening, or to the barge-in
// controller while a response is in flight.
func (o *Orchestrator) handleFrame(ctx context.Context, frame types.AudioFrame) {
	act := o.currentActive()

	if act == nil {
		ev, derr := o.gate.Observe(frame)
		if derr != nil {
			// Detector faults are absorbed; the gate keeps scoring.
			slog.Debug("wake detector fault", "error", derr)
			o.metrics.RecordProviderError(ctx, o.cfg.Providers.Wake.Name, "wake")
		}
		if ev != nil {
			o.metrics.WakeDetections.Add(ctx, 1)
			o.emit(Event{Type: EventWake})
			o.startUtterance(ctx)
		}
		return
	}

	switch act.u.State() {
	case utterance.StateListening:
		reason := act.ep.Observe(frame)
		if err := act.u.Ring().Send(act.u.Context(), frame); err != nil {
			// Utterance was cancelled while we were blocked; nothing to do.
			return
		}
		if reason != utterance.EndNone {
			act.u.MarkEndOfSpeech(frame.Captured)
			act.u.Ring().CloseWrites()
			if err := act.u.Transition(utterance.StateFinalizing); err != nil {
				slog.Debug("endpointer transition rejected", "error", err)
			}
			if reason == utterance.EndMaxDuration {
				slog.Warn("utterance hit maximum duration, finalizing early",
					"utterance_id", act.u.ID(),
					"max", o.cfg.Pipeline.MaxUtterance.Std())
			}
		}

	default:
		// Finalizing through Speaking: frames only matter for barge-in.
		if !*o.cfg.BargeIn.Enabled {
			return
		}
		if !o.barge.Observe(frame) {
			return
		}
		o.metrics.BargeIns.Add(ctx, 1,
			metric.WithAttributes(observe.Attr("policy", string(o.cfg.BargeIn.Policy))))
		o.emit(Event{Type: EventBargeIn, UtteranceID: act.u.ID()})

		if o.cfg.BargeIn.Policy == config.BargeReject {
			slog.Debug("barge-in ignored by policy", "utterance_id", act.u.ID())
			return
		}

		act.u.Cancel(ErrBargeIn)
		o.awaitRelease(act)
		// The user is already speaking: open the next utterance without a
		// wake phrase and let this frame seed it.
		o.startUtterance(ctx)
		if next := o.currentActive(); next != nil {
			next.ep.Observe(frame)
			_ = next.u.Ring().Send(next.u.Context(), frame)
		}
	}
}

// startUtterance opens a new utterance and launches its response cycle.
// Caller must have verified no utterance is active.
func (o *Orchestrator) startUtterance(ctx context.Context) {
	u := utterance.New(ctx, o.cfg.Pipeline.FrameBuffer, func() {
		o.metrics.BackpressureStalls.Add(context.Background(), 1)
	})
	act := &activeUtterance{
		u: u,
		ep: utterance.NewEndpointer(
			o.cfg.Pipeline.SilenceThreshold,
			o.cfg.Pipeline.SilenceTimeout.Std(),
			o.cfg.Pipeline.MaxUtterance.Std(),
		),
		done: make(chan struct{}),
	}

	o.mu.Lock()
	o.active = act
	o.mu.Unlock()

	slog.Info("utterance started", "utterance_id", u.ID())
	go o.runUtterance(act)
}

// currentActive returns the in-flight utterance, clearing it first if its
// cycle has finished.
func (o *Orchestrator) currentActive() *activeUtterance {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return nil
	}
	select {
	case <-o.active.done:
		o.active = nil
		return nil
	default:
		return o.active
	}
}

// clearActive releases the active slot if it still belongs to act.
func (o *Orchestrator) clearActive(act *activeUtterance) {
	o.mu.Lock()
	if o.active == act {
		o.active = nil
	}
	o.mu.Unlock()
}

// awaitRelease waits for a cancelled utterance's cycle to wind down, up to
// the grace period. A cycle that overstays is force-released: the active
// slot is freed so the pipeline can continue, and the stragglers exit on
// their own once they observe the cancelled context.
func (o *Orchestrator) awaitRelease(act *activeUtterance) {
	grace := o.cfg.Pipeline.GracePeriod.Std()
	select {
	case <-act.done:
	case <-time.After(grace):
		slog.Warn("utterance exceeded grace period after cancel, force-releasing",
			"utterance_id", act.u.ID(), "grace", grace)
		o.clearActive(act)
	}
}

// shutdownActive cancels any in-flight utterance during pipeline shutdown.
func (o *Orchestrator) shutdownActive() {
	act := o.currentActive()
	if act == nil {
		return
	}
	act.u.Cancel(ErrShutdown)
	o.awaitRelease(act)
}
