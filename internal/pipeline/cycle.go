package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/cadenza-ai/cadenza/internal/intentcache"
	"github.com/cadenza-ai/cadenza/internal/observe"
	"github.com/cadenza-ai/cadenza/internal/pipeline/utterance"
	"github.com/cadenza-ai/cadenza/internal/resilience"
	"github.com/cadenza-ai/cadenza/pkg/audio"
	"github.com/cadenza-ai/cadenza/pkg/provider/asr"
	"github.com/cadenza-ai/cadenza/pkg/provider/nlu"
	"github.com/cadenza-ai/cadenza/pkg/provider/respond"
	"github.com/cadenza-ai/cadenza/pkg/provider/tts"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Utterance outcomes, used as the metric label on cadenza.utterances.
const (
	outcomeCompleted = "completed"
	outcomeCancelled = "cancelled"
	outcomeFailed    = "failed"
)

// speculation is the fast path's in-flight state: a staged provisional
// intent and the bounded buffer its speculative response is accumulating
// into. Staged fragments never reach synthesis until the proposal is
// confirmed against the committed transcript.
type speculation struct {
	proposal *intentcache.Proposal
	staging  chan types.ResponseFragment
	cancel   context.CancelFunc
}

// runUtterance drives one full utterance cycle and releases the active slot
// when done.
func (o *Orchestrator) runUtterance(act *activeUtterance) {
	u := act.u
	defer close(act.done)
	defer o.clearActive(act)

	// Metrics must record even after the utterance context is cancelled.
	base := context.WithoutCancel(u.Context())
	o.metrics.ActiveUtterances.Add(base, 1)
	defer o.metrics.ActiveUtterances.Add(base, -1)

	o.emit(Event{Type: EventUtteranceStarted, UtteranceID: u.ID()})

	outcome := o.cycle(act)
	o.metrics.RecordUtterance(base, outcome)
	slog.Info("utterance finished",
		"utterance_id", u.ID(),
		"outcome", outcome,
		"state", u.State().String(),
		"elapsed", time.Since(u.Started()))
}

// cycle runs transcription, classification, reconciliation, generation,
// synthesis, and playback for one utterance, returning the outcome label.
func (o *Orchestrator) cycle(act *activeUtterance) string {
	u := act.u
	ctx := u.Context()

	final, spec, err := o.transcribe(act)
	if err != nil {
		if ctx.Err() != nil {
			return o.cancelled(act)
		}
		o.speakFallback(act)
		o.failUtterance(act, StageASR, err)
		return outcomeFailed
	}

	if strings.TrimSpace(final.Text) == "" {
		// Nothing recognisable was said; apologise rather than go silent.
		if spec != nil {
			spec.discard()
		}
		o.speakFallback(act)
		_ = u.Transition(utterance.StateCompleted)
		o.emit(Event{Type: EventCompleted, UtteranceID: u.ID()})
		return outcomeCompleted
	}

	confirmed, err := o.classify(ctx, u, final.Text, false)
	if err != nil {
		if ctx.Err() != nil {
			if spec != nil {
				spec.discard()
			}
			return o.cancelled(act)
		}
		if spec != nil {
			spec.discard()
		}
		o.speakFallback(act)
		o.failUtterance(act, StageNLU, err)
		return outcomeFailed
	}
	o.emit(Event{Type: EventIntent, UtteranceID: u.ID(), Intent: &confirmed})

	if err := u.Transition(utterance.StateResponding); err != nil {
		slog.Debug("transition rejected", "error", err)
	}

	frags := o.reconcile(ctx, u, spec, final.Text, confirmed)
	if frags == nil {
		var err error
		frags, err = o.generate(ctx, u, confirmed)
		if err != nil {
			if ctx.Err() != nil {
				return o.cancelled(act)
			}
			o.speakFallback(act)
			o.failUtterance(act, StageRespond, err)
			return outcomeFailed
		}
	}

	played, sawLast, err := o.synthesizeAndPlay(act, frags)
	if ctx.Err() != nil {
		return o.cancelled(act)
	}
	if err != nil {
		if !played {
			o.speakFallback(act)
		}
		o.failUtterance(act, StageTTS, err)
		return outcomeFailed
	}
	if !sawLast {
		// Generation aborted mid-stream (fault or timeout).
		o.metrics.RecordProviderError(ctx, o.cfg.Providers.Respond.Name, StageRespond)
		if !played {
			o.speakFallback(act)
			o.failUtterance(act, StageRespond, context.DeadlineExceeded)
			return outcomeFailed
		}
		slog.Warn("response truncated mid-generation", "utterance_id", u.ID())
	}

	_ = u.Transition(utterance.StateCompleted)
	o.emit(Event{Type: EventCompleted, UtteranceID: u.ID()})
	return outcomeCompleted
}

// cancelled finishes a cancelled cycle's bookkeeping. With a hard stop
// configured, whatever playback has buffered is dropped; a graceful stop
// lets it run out.
func (o *Orchestrator) cancelled(act *activeUtterance) string {
	if o.cfg.Pipeline.HardStop {
		_ = o.sink.Flush()
	}
	o.emit(Event{Type: EventCancelled, UtteranceID: act.u.ID(), Err: act.u.Cause()})
	return outcomeCancelled
}

// failUtterance records a stage fault and tears the utterance down. The
// fault stays scoped to the utterance; the capture loop is untouched.
func (o *Orchestrator) failUtterance(act *activeUtterance, stage string, err error) {
	u := act.u
	f := fault(stage, u.ID(), err)
	slog.Error("utterance failed",
		"utterance_id", u.ID(), "stage", stage, "error", err)
	o.metrics.RecordProviderError(context.WithoutCancel(u.Context()), "pipeline", stage)
	o.emit(Event{Type: EventFailed, UtteranceID: u.ID(), Stage: stage, Err: f})
	_ = u.Transition(utterance.StateFailed)
	u.Cancel(f)
}

// noteServed reports degraded service when a stage was handled by a
// fallback provider.
func (o *Orchestrator) noteServed(ctx context.Context, u *utterance.Utterance, stage, name string, primary bool) {
	if primary {
		return
	}
	o.metrics.RecordFallback(ctx, name, stage)
	o.emit(Event{Type: EventDegraded, UtteranceID: u.ID(), Stage: stage, Provider: name})
}

// ─── transcription ───

// transcribe feeds the utterance's frames to the ASR session, runs the fast
// path over interim transcripts, and returns the committed transcript.
func (o *Orchestrator) transcribe(act *activeUtterance) (types.Transcript, *speculation, error) {
	u := act.u
	ctx := u.Context()

	scfg := asr.StreamConfig{
		SampleRate: o.cfg.Audio.SampleRate,
		Channels:   o.cfg.Audio.Channels,
		Language:   o.cfg.Providers.ASR.Language,
	}
	session, name, err := resilience.ExecuteWithResult(o.asr, func(m asr.Model) (asr.Session, error) {
		return m.StartUtterance(ctx, scfg)
	})
	if err != nil {
		return types.Transcript{}, nil, err
	}
	defer session.Close()
	o.noteServed(ctx, u, StageASR, name, o.asr.Primary(name))

	asrStart := time.Now()

	// The fast path receives interim transcripts through a latest-wins
	// mailbox so a slow classifier never backs up the feed loop.
	var (
		spec     *speculation
		partials chan types.Transcript
		wg       sync.WaitGroup
	)
	if o.recon != nil {
		spec = &speculation{}
		partials = make(chan types.Transcript, 1)
		wg.Add(1)
		go o.fastPath(ctx, u, partials, spec, &wg)
	}

	var prev types.Transcript
	var feedErr error
feed:
	for {
		select {
		case <-ctx.Done():
			// Cancellation may arrive while the ring is still open; do not
			// wait for frames that will never come.
			feedErr = ctx.Err()
			break feed
		case frame, ok := <-u.Ring().Frames():
			if !ok {
				break feed
			}
			t, err := session.Feed(ctx, frame)
			if err != nil {
				feedErr = err
				break feed
			}
			if t == nil {
				continue
			}
			u.Stamp(t)
			if prev.Text != "" && !t.Covers(prev) {
				// Interims must grow monotonically; drop regressions.
				continue
			}
			prev = *t
			o.emit(Event{Type: EventPartialTranscript, UtteranceID: u.ID(), Transcript: t})
			if partials != nil {
				deposit(partials, *t)
			}
		}
	}

	if partials != nil {
		close(partials)
	}
	wg.Wait()

	if feedErr != nil {
		if spec != nil {
			spec.discard()
		}
		return types.Transcript{}, nil, feedErr
	}

	final, err := session.Finalize(ctx)
	if err != nil {
		if spec != nil {
			spec.discard()
		}
		return types.Transcript{}, nil, err
	}
	u.Stamp(&final)
	o.metrics.ASRDuration.Record(ctx, time.Since(asrStart).Seconds())
	o.emit(Event{Type: EventFinalTranscript, UtteranceID: u.ID(), Transcript: &final})
	return final, spec, nil
}

// deposit places t in the mailbox, displacing any unread older interim.
func deposit(mailbox chan types.Transcript, t types.Transcript) {
	for {
		select {
		case mailbox <- t:
			return
		default:
			select {
			case <-mailbox:
			default:
			}
		}
	}
}

// ─── fast path ───

// minFastPathWords is how many words an interim transcript needs before the
// fast path bothers classifying it. One-word interims carry too little
// signal to speculate on.
const minFastPathWords = 2

// fastPath watches interim transcripts and, at most once per utterance,
// stages a provisional intent plus a speculative response. The speculative
// generation writes into a bounded staging buffer and blocks when it fills;
// nothing reaches synthesis until [Orchestrator.reconcile] confirms the
// proposal.
func (o *Orchestrator) fastPath(ctx context.Context, u *utterance.Utterance, partials <-chan types.Transcript, spec *speculation, wg *sync.WaitGroup) {
	defer wg.Done()

	for t := range partials {
		if len(strings.Fields(t.Text)) < minFastPathWords {
			continue
		}

		intent, fromCache := o.provisionalIntent(ctx, u, t.Text)
		if intent == nil {
			continue
		}
		o.emit(Event{Type: EventIntent, UtteranceID: u.ID(), Intent: intent})

		spec.proposal = o.recon.Propose(t.Text, *intent, fromCache)

		specCtx, cancel := context.WithTimeout(ctx, o.cfg.Providers.Respond.Timeout.Std())
		spec.cancel = cancel

		frags, name, err := resilience.ExecuteWithResult(o.gen, func(g respond.Generator) (<-chan types.ResponseFragment, error) {
			return g.Generate(specCtx, *intent)
		})
		if err != nil {
			// Speculation could not start; the confirmed path will
			// generate from scratch.
			slog.Debug("speculative generation failed to start",
				"utterance_id", u.ID(), "error", err)
			spec.proposal = nil
			cancel()
			return
		}
		o.noteServed(ctx, u, StageRespond, name, o.gen.Primary(name))

		staging := make(chan types.ResponseFragment, o.cfg.Pipeline.FragmentBuffer)
		spec.staging = staging
		// The timeout's cancel fires when the stream ends, not when the
		// timer expires.
		go func() {
			defer cancel()
			defer close(staging)
			for f := range frags {
				select {
				case staging <- f:
				case <-specCtx.Done():
					return
				}
			}
		}()
		return
	}
}

// provisionalIntent derives a provisional intent for a partial transcript,
// preferring the fuzzy cache over a classifier round-trip. Returns nil when
// no candidate clears the fast-path confidence bar.
func (o *Orchestrator) provisionalIntent(ctx context.Context, u *utterance.Utterance, text string) (*types.Intent, bool) {
	if o.cache != nil {
		if cached, res := o.cache.Get(text); res != intentcache.Miss {
			o.metrics.RecordCacheLookup(ctx, res.String())
			cached.UtteranceID = u.ID()
			cached.Provisional = true
			return &cached, true
		}
		o.metrics.RecordCacheLookup(ctx, intentcache.Miss.String())
	}

	intent, err := o.classify(ctx, u, text, true)
	if err != nil {
		slog.Debug("provisional classification failed",
			"utterance_id", u.ID(), "error", err)
		return nil, false
	}
	if intent.Confidence < o.cfg.Providers.NLU.FastPathConfidence {
		return nil, false
	}
	intent.Provisional = true
	return &intent, false
}

// classify runs the classifier group over text and records stage latency.
func (o *Orchestrator) classify(ctx context.Context, u *utterance.Utterance, text string, provisional bool) (types.Intent, error) {
	pass := "confirmed"
	if provisional {
		pass = "provisional"
	}
	start := time.Now()
	intent, name, err := resilience.ExecuteWithResult(o.nlu, func(c nlu.Classifier) (types.Intent, error) {
		return c.Classify(ctx, text)
	})
	o.metrics.NLUDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("pass", pass)))
	if err != nil {
		return types.Intent{}, err
	}
	intent.UtteranceID = u.ID()
	o.noteServed(ctx, u, StageNLU, name, o.nlu.Primary(name))
	return intent, nil
}

// ─── reconciliation and generation ───

// reconcile resolves the speculative fast path against the confirmed
// intent. On a confirmed match it returns the staging buffer as the
// fragment source, releasing the speculative response to synthesis. On a
// mismatch (or no speculation) it returns nil and the caller generates from
// the confirmed intent.
func (o *Orchestrator) reconcile(ctx context.Context, u *utterance.Utterance, spec *speculation, finalText string, confirmed types.Intent) <-chan types.ResponseFragment {
	if spec == nil || spec.proposal == nil {
		if o.cache != nil {
			o.cache.Put(finalText, confirmed)
		}
		if o.recon != nil {
			o.metrics.FastPathResults.Add(ctx, 1,
				metric.WithAttributes(observe.Attr("result", "skipped")))
		}
		return nil
	}

	outcome := o.recon.Confirm(spec.proposal, finalText, confirmed)
	o.metrics.FastPathResults.Add(ctx, 1,
		metric.WithAttributes(observe.Attr("result", outcome.String())))

	if outcome == intentcache.Confirmed {
		slog.Debug("fast path confirmed, releasing staged response",
			"utterance_id", u.ID(), "intent", confirmed.Tag)
		return spec.staging
	}

	slog.Debug("fast path mismatch, regenerating",
		"utterance_id", u.ID(),
		"provisional", spec.proposal.Intent.Tag,
		"confirmed", confirmed.Tag)
	spec.discard()
	return nil
}

// discard cancels speculative generation and drains its staging buffer so
// the producer goroutine exits.
func (s *speculation) discard() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.staging != nil {
		go func(ch <-chan types.ResponseFragment) {
			for range ch {
			}
		}(s.staging)
	}
}

// generate starts a confirmed-path response generation, bounded by the
// configured generation timeout.
func (o *Orchestrator) generate(ctx context.Context, u *utterance.Utterance, intent types.Intent) (<-chan types.ResponseFragment, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.cfg.Providers.Respond.Timeout.Std())

	frags, name, err := resilience.ExecuteWithResult(o.gen, func(g respond.Generator) (<-chan types.ResponseFragment, error) {
		return g.Generate(genCtx, intent)
	})
	if err != nil {
		cancel()
		return nil, err
	}
	o.noteServed(ctx, u, StageRespond, name, o.gen.Primary(name))

	// Re-home the stream so the timeout's cancel fires when it ends.
	out := make(chan types.ResponseFragment, o.cfg.Pipeline.FragmentBuffer)
	go func() {
		defer cancel()
		defer close(out)
		for f := range frags {
			select {
			case out <- f:
			case <-genCtx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ─── synthesis and playback ───

// synthesizeAndPlay streams fragments through the synthesizer group into
// the playback sink. It reports whether any audio was played and whether
// the fragment stream completed with its terminal marker.
func (o *Orchestrator) synthesizeAndPlay(act *activeUtterance, frags <-chan types.ResponseFragment) (played bool, sawLast bool, err error) {
	u := act.u
	ctx := u.Context()

	var lastSeen atomic.Bool
	respondStart := time.Now()

	ttsIn := make(chan types.ResponseFragment, o.cfg.Pipeline.FragmentBuffer)
	go func() {
		defer close(ttsIn)
		for f := range frags {
			f.UtteranceID = u.ID()
			if f.Last {
				lastSeen.Store(true)
				o.metrics.RespondDuration.Record(ctx, time.Since(respondStart).Seconds())
			}
			select {
			case ttsIn <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	chunks, name, err := resilience.ExecuteWithResult(o.tts, func(s tts.Synthesizer) (<-chan types.AudioChunk, error) {
		return s.SynthesizeStream(ctx, ttsIn)
	})
	if err != nil {
		go drainFragments(ttsIn)
		return false, lastSeen.Load(), err
	}
	o.noteServed(ctx, u, StageTTS, name, o.tts.Primary(name))

	ttsStart := time.Now()
	first := true
	for chunk := range chunks {
		chunk.UtteranceID = u.ID()
		if first {
			first = false
			played = true
			if terr := u.Transition(utterance.StateSpeaking); terr != nil {
				slog.Debug("transition rejected", "error", terr)
			}
			o.barge.Arm()
			o.emit(Event{Type: EventSpeaking, UtteranceID: u.ID()})
			if eos := u.EndOfSpeech(); !eos.IsZero() {
				o.metrics.ResponseLatency.Record(ctx, time.Since(eos).Seconds())
			}
		}
		if perr := o.sink.Play(ctx, chunk); perr != nil {
			o.barge.Disarm()
			go audio.Drain(chunks)
			return played, lastSeen.Load(), fault(StagePlay, u.ID(), perr)
		}
	}
	o.barge.Disarm()
	o.metrics.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds())
	return played, lastSeen.Load(), nil
}

// drainFragments discards a fragment stream so its producer can exit.
func drainFragments(ch <-chan types.ResponseFragment) {
	for range ch {
	}
}

// speakFallback plays the terminal canned response so a failed cycle never
// ends in silence. Best-effort: if even the template generator or the
// synthesizer chain is down, the failure stands as-is.
func (o *Orchestrator) speakFallback(act *activeUtterance) {
	u := act.u
	ctx := u.Context()
	if ctx.Err() != nil {
		return
	}

	frags, err := o.fbGen.Generate(ctx, types.Intent{
		UtteranceID: u.ID(),
		Tag:         nlu.UnknownTag,
	})
	if err != nil {
		slog.Warn("fallback response unavailable", "utterance_id", u.ID(), "error", err)
		return
	}
	if _, _, err := o.synthesizeAndPlay(act, frags); err != nil {
		slog.Warn("fallback playback failed", "utterance_id", u.ID(), "error", err)
	}
}
