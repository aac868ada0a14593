package pipeline

import (
	"time"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// EventType identifies what happened in the pipeline.
type EventType string

const (
	// EventWake fires when the wake gate opens.
	EventWake EventType = "wake"

	// EventUtteranceStarted fires when a new utterance begins capturing.
	EventUtteranceStarted EventType = "utterance_started"

	// EventPartialTranscript fires for each interim transcript.
	EventPartialTranscript EventType = "partial_transcript"

	// EventFinalTranscript fires when the committed transcript is ready.
	EventFinalTranscript EventType = "final_transcript"

	// EventIntent fires when an intent is classified. Provisional intents
	// carry Intent.Provisional=true.
	EventIntent EventType = "intent"

	// EventSpeaking fires when the first audio chunk reaches playback.
	EventSpeaking EventType = "speaking"

	// EventBargeIn fires when the user interrupts playback.
	EventBargeIn EventType = "barge_in"

	// EventCompleted fires when an utterance cycle finishes playback.
	EventCompleted EventType = "completed"

	// EventCancelled fires when an utterance is cancelled.
	EventCancelled EventType = "cancelled"

	// EventFailed fires when an utterance fails on a stage fault.
	EventFailed EventType = "failed"

	// EventDegraded fires when a stage was served by a fallback provider.
	EventDegraded EventType = "degraded"
)

// Event is one observable pipeline occurrence. Consumers subscribe via
// [Orchestrator.Events]; delivery is best-effort and never blocks the
// pipeline.
type Event struct {
	Type        EventType
	UtteranceID string
	At          time.Time

	// Transcript is set on transcript events.
	Transcript *types.Transcript

	// Intent is set on intent events.
	Intent *types.Intent

	// Stage and Provider are set on degraded and failure events.
	Stage    string
	Provider string

	// Err is set on failure events.
	Err error
}

// emit delivers an event without blocking. If the subscriber is not keeping
// up the event is dropped; the event stream is diagnostics, not control
// flow.
func (o *Orchestrator) emit(ev Event) {
	ev.At = time.Now()
	select {
	case o.events <- ev:
	default:
	}
}
