package pipeline

import (
	"errors"
	"fmt"
)

// Cancellation causes. These are passed to the utterance context's cancel
// cause so stage workers can tell why they were stopped.
var (
	// ErrBargeIn cancels an utterance because the user spoke over playback.
	ErrBargeIn = errors.New("pipeline: barge-in")

	// ErrShutdown cancels an utterance because the pipeline is stopping.
	ErrShutdown = errors.New("pipeline: shutting down")

	// ErrMaxUtterance cancels an utterance that hit the hard length cap.
	ErrMaxUtterance = errors.New("pipeline: utterance exceeded maximum duration")
)

// Stage names used in fault reporting and metrics.
const (
	StageASR     = "asr"
	StageNLU     = "nlu"
	StageRespond = "respond"
	StageTTS     = "tts"
	StagePlay    = "playback"
)

// StageFault wraps a provider error with the pipeline stage it occurred in.
// Stage faults fail the utterance but never the pipeline: the capture loop
// keeps running and the next wake starts a fresh cycle.
type StageFault struct {
	Stage       string
	UtteranceID string
	Err         error
}

// Error implements the error interface.
func (f *StageFault) Error() string {
	return fmt.Sprintf("pipeline: %s stage failed for utterance %s: %v", f.Stage, f.UtteranceID, f.Err)
}

// Unwrap returns the underlying provider error.
func (f *StageFault) Unwrap() error { return f.Err }

// fault constructs a StageFault.
func fault(stage, utteranceID string, err error) *StageFault {
	return &StageFault{Stage: stage, UtteranceID: utteranceID, Err: err}
}
