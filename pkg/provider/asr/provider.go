// Package asr defines the Model interface for streaming speech-to-text
// backends.
//
// An ASR model wraps a real-time transcription engine (a local whisper.cpp
// instance, a remote Deepgram stream) behind a per-utterance session: the
// pipeline opens one [Session] per utterance, feeds it capture frames in
// order, and finalises it when the utterance buffer drains. Sessions are
// restartable per utterance but carry no state across utterances.
//
// Implementations must be safe for concurrent use at the Model level;
// a single Session is driven by one pipeline goroutine and need not be.
package asr

import (
	"context"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// StreamConfig describes the audio format for a new ASR session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Most models want 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// models; implementations may downmix internally).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en",
	// "de-DE"). Empty lets the model auto-detect, if supported.
	Language string
}

// Session is an open per-utterance transcription stream.
//
// The caller must call Close when the session is no longer needed, including
// after Finalize. Failing to do so may leak goroutines or connections inside
// the model implementation.
type Session interface {
	// Feed delivers one capture frame for transcription and returns a new
	// partial transcript when the model has one, or nil when it does not.
	// Partials must be monotonically non-decreasing in covered frame range.
	//
	// Feed respects ctx: a cancelled context aborts the call promptly, and
	// any in-flight model work may be abandoned rather than awaited.
	Feed(ctx context.Context, frame types.AudioFrame) (*types.Transcript, error)

	// Finalize flushes buffered audio and returns the authoritative final
	// transcript covering the full utterance. Exactly one final is produced
	// per session; Feed must not be called afterwards.
	Finalize(ctx context.Context) (types.Transcript, error)

	// Close releases the session's resources. Safe to call more than once.
	Close() error
}

// Model is the abstraction over any streaming ASR backend.
type Model interface {
	// StartUtterance opens a transcription session for one utterance.
	// The returned Session is ready to accept frames immediately.
	StartUtterance(ctx context.Context, cfg StreamConfig) (Session, error)
}
