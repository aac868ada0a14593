// Package types defines the shared data model used across all Cadenza packages.
//
// These types form the lingua franca between providers, pipeline stages, and the
// orchestrator. They are intentionally minimal; each package defines its own
// domain types, but cross-cutting data structures live here to avoid circular
// imports.
package types

import "time"

// AudioFrame is a fixed-duration block of PCM samples flowing into the
// pipeline. Frames are the atomic unit of audio capture: the wake gate, the
// utterance buffer, and the ASR stage all consume them one at a time.
//
// A frame is immutable once produced. Ownership transfers with the frame as it
// is handed from one stage's outbox to the next stage's inbox; no two stages
// ever hold a mutable reference to the same frame.
type AudioFrame struct {
	// PCM is little-endian 16-bit PCM sample data.
	PCM []byte

	// Seq is the monotonic sequence number assigned by the frame source.
	Seq uint64

	// SampleRate in Hz (e.g., 16000 for ASR input).
	SampleRate int

	// Channels: 1 for mono (ASR input), 2 for stereo playback paths.
	Channels int

	// Captured is the capture timestamp assigned by the frame source.
	Captured time.Time
}

// Duration returns the play time covered by the frame, derived from the PCM
// length and the sample rate. Returns zero for malformed frames.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.PCM) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// AudioChunk is a block of synthesised PCM produced by the TTS stage, ready
// for playback.
type AudioChunk struct {
	// PCM is little-endian 16-bit PCM sample data.
	PCM []byte

	// Seq is the chunk's sequence index within the response.
	Seq int

	// FragmentSeq identifies the response fragment this chunk was synthesised
	// from.
	FragmentSeq int

	// UtteranceID is the utterance this chunk belongs to.
	UtteranceID string
}

// WakeEvent is emitted by the wake gate when the trigger phrase is detected.
type WakeEvent struct {
	// FrameSeq is the sequence number of the frame that completed the trigger.
	FrameSeq uint64

	// Score is the detector score that crossed the trigger threshold.
	Score float64

	// At is the capture timestamp of the triggering frame.
	At time.Time
}

// Transcript is a speech-to-text result for one utterance. Both partial
// (interim) and final transcripts use this type.
//
// Partial transcripts are monotonically increasing in covered frame range; a
// final transcript supersedes every partial emitted for its utterance.
type Transcript struct {
	// UtteranceID is the utterance this transcript covers.
	UtteranceID string

	// Text is the transcribed speech content.
	Text string

	// Final indicates whether this is the authoritative end-of-utterance
	// result. Exactly one final transcript is produced per utterance.
	Final bool

	// Confidence is the recognition confidence (0.0–1.0). May be zero if the
	// model does not report confidence.
	Confidence float64

	// FrameStart and FrameEnd are the inclusive frame-sequence range covered
	// by this transcript.
	FrameStart uint64
	FrameEnd   uint64
}

// Covers reports whether the transcript's frame range is at least as wide as
// prev's. Used to enforce the monotonic-coverage invariant on partials.
func (t Transcript) Covers(prev Transcript) bool {
	return t.FrameEnd >= prev.FrameEnd && t.FrameStart <= prev.FrameStart
}

// Intent is the structured interpretation of one utterance: a tag plus slot
// values. At most one confirmed intent exists per utterance; a re-derivation
// from a corrected final transcript replaces the prior one (last write wins).
type Intent struct {
	// UtteranceID back-references the utterance the intent was derived from.
	UtteranceID string

	// Tag is the intent category (e.g., "weather.query", "timer.set").
	Tag string

	// Slots maps slot names to extracted values.
	Slots map[string]string

	// Confidence is the classifier confidence (0.0–1.0).
	Confidence float64

	// Provisional marks a fast-path intent derived from a partial transcript.
	// A provisional intent must be reconciled against the final transcript
	// before its response cycle may reach the TTS stage.
	Provisional bool
}

// Equal reports whether two intents resolve to the same action: same tag and
// identical slot values. Confidence and provenance are ignored.
func (i Intent) Equal(other Intent) bool {
	if i.Tag != other.Tag || len(i.Slots) != len(other.Slots) {
		return false
	}
	for k, v := range i.Slots {
		if other.Slots[k] != v {
			return false
		}
	}
	return true
}

// ResponseFragment is an ordered chunk of response text (or a structured
// action). The full response is the ordered concatenation of fragments up to
// and including the terminal fragment.
type ResponseFragment struct {
	// UtteranceID is the utterance this fragment responds to.
	UtteranceID string

	// Seq is the fragment's sequence index within the response.
	Seq int

	// Text is the fragment's text content. May be empty on a pure action or
	// terminal fragment.
	Text string

	// Action is an optional structured action name carried alongside or
	// instead of text (e.g., "lights.off").
	Action string

	// Last marks the terminal fragment of the response stream.
	Last bool
}
