// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A synthesizer wraps a speech synthesis service (ElevenLabs, a local Piper
// instance) and presents a uniform streaming interface: it consumes response
// fragments as they are generated and emits raw PCM audio chunks as they are
// synthesised, so playback starts before the full response text exists.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// SynthesizeStream consumes response fragments and returns a channel
	// that emits PCM audio chunks as they are synthesised. Chunks carry
	// monotonically increasing Seq values and the FragmentSeq of the
	// fragment they (approximately) voice.
	//
	// The audio channel is closed by the implementation when all fragments
	// have been synthesised or when ctx is cancelled; cancellation stops
	// chunk delivery promptly even mid-fragment. The caller must drain the
	// channel to avoid blocking internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Faults
	// during synthesis are signalled by closing the audio channel early;
	// callers check ctx.Err() to distinguish cancellation from backend
	// faults.
	SynthesizeStream(ctx context.Context, fragments <-chan types.ResponseFragment) (<-chan types.AudioChunk, error)
}
