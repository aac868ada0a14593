// Package audio defines the transport-facing audio interfaces consumed by the
// Cadenza pipeline: a [FrameSource] that pushes capture frames into the
// orchestrator and a [Sink] that accepts synthesised chunks for playback.
//
// The underlying transport (shared memory, RTP/UDP, USB, a local device) is
// opaque to the core: implementations live behind these interfaces and are
// selected at wiring time. The package also provides small PCM helpers shared
// by the wake gate, the silence endpointer, and the barge-in controller.
package audio

import (
	"context"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// FrameSource delivers capture frames at a fixed cadence. It is the leaf
// dependency of the pipeline graph.
//
// Implementations must close the Frames channel when the source ends or is
// closed, and must assign strictly increasing Seq values.
type FrameSource interface {
	// Frames returns the read-only channel on which capture frames are
	// delivered. The channel is owned by the source and closed by it.
	Frames() <-chan types.AudioFrame

	// Close stops capture and closes the Frames channel. Safe to call more
	// than once; subsequent calls return nil.
	Close() error
}

// Sink accepts synthesised audio chunks for playback.
//
// Implementations are expected to buffer internally; Play may block when the
// device queue is full, which is the pipeline's playback backpressure point.
type Sink interface {
	// Play enqueues chunk for playback. It blocks until the chunk is accepted
	// or ctx is cancelled.
	Play(ctx context.Context, chunk types.AudioChunk) error

	// Flush discards any chunks queued but not yet played. Used by the
	// hard-stop cancellation path.
	Flush() error

	// Close releases the playback device. Safe to call more than once.
	Close() error
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when the data from a streaming channel
// is no longer needed (e.g., an abandoned synthesis stream).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
