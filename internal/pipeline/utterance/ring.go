package utterance

import (
	"context"
	"errors"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// ErrRingClosed is returned by [FrameRing.Send] after CloseWrites.
var ErrRingClosed = errors.New("utterance: frame ring is closed for writes")

// FrameRing is the bounded frame buffer between capture and transcription.
//
// Capacity is fixed at construction. When the consumer lags, Send blocks
// until space frees up: backpressure propagates to the capture loop rather
// than dropping speech. CloseWrites ends the stream so the consumer's range
// loop terminates after draining.
//
// Send and CloseWrites must be called from the same goroutine (the capture
// loop). Frames may be consumed concurrently.
type FrameRing struct {
	ch      chan types.AudioFrame
	closed  bool
	onStall func()
}

// NewFrameRing creates a ring holding up to capacity frames. onStall, when
// non-nil, is invoked each time a send finds the ring full before blocking;
// the pipeline uses it to count backpressure stalls.
func NewFrameRing(capacity int, onStall func()) *FrameRing {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameRing{
		ch:      make(chan types.AudioFrame, capacity),
		onStall: onStall,
	}
}

// Send enqueues one frame, blocking while the ring is full. It returns
// ctx.Err() if ctx is cancelled while blocked, and [ErrRingClosed] after
// CloseWrites.
func (r *FrameRing) Send(ctx context.Context, frame types.AudioFrame) error {
	if r.closed {
		return ErrRingClosed
	}

	select {
	case r.ch <- frame:
		return nil
	default:
	}

	if r.onStall != nil {
		r.onStall()
	}
	select {
	case r.ch <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseWrites marks the end of the utterance's audio. Buffered frames remain
// readable; the Frames channel closes once they are drained. Safe to call
// more than once.
func (r *FrameRing) CloseWrites() {
	if r.closed {
		return
	}
	r.closed = true
	close(r.ch)
}

// Frames returns the consumer side of the ring. The channel closes after
// CloseWrites once all buffered frames have been read.
func (r *FrameRing) Frames() <-chan types.AudioFrame {
	return r.ch
}

// Len returns the number of frames currently buffered.
func (r *FrameRing) Len() int {
	return len(r.ch)
}

// Cap returns the ring capacity.
func (r *FrameRing) Cap() int {
	return cap(r.ch)
}
