// Package mock provides in-memory implementations of [audio.FrameSource] and
// [audio.Sink] for use in unit tests.
//
// The Source replays a scripted frame sequence (or accepts frames pushed by
// the test); the Sink records every played chunk. Both are safe for
// concurrent use.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/cadenza-ai/cadenza/pkg/audio"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Compile-time interface assertions.
var (
	_ audio.FrameSource = (*Source)(nil)
	_ audio.Sink        = (*Sink)(nil)
)

// Source is a mock [audio.FrameSource] fed by the test via [Source.Push].
type Source struct {
	mu     sync.Mutex
	ch     chan types.AudioFrame
	seq    uint64
	closed bool
}

// NewSource creates a Source with a frame channel of the given buffer depth.
func NewSource(buffer int) *Source {
	return &Source{ch: make(chan types.AudioFrame, buffer)}
}

// Push delivers a frame carrying pcm at the given sample rate, assigning the
// next sequence number and a capture timestamp. It blocks when the channel
// buffer is full. Push after Close is a no-op.
func (s *Source) Push(pcm []byte, sampleRate int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	frame := types.AudioFrame{
		PCM:        pcm,
		Seq:        s.seq,
		SampleRate: sampleRate,
		Channels:   1,
		Captured:   time.Now(),
	}
	s.mu.Unlock()
	s.ch <- frame
}

// Frames implements [audio.FrameSource].
func (s *Source) Frames() <-chan types.AudioFrame { return s.ch }

// Close implements [audio.FrameSource]. It closes the frame channel.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return nil
}

// Sink is a mock [audio.Sink] that records every chunk passed to Play.
type Sink struct {
	mu sync.Mutex

	// PlayError, when non-nil, is returned by every Play call.
	PlayError error

	played  []types.AudioChunk
	flushes int
	closed  bool
}

// NewSink creates an empty recording Sink.
func NewSink() *Sink { return &Sink{} }

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, chunk types.AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PlayError != nil {
		return s.PlayError
	}
	s.played = append(s.played, chunk)
	return nil
}

// Flush implements [audio.Sink]. It discards recorded chunks and counts the
// call.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	s.played = nil
	return nil
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Played returns a snapshot of all chunks accepted so far.
func (s *Sink) Played() []types.AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AudioChunk, len(s.played))
	copy(out, s.played)
	return out
}

// Flushes returns how many times Flush was called.
func (s *Sink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}
