// Package pcmio adapts raw little-endian 16-bit PCM byte streams to the
// pipeline's [audio.FrameSource] and [audio.Sink] interfaces.
//
// It is the simplest real transport: pipe capture audio into stdin with any
// recorder that emits raw PCM (arecord, sox, ffmpeg) and play stdout with the
// matching player. It also doubles as a file-replay source for offline runs.
package pcmio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cadenza-ai/cadenza/pkg/audio"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// ─── ReaderSource ────────────────────────────────────────────────────────────

// ReaderSource frames a raw PCM byte stream from an [io.Reader] into
// fixed-duration capture frames.
type ReaderSource struct {
	r          io.Reader
	sampleRate int
	channels   int
	frameBytes int
	realtime   bool

	frames    chan types.AudioFrame
	closeOnce sync.Once
	closed    chan struct{}
}

var _ audio.FrameSource = (*ReaderSource)(nil)

// NewReaderSource creates a source that reads from r and emits frames of the
// given duration. When realtime is true the source paces reads to the frame
// cadence, so replaying a file behaves like live capture; leave it false when
// the reader itself is paced (a live microphone pipe).
func NewReaderSource(r io.Reader, sampleRate, channels int, frameDuration time.Duration, realtime bool) (*ReaderSource, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("pcmio: invalid format %d Hz / %d ch", sampleRate, channels)
	}
	if frameDuration <= 0 {
		return nil, fmt.Errorf("pcmio: frame duration must be positive")
	}
	samples := int(frameDuration * time.Duration(sampleRate) / time.Second)
	if samples == 0 {
		return nil, fmt.Errorf("pcmio: frame duration %s too short for %d Hz", frameDuration, sampleRate)
	}

	s := &ReaderSource{
		r:          r,
		sampleRate: sampleRate,
		channels:   channels,
		frameBytes: samples * channels * 2,
		realtime:   realtime,
		frames:     make(chan types.AudioFrame, 4),
		closed:     make(chan struct{}),
	}
	go s.readLoop(frameDuration)
	return s, nil
}

// Frames implements [audio.FrameSource].
func (s *ReaderSource) Frames() <-chan types.AudioFrame { return s.frames }

// Close implements [audio.FrameSource]. The read loop drains out and closes
// the frames channel on its next read.
func (s *ReaderSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// readLoop reads fixed-size frames until EOF, a read error, or Close.
func (s *ReaderSource) readLoop(frameDuration time.Duration) {
	defer close(s.frames)

	var (
		seq    uint64
		ticker *time.Ticker
	)
	if s.realtime {
		ticker = time.NewTicker(frameDuration)
		defer ticker.Stop()
	}

	for {
		buf := make([]byte, s.frameBytes)
		n, err := io.ReadFull(s.r, buf)
		if err != nil {
			// A short trailing frame at EOF is still delivered.
			if n == 0 {
				return
			}
			buf = buf[:n]
		}

		frame := types.AudioFrame{
			PCM:        buf,
			Seq:        seq,
			SampleRate: s.sampleRate,
			Channels:   s.channels,
			Captured:   time.Now(),
		}
		seq++

		select {
		case s.frames <- frame:
		case <-s.closed:
			return
		}
		if err != nil {
			return
		}

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-s.closed:
				return
			}
		}
	}
}

// ─── WriterSink ──────────────────────────────────────────────────────────────

// WriterSink writes synthesised chunk PCM to an [io.Writer]. Writes are
// serialised; Flush is a no-op because nothing is buffered beyond the writer
// itself.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

var _ audio.Sink = (*WriterSink)(nil)

// NewWriterSink creates a sink that appends each chunk's PCM to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Play implements [audio.Sink].
func (s *WriterSink) Play(ctx context.Context, chunk types.AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("pcmio: sink closed")
	}
	if _, err := s.w.Write(chunk.PCM); err != nil {
		return fmt.Errorf("pcmio: write chunk: %w", err)
	}
	return nil
}

// Flush implements [audio.Sink].
func (s *WriterSink) Flush() error { return nil }

// Close implements [audio.Sink].
func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
