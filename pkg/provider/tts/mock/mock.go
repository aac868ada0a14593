// Package mock provides a deterministic in-memory [tts.Synthesizer] for
// tests. Each fragment synthesises to one PCM chunk whose bytes are derived
// from the fragment text, so tests can assert exact audio ordering.
package mock

import (
	"context"
	"sync"

	"github.com/cadenza-ai/cadenza/pkg/provider/tts"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Compile-time assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesizer is a mock [tts.Synthesizer].
type Synthesizer struct {
	mu sync.Mutex

	// StartErr, when non-nil, is returned by SynthesizeStream.
	StartErr error

	// AbortAfter, when > 0, closes the audio channel after that many
	// chunks, simulating a mid-stream synthesis fault.
	AbortAfter int

	// Release, when set, delays each chunk until the channel yields. Used
	// to hold synthesis open so barge-in can interrupt it.
	Release chan struct{}

	streams int
	texts   []string
}

// SynthesizeStream implements [tts.Synthesizer]. Each fragment becomes one
// chunk with PCM set to the fragment text bytes.
func (s *Synthesizer) SynthesizeStream(ctx context.Context, fragments <-chan types.ResponseFragment) (<-chan types.AudioChunk, error) {
	s.mu.Lock()
	s.streams++
	startErr := s.StartErr
	abortAfter := s.AbortAfter
	release := s.Release
	s.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}

	out := make(chan types.AudioChunk, 8)
	go func() {
		defer close(out)
		var seq int
		for {
			select {
			case frag, ok := <-fragments:
				if !ok {
					return
				}
				if frag.Text == "" {
					continue
				}
				s.mu.Lock()
				s.texts = append(s.texts, frag.Text)
				s.mu.Unlock()

				if abortAfter > 0 && seq >= abortAfter {
					return
				}
				if release != nil {
					select {
					case <-release:
					case <-ctx.Done():
						return
					}
				}
				chunk := types.AudioChunk{
					PCM:         []byte(frag.Text),
					Seq:         seq,
					FragmentSeq: frag.Seq,
					UtteranceID: frag.UtteranceID,
				}
				seq++
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Streams returns how many synthesis streams were started.
func (s *Synthesizer) Streams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams
}

// Texts returns every fragment text synthesised, in order across streams.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}
