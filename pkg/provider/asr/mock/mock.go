// Package mock provides a scripted in-memory implementation of [asr.Model]
// for use in unit tests.
//
// The mock emits a growing partial transcript every PartialEvery frames and
// returns FinalText from Finalize. Errors can be injected at any point to
// exercise the pipeline's TranscriptionFailed fallback.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cadenza-ai/cadenza/pkg/provider/asr"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Compile-time interface assertions.
var (
	_ asr.Model   = (*Model)(nil)
	_ asr.Session = (*Session)(nil)
)

// Model is a mock [asr.Model]. Each StartUtterance call produces a fresh
// [Session] configured from the exported fields.
type Model struct {
	mu sync.Mutex

	// Words is the scripted utterance, one word revealed per emitted partial.
	// Finalize returns the full joined text.
	Words []string

	// PartialEvery emits a partial every N fed frames. Zero disables
	// partials (finals only).
	PartialEvery int

	// StartErr, when non-nil, is returned by StartUtterance.
	StartErr error

	// FeedErrAt injects an error on the given zero-based feed index.
	FeedErrAt map[int]error

	// RegressAt injects a stale partial on the given zero-based feed
	// index: the transcript re-reports only the opening word and frame,
	// as if an earlier result arrived late.
	RegressAt map[int]bool

	// FinalizeErr, when non-nil, is returned by Finalize.
	FinalizeErr error

	// Sessions records every session created, in order.
	Sessions []*Session
}

// StartUtterance implements [asr.Model].
func (m *Model) StartUtterance(_ context.Context, _ asr.StreamConfig) (asr.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return nil, m.StartErr
	}
	s := &Session{
		words:        m.Words,
		partialEvery: m.PartialEvery,
		feedErrAt:    m.FeedErrAt,
		regressAt:    m.RegressAt,
		finalizeErr:  m.FinalizeErr,
	}
	m.Sessions = append(m.Sessions, s)
	return s, nil
}

// Session is the per-utterance mock session produced by [Model].
type Session struct {
	mu sync.Mutex

	words        []string
	partialEvery int
	feedErrAt    map[int]error
	regressAt    map[int]bool
	finalizeErr  error

	fed        int
	revealed   int
	firstSeq   uint64
	lastSeq    uint64
	finalized  bool
	closed     bool
	FeedCalls  int
	CloseCalls int
}

// Feed implements [asr.Session].
func (s *Session) Feed(ctx context.Context, frame types.AudioFrame) (*types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.finalized {
		return nil, fmt.Errorf("asr mock: feed after %s", s.stateLocked())
	}
	idx := s.fed
	s.fed++
	s.FeedCalls++
	if s.fed == 1 {
		s.firstSeq = frame.Seq
	}
	s.lastSeq = frame.Seq

	if err, ok := s.feedErrAt[idx]; ok {
		return nil, err
	}
	if s.regressAt[idx] && len(s.words) > 0 {
		t := types.Transcript{
			Text:       s.words[0],
			Confidence: 0.9,
			FrameStart: s.firstSeq,
			FrameEnd:   s.firstSeq,
		}
		return &t, nil
	}
	if s.partialEvery <= 0 || s.fed%s.partialEvery != 0 {
		return nil, nil
	}
	if s.revealed < len(s.words) {
		s.revealed++
	}
	t := types.Transcript{
		Text:       strings.Join(s.words[:s.revealed], " "),
		Confidence: 0.9,
		FrameStart: s.firstSeq,
		FrameEnd:   s.lastSeq,
	}
	return &t, nil
}

// Finalize implements [asr.Session].
func (s *Session) Finalize(ctx context.Context) (types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return types.Transcript{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizeErr != nil {
		return types.Transcript{}, s.finalizeErr
	}
	s.finalized = true
	return types.Transcript{
		Text:       strings.Join(s.words, " "),
		Final:      true,
		Confidence: 0.95,
		FrameStart: s.firstSeq,
		FrameEnd:   s.lastSeq,
	}, nil
}

// Close implements [asr.Session].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.CloseCalls++
	return nil
}

// Fed returns how many frames the session consumed.
func (s *Session) Fed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fed
}

func (s *Session) stateLocked() string {
	if s.closed {
		return "close"
	}
	return "finalize"
}
