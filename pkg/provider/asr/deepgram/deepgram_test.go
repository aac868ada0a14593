package deepgram

import (
	"fmt"
	"testing"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

func newTestSession() *session {
	return &session{
		finals: make(chan types.Transcript, 1),
		done:   make(chan struct{}),
	}
}

func resultsMsg(text string, conf float64, final bool) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"Results","is_final":%t,"channel":{"alternatives":[{"transcript":%q,"confidence":%g}]}}`,
		final, text, conf))
}

func TestHandleMessage_AccumulatesSegmentFinals(t *testing.T) {
	t.Parallel()

	s := newTestSession()

	// Deepgram commits long utterances one segment at a time; every
	// is_final before the Metadata message is a segment, not the end of
	// the stream.
	msgs := [][]byte{
		resultsMsg("turn off", 0.5, false),
		resultsMsg("turn off the lights", 0.5, true),
		resultsMsg("in the", 0.8, false),
		resultsMsg("in the kitchen", 1.0, true),
	}
	for i, msg := range msgs {
		if done := s.handleMessage(msg); done {
			t.Fatalf("message %d ended the stream", i)
		}
	}

	if done := s.handleMessage([]byte(`{"type":"Metadata"}`)); !done {
		t.Fatal("Metadata message did not end the stream")
	}
	s.deliverFinal()

	select {
	case final := <-s.finals:
		if final.Text != "turn off the lights in the kitchen" {
			t.Errorf("final text = %q, want the joined segments", final.Text)
		}
		if !final.Final {
			t.Error("delivered transcript not marked final")
		}
		if final.Confidence != 0.75 {
			t.Errorf("confidence = %g, want the 0.75 segment mean", final.Confidence)
		}
	default:
		t.Fatal("no final delivered")
	}
}

func TestHandleMessage_InterimsCarryCommittedPrefix(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	s.handleMessage(resultsMsg("turn off the lights", 0.9, true))
	s.handleMessage(resultsMsg("in the", 0.8, false))

	s.mu.Lock()
	latest := s.latest
	s.mu.Unlock()
	if latest == nil {
		t.Fatal("interim after a segment final was not surfaced")
	}
	if latest.Text != "turn off the lights in the" {
		t.Errorf("interim text = %q, want the committed prefix included", latest.Text)
	}
}

func TestHandleMessage_DuplicateInterimNotResurfaced(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	s.handleMessage(resultsMsg("hello", 0.9, false))
	s.mu.Lock()
	s.latest = nil
	s.mu.Unlock()

	s.handleMessage(resultsMsg("hello", 0.9, false))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest != nil {
		t.Errorf("duplicate interim resurfaced as %q", s.latest.Text)
	}
}

func TestDeliverFinal_NothingCommitted(t *testing.T) {
	t.Parallel()

	// A stream that dies before committing anything must not fabricate an
	// empty final; Finalize reports the broken stream instead.
	s := newTestSession()
	s.handleMessage(resultsMsg("hel", 0.5, false))
	s.deliverFinal()

	if len(s.finals) != 0 {
		t.Fatal("final delivered for a stream with no committed segments")
	}
}

func TestDeliverFinal_EmptySegmentsStillFinal(t *testing.T) {
	t.Parallel()

	// The user said nothing recognisable: Deepgram commits an empty
	// segment. The session still delivers a final so the pipeline can
	// apologise instead of failing the utterance.
	s := newTestSession()
	s.handleMessage(resultsMsg("", 0, true))
	s.deliverFinal()

	select {
	case final := <-s.finals:
		if final.Text != "" || !final.Final {
			t.Errorf("final = %+v, want an empty final transcript", final)
		}
	default:
		t.Fatal("no final delivered")
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	tr, kind, ok := parseResponse(resultsMsg("hi there", 0.95, true))
	if !ok || kind != "Results" {
		t.Fatalf("parse results: ok=%t kind=%q", ok, kind)
	}
	if tr.Text != "hi there" || !tr.Final || tr.Confidence != 0.95 {
		t.Errorf("transcript = %+v", tr)
	}

	if _, kind, ok := parseResponse([]byte(`{"type":"Metadata"}`)); ok || kind != "Metadata" {
		t.Errorf("metadata: ok=%t kind=%q", ok, kind)
	}
	if _, _, ok := parseResponse([]byte(`not json`)); ok {
		t.Error("garbage parsed as a response")
	}
}
