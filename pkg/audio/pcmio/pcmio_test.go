package pcmio

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

func TestReaderSource_FramesFixedSize(t *testing.T) {
	t.Parallel()

	// 20ms at 16kHz mono is 320 samples, 640 bytes. Two full frames.
	raw := make([]byte, 1280)
	src, err := NewReaderSource(bytes.NewReader(raw), 16000, 1, 20*time.Millisecond, false)
	if err != nil {
		t.Fatalf("NewReaderSource: %v", err)
	}
	defer src.Close()

	var frames []types.AudioFrame
	for f := range src.Frames() {
		frames = append(frames, f)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	for i, f := range frames {
		if len(f.PCM) != 640 {
			t.Errorf("frames[%d]: %d bytes, want 640", i, len(f.PCM))
		}
		if f.Seq != uint64(i) {
			t.Errorf("frames[%d].Seq = %d", i, f.Seq)
		}
		if f.SampleRate != 16000 || f.Channels != 1 {
			t.Errorf("frames[%d] format = %d Hz / %d ch", i, f.SampleRate, f.Channels)
		}
	}
}

func TestReaderSource_ShortTrailingFrame(t *testing.T) {
	t.Parallel()

	raw := make([]byte, 640+100)
	src, err := NewReaderSource(bytes.NewReader(raw), 16000, 1, 20*time.Millisecond, false)
	if err != nil {
		t.Fatalf("NewReaderSource: %v", err)
	}
	defer src.Close()

	var frames []types.AudioFrame
	for f := range src.Frames() {
		frames = append(frames, f)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if len(frames[1].PCM) != 100 {
		t.Errorf("trailing frame is %d bytes, want 100", len(frames[1].PCM))
	}
}

func TestReaderSource_CloseStopsDelivery(t *testing.T) {
	t.Parallel()

	// More data than the channel buffers, so the read loop blocks on send.
	raw := make([]byte, 640*64)
	src, err := NewReaderSource(bytes.NewReader(raw), 16000, 1, 20*time.Millisecond, false)
	if err != nil {
		t.Fatalf("NewReaderSource: %v", err)
	}

	<-src.Frames()
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// The channel must close once the blocked send observes Close.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-src.Frames():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("frames channel did not close after Close")
		}
	}
}

func TestReaderSource_InvalidConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewReaderSource(bytes.NewReader(nil), 0, 1, 20*time.Millisecond, false); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := NewReaderSource(bytes.NewReader(nil), 16000, 1, 0, false); err == nil {
		t.Error("expected error for zero frame duration")
	}
}

func TestWriterSink_PlayWrites(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewWriterSink(&buf)

	err := sink.Play(context.Background(), types.AudioChunk{PCM: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{1, 2, 3}) {
		t.Errorf("written = %v", buf.Bytes())
	}
	if err := sink.Flush(); err != nil {
		t.Errorf("Flush: %v", err)
	}
}

func TestWriterSink_ClosedRejectsPlay(t *testing.T) {
	t.Parallel()

	sink := NewWriterSink(&bytes.Buffer{})
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sink.Play(context.Background(), types.AudioChunk{PCM: []byte{1}}); err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestWriterSink_CancelledContext(t *testing.T) {
	t.Parallel()

	sink := NewWriterSink(&bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.Play(ctx, types.AudioChunk{PCM: []byte{1}}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
