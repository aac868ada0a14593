// Package whisper provides a local ASR model backed by the whisper.cpp CGO
// bindings. It implements the asr.Model interface.
//
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must
// be available at link time via LIBRARY_PATH and C_INCLUDE_PATH environment
// variables. The model weights are loaded once at construction and shared
// across all sessions; each inference uses a fresh whisper context because
// contexts are not thread-safe.
//
// whisper.cpp is a batch decoder, so the session approximates streaming by
// re-decoding the accumulated utterance audio at a fixed cadence to produce
// interim results, then decoding once more in Finalize for the committed
// transcript. Partial cadence is therefore coarse compared to a true
// streaming backend; coverage is monotonic by construction.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/cadenza-ai/cadenza/pkg/provider/asr"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

const (
	defaultLanguage        = "en"
	defaultSampleRate      = 16000
	defaultPartialInterval = 1500 * time.Millisecond
)

// Compile-time assertions.
var (
	_ asr.Model   = (*Model)(nil)
	_ asr.Session = (*session)(nil)
)

// Option is a functional option for configuring a whisper Model.
type Option func(*Model)

// WithLanguage sets the BCP-47 language code for transcription (e.g., "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(m *Model) { m.language = lang }
}

// WithSampleRate sets the expected PCM sample rate in Hz. Defaults to 16000,
// which is what whisper.cpp expects natively.
func WithSampleRate(rate int) Option {
	return func(m *Model) { m.sampleRate = rate }
}

// WithPartialInterval sets how much new audio must accumulate before the
// session re-decodes for an interim result. Defaults to 1.5 s.
func WithPartialInterval(d time.Duration) Option {
	return func(m *Model) { m.partialInterval = d }
}

// Model implements asr.Model using whisper.cpp Go bindings.
type Model struct {
	model           whisperlib.Model
	language        string
	sampleRate      int
	partialInterval time.Duration
}

// New creates a Model that loads the whisper.cpp weights from the given file
// path. The caller must call Close when the model is no longer needed.
func New(modelPath string, opts ...Option) (*Model, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	m := &Model{
		model:           model,
		language:        defaultLanguage,
		sampleRate:      defaultSampleRate,
		partialInterval: defaultPartialInterval,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Close releases the whisper model weights.
func (m *Model) Close() error {
	if m.model != nil {
		return m.model.Close()
	}
	return nil
}

// StartUtterance opens a per-utterance session over the shared model.
func (m *Model) StartUtterance(ctx context.Context, cfg asr.StreamConfig) (asr.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	sr := cfg.SampleRate
	if sr <= 0 {
		sr = m.sampleRate
	}
	lang := cfg.Language
	if lang == "" {
		lang = m.language
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	return &session{
		model:           m.model,
		language:        lang,
		sampleRate:      sr,
		channels:        ch,
		partialInterval: m.partialInterval,
	}, nil
}

// session accumulates utterance audio and re-decodes it for interim results.
// It is driven by a single pipeline goroutine and is not concurrency-safe.
type session struct {
	model           whisperlib.Model
	language        string
	sampleRate      int
	channels        int
	partialInterval time.Duration

	samples     []float32
	sinceDecode time.Duration
	lastText    string

	firstSeq  uint64
	lastSeq   uint64
	fed       bool
	finalized bool
	closed    bool
}

// Feed appends one frame of audio and returns an interim transcript when
// enough new audio has accumulated since the previous decode.
func (s *session) Feed(ctx context.Context, frame types.AudioFrame) (*types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed || s.finalized {
		return nil, errors.New("whisper: feed on finished session")
	}

	s.samples = append(s.samples, pcmToFloat32Mono(frame.PCM, s.channels)...)
	if !s.fed {
		s.fed = true
		s.firstSeq = frame.Seq
	}
	s.lastSeq = frame.Seq
	s.sinceDecode += frame.Duration()

	if s.sinceDecode < s.partialInterval {
		return nil, nil
	}
	s.sinceDecode = 0

	text, err := s.decode(ctx)
	if err != nil {
		return nil, err
	}
	if text == "" || text == s.lastText {
		return nil, nil
	}
	s.lastText = text
	return &types.Transcript{
		Text:       text,
		FrameStart: s.firstSeq,
		FrameEnd:   s.lastSeq,
	}, nil
}

// Finalize decodes the full accumulated utterance and returns the committed
// transcript.
func (s *session) Finalize(ctx context.Context) (types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return types.Transcript{}, err
	}
	if s.closed {
		return types.Transcript{}, errors.New("whisper: finalize on closed session")
	}
	s.finalized = true

	text, err := s.decode(ctx)
	if err != nil {
		return types.Transcript{}, err
	}
	return types.Transcript{
		Text:       text,
		Final:      true,
		FrameStart: s.firstSeq,
		FrameEnd:   s.lastSeq,
	}, nil
}

// Close releases the session. The shared model is owned by the Model and is
// not released here.
func (s *session) Close() error {
	s.closed = true
	s.samples = nil
	return nil
}

// decode runs whisper.cpp inference over the accumulated samples using a
// fresh context and returns the concatenated segment text.
func (s *session) decode(ctx context.Context) (string, error) {
	if len(s.samples) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := s.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(s.language); err != nil {
		return "", fmt.Errorf("whisper: set language %q: %w", s.language, err)
	}
	if err := wctx.Process(s.samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
