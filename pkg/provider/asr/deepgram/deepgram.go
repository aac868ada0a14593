// Package deepgram provides a Deepgram-backed ASR model using the Deepgram
// streaming WebSocket API. It implements the asr.Model interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/cadenza-ai/cadenza/pkg/provider/asr"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Compile-time assertions.
var (
	_ asr.Model   = (*Model)(nil)
	_ asr.Session = (*session)(nil)
)

// Option is a functional option for configuring the Deepgram Model.
type Option func(*Model)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(m *Model) { m.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(m *Model) { m.language = language }
}

// WithSampleRate sets the model-level default audio sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(m *Model) { m.sampleRate = rate }
}

// Model implements asr.Model backed by the Deepgram streaming API.
type Model struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
}

// New creates a new Deepgram Model. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	m := &Model{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// StartUtterance opens a streaming transcription session with Deepgram.
func (m *Model) StartUtterance(ctx context.Context, cfg asr.StreamConfig) (asr.Session, error) {
	wsURL, err := m.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+m.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	s := &session{
		conn:   conn,
		finals: make(chan types.Transcript, 1),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop(ctx)
	return s, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (m *Model) buildURL(cfg asr.StreamConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = m.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = m.sampleRate
	}

	q := u.Query()
	q.Set("model", m.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live per-utterance Deepgram stream. It implements asr.Session.
//
// The read loop runs in the background and deposits the most recent interim
// result into a mailbox; Feed polls the mailbox after sending audio so that
// the synchronous Feed contract never blocks on the network for partials.
type session struct {
	conn   *websocket.Conn
	finals chan types.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu       sync.Mutex
	latest   *types.Transcript // newest unread interim result
	lastText string
	segments []string // finalized segment texts, in arrival order
	confSum  float64
	sawFinal bool

	firstSeq uint64
	lastSeq  uint64
	fed      bool
}

// Feed sends one frame of PCM to Deepgram and returns the newest interim
// transcript, if one arrived since the previous call.
func (s *session) Feed(ctx context.Context, frame types.AudioFrame) (*types.Transcript, error) {
	select {
	case <-s.done:
		return nil, errors.New("deepgram: session is closed")
	default:
	}

	if err := s.conn.Write(ctx, websocket.MessageBinary, frame.PCM); err != nil {
		return nil, fmt.Errorf("deepgram: send audio: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fed {
		s.fed = true
		s.firstSeq = frame.Seq
	}
	s.lastSeq = frame.Seq

	if s.latest == nil {
		return nil, nil
	}
	t := *s.latest
	s.latest = nil
	t.FrameStart = s.firstSeq
	t.FrameEnd = s.lastSeq
	return &t, nil
}

// Finalize asks Deepgram to flush pending audio and waits for the committed
// end-of-stream result.
func (s *session) Finalize(ctx context.Context) (types.Transcript, error) {
	if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	select {
	case t, ok := <-s.finals:
		if !ok {
			return types.Transcript{}, errors.New("deepgram: stream ended without a final result")
		}
		s.mu.Lock()
		t.FrameStart = s.firstSeq
		t.FrameEnd = s.lastSeq
		s.mu.Unlock()
		return t, nil
	case <-ctx.Done():
		return types.Transcript{}, ctx.Err()
	case <-s.done:
		return types.Transcript{}, errors.New("deepgram: session is closed")
	}
}

// Close terminates the session and releases the connection.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

// readLoop receives JSON messages from Deepgram until the stream ends, then
// delivers the assembled end-of-stream result to the finals channel.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation; whatever segments
			// were committed form the result.
			s.deliverFinal()
			return
		}
		if s.handleMessage(msg) {
			s.deliverFinal()
			return
		}
	}
}

// handleMessage folds one Deepgram message into the session state. It reports
// whether the stream is over: Deepgram sends a Metadata message after
// CloseStream, once every segment has been committed.
func (s *session) handleMessage(msg []byte) (done bool) {
	t, kind, ok := parseResponse(msg)
	if kind == "Metadata" {
		return true
	}
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Final {
		// An is_final Results message commits one segment, not the whole
		// utterance; accumulate and keep reading.
		if t.Text != "" {
			s.segments = append(s.segments, t.Text)
			s.confSum += t.Confidence
		}
		s.sawFinal = true
		s.lastText = ""
		return false
	}

	// Interims restart at each segment boundary; surface them with the
	// committed prefix so partials keep growing across segments. Deepgram
	// may also re-send identical interims; only surface growth.
	if t.Text != "" && t.Text != s.lastText {
		s.lastText = t.Text
		t.Text = joinSegments(s.segments, t.Text)
		s.latest = &t
	}
	return false
}

// deliverFinal joins the committed segments into the single end-of-stream
// transcript Finalize is waiting on. A stream that died before committing
// anything delivers nothing, so Finalize reports the broken stream instead.
func (s *session) deliverFinal() {
	s.mu.Lock()
	if !s.sawFinal {
		s.mu.Unlock()
		return
	}
	t := types.Transcript{
		Text:  strings.Join(s.segments, " "),
		Final: true,
	}
	if n := len(s.segments); n > 0 {
		t.Confidence = s.confSum / float64(n)
	}
	s.mu.Unlock()

	select {
	case s.finals <- t:
	case <-s.done:
	}
}

func joinSegments(segs []string, tail string) string {
	if len(segs) == 0 {
		return tail
	}
	return strings.Join(segs, " ") + " " + tail
}

// parseResponse parses a raw Deepgram WebSocket message. kind is the Deepgram
// message type; a Transcript is only populated for a Results message that
// carries an alternative.
func parseResponse(data []byte) (t types.Transcript, kind string, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.Transcript{}, "", false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return types.Transcript{}, resp.Type, false
	}

	alt := resp.Channel.Alternatives[0]
	return types.Transcript{
		Text:       alt.Transcript,
		Final:      resp.IsFinal,
		Confidence: alt.Confidence,
	}, resp.Type, true
}
