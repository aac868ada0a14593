// Package elevenlabs provides an ElevenLabs-backed [tts.Synthesizer] using
// the ElevenLabs streaming WebSocket API.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/cadenza-ai/cadenza/pkg/provider/tts"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Compile-time assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Option is a functional option for configuring the Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(s *Synthesizer) { s.model = model }
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000",
// "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(s *Synthesizer) { s.outputFormat = format }
}

// WithVoiceSettings overrides the default stability/similarity settings.
func WithVoiceSettings(stability, similarityBoost float64) Option {
	return func(s *Synthesizer) {
		s.settings = &voiceSettings{Stability: stability, SimilarityBoost: similarityBoost}
	}
}

// Synthesizer implements [tts.Synthesizer] backed by the ElevenLabs
// streaming API. One WebSocket connection is opened per response stream.
type Synthesizer struct {
	apiKey       string
	voiceID      string
	model        string
	outputFormat string
	settings     *voiceSettings
}

// New creates a Synthesizer. apiKey and voiceID must be non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	s := &Synthesizer{
		apiKey:       apiKey,
		voiceID:      voiceID,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		settings:     &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// boiMessage is the initial "begin of input" handshake payload.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// audioResponse is a JSON message received from ElevenLabs.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// SynthesizeStream implements [tts.Synthesizer]. It opens a WebSocket to
// ElevenLabs, pipes fragment text in as it arrives, and emits PCM chunks as
// they are synthesised. Chunk FragmentSeq reflects the most recently sent
// fragment; ElevenLabs does not align audio to input boundaries exactly, so
// the attribution is approximate.
func (s *Synthesizer) SynthesizeStream(ctx context.Context, fragments <-chan types.ResponseFragment) (<-chan types.AudioChunk, error) {
	wsURL := fmt.Sprintf(wsEndpointFmt, s.voiceID, s.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	// ElevenLabs requires a non-empty first text value in the handshake.
	boi := boiMessage{
		Text:          " ",
		VoiceSettings: s.settings,
		XiAPIKey:      s.apiKey,
		OutputFormat:  s.outputFormat,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("elevenlabs: send handshake: %w", err)
	}

	audioCh := make(chan types.AudioChunk, 256)

	// lastFragSeq tracks the newest fragment sent, for chunk attribution.
	var lastFragSeq atomic.Int64

	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			var seq int
			for {
				_, msg, err := conn.Read(ctx)
				if err != nil {
					return
				}
				var resp audioResponse
				if err := json.Unmarshal(msg, &resp); err != nil {
					continue
				}
				if resp.Audio == "" {
					if resp.IsFinal {
						return
					}
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err != nil {
					continue
				}
				chunk := types.AudioChunk{
					PCM:         pcm,
					Seq:         seq,
					FragmentSeq: int(lastFragSeq.Load()),
				}
				seq++
				select {
				case audioCh <- chunk:
				case <-ctx.Done():
					return
				}
				if resp.IsFinal {
					return
				}
			}
		}()

		for {
			select {
			case frag, ok := <-fragments:
				if !ok {
					// Input drained: flush and wait for remaining audio.
					flushBytes, _ := json.Marshal(textMessage{Text: ""})
					_ = conn.Write(ctx, websocket.MessageText, flushBytes)
					<-readDone
					return
				}
				if frag.Text == "" {
					lastFragSeq.Store(int64(frag.Seq))
					continue
				}
				lastFragSeq.Store(int64(frag.Seq))
				msgBytes, _ := json.Marshal(textMessage{Text: frag.Text + " "})
				if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}
