// Package config provides the configuration schema and loader for the
// Cadenza voice pipeline.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the Cadenza server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// BargeInPolicy selects what happens to in-flight playback when the user
// starts speaking over the assistant.
type BargeInPolicy string

const (
	// BargeCancel cancels the active response and starts listening to the
	// new utterance.
	BargeCancel BargeInPolicy = "cancel"

	// BargeReject ignores user speech until the active response finishes.
	BargeReject BargeInPolicy = "reject"
)

// IsValid reports whether p is a recognised barge-in policy.
func (p BargeInPolicy) IsValid() bool {
	return p == BargeCancel || p == BargeReject
}

// Duration wraps [time.Duration] with YAML support for values like "300ms"
// or "1.5s".
type Duration time.Duration

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements [yaml.Marshaler].
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Cadenza. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	BargeIn   BargeInConfig   `yaml:"barge_in"`
	Cache     CacheConfig     `yaml:"intent_cache"`
}

// ServerConfig holds network and logging settings for the diagnostics server.
type ServerConfig struct {
	// ListenAddr is the TCP address for health and metrics endpoints
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the capture audio format.
type AudioConfig struct {
	// SampleRate is the capture sample rate in Hz. Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the number of capture channels. Defaults to 1.
	Channels int `yaml:"channels"`

	// FrameDuration is the duration of one capture frame. Defaults to 20ms.
	FrameDuration Duration `yaml:"frame_duration"`
}

// ProvidersConfig declares which provider implementation backs each pipeline
// stage.
type ProvidersConfig struct {
	Wake    WakeConfig    `yaml:"wake"`
	ASR     ProviderEntry `yaml:"asr"`
	NLU     NLUConfig     `yaml:"nlu"`
	Respond RespondConfig `yaml:"respond"`
	TTS     TTSConfig     `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// types.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "deepgram", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-3").
	Model string `yaml:"model"`

	// Language is the BCP-47 language tag, where the provider supports one.
	Language string `yaml:"language"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`

	// Fallback names a secondary provider of the same kind, tried when the
	// primary fails or its circuit breaker is open.
	Fallback *ProviderEntry `yaml:"fallback"`
}

// WakeConfig configures the wake-word detector and gate.
type WakeConfig struct {
	ProviderEntry `yaml:",inline"`

	// Threshold is the detection score threshold in (0, 1]. Zero uses the
	// detector's own default.
	Threshold float64 `yaml:"threshold"`

	// Window is how many consecutive frames are scored together before the
	// gate opens. Defaults to 3.
	Window int `yaml:"window"`

	// Debounce suppresses re-triggering for this long after a detection.
	// Defaults to 1s.
	Debounce Duration `yaml:"debounce"`
}

// NLUConfig configures intent classification.
type NLUConfig struct {
	ProviderEntry `yaml:",inline"`

	// Intents is the closed set of intent tags the classifier may produce.
	Intents []string `yaml:"intents"`

	// FastPathConfidence is the minimum provisional-intent confidence
	// required to start speculative response generation. Defaults to 0.8.
	FastPathConfidence float64 `yaml:"fast_path_confidence"`
}

// RespondConfig configures response generation.
type RespondConfig struct {
	ProviderEntry `yaml:",inline"`

	// SystemPrompt overrides the generator's default system prompt.
	SystemPrompt string `yaml:"system_prompt"`

	// Timeout bounds one generation attempt. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`
}

// TTSConfig configures speech synthesis.
type TTSConfig struct {
	ProviderEntry `yaml:",inline"`

	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`
}

// PipelineConfig holds orchestration timing and queue sizing.
type PipelineConfig struct {
	// SilenceTimeout ends the utterance after this much trailing silence.
	// Defaults to 700ms.
	SilenceTimeout Duration `yaml:"silence_timeout"`

	// SilenceThreshold is the RMS level below which a frame counts as
	// silence. Defaults to 500 (16-bit full scale is 32767).
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// MaxUtterance hard-caps utterance length. Defaults to 30s.
	MaxUtterance Duration `yaml:"max_utterance"`

	// FrameBuffer is the capacity in frames of the utterance buffer between
	// capture and transcription. Defaults to 256.
	FrameBuffer int `yaml:"frame_buffer"`

	// FragmentBuffer is the capacity of the staged-fragment buffer used by
	// the speculative fast path. Defaults to 32.
	FragmentBuffer int `yaml:"fragment_buffer"`

	// AudioBuffer is the capacity in chunks of the synthesis-to-playback
	// queue. Defaults to 64.
	AudioBuffer int `yaml:"audio_buffer"`

	// GracePeriod bounds how long a cancelled utterance's stages may run
	// before their resources are force-released. Defaults to 2s.
	GracePeriod Duration `yaml:"grace_period"`

	// HardStop, when true, drops buffered playback audio on cancellation
	// instead of letting the current chunk finish.
	HardStop bool `yaml:"hard_stop"`
}

// BargeInConfig controls interruption of assistant playback by user speech.
type BargeInConfig struct {
	// Enabled turns barge-in detection on. Defaults to true.
	Enabled *bool `yaml:"enabled"`

	// Policy selects the reaction to a barge-in. Defaults to "cancel".
	Policy BargeInPolicy `yaml:"policy"`

	// EnergyThreshold is the RMS level user speech must exceed during
	// playback to count as a barge-in vote. Defaults to 1000.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// VoteWindow is how many consecutive frames are examined; a majority of
	// voiced frames triggers. Defaults to 5.
	VoteWindow int `yaml:"vote_window"`

	// Debounce suppresses re-triggering for this long after a barge-in.
	// Defaults to 500ms.
	Debounce Duration `yaml:"debounce"`
}

// CacheConfig controls the fuzzy intent cache used by the fast path.
type CacheConfig struct {
	// Capacity is the maximum number of cached transcript-to-intent
	// entries. Zero disables the cache.
	Capacity int `yaml:"capacity"`

	// FuzzyThreshold is the minimum Jaro-Winkler similarity in (0, 1] for
	// a cached entry to count as a hit. Defaults to 0.93.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// ApplyDefaults fills unset fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.FrameDuration == 0 {
		c.Audio.FrameDuration = Duration(20 * time.Millisecond)
	}
	if c.Providers.Wake.Window == 0 {
		c.Providers.Wake.Window = 3
	}
	if c.Providers.Wake.Debounce == 0 {
		c.Providers.Wake.Debounce = Duration(time.Second)
	}
	if c.Providers.NLU.FastPathConfidence == 0 {
		c.Providers.NLU.FastPathConfidence = 0.8
	}
	if c.Providers.Respond.Timeout == 0 {
		c.Providers.Respond.Timeout = Duration(10 * time.Second)
	}
	if c.Pipeline.SilenceTimeout == 0 {
		c.Pipeline.SilenceTimeout = Duration(700 * time.Millisecond)
	}
	if c.Pipeline.SilenceThreshold == 0 {
		c.Pipeline.SilenceThreshold = 500
	}
	if c.Pipeline.MaxUtterance == 0 {
		c.Pipeline.MaxUtterance = Duration(30 * time.Second)
	}
	if c.Pipeline.FrameBuffer == 0 {
		c.Pipeline.FrameBuffer = 256
	}
	if c.Pipeline.FragmentBuffer == 0 {
		c.Pipeline.FragmentBuffer = 32
	}
	if c.Pipeline.AudioBuffer == 0 {
		c.Pipeline.AudioBuffer = 64
	}
	if c.Pipeline.GracePeriod == 0 {
		c.Pipeline.GracePeriod = Duration(2 * time.Second)
	}
	if c.BargeIn.Enabled == nil {
		enabled := true
		c.BargeIn.Enabled = &enabled
	}
	if c.BargeIn.Policy == "" {
		c.BargeIn.Policy = BargeCancel
	}
	if c.BargeIn.EnergyThreshold == 0 {
		c.BargeIn.EnergyThreshold = 1000
	}
	if c.BargeIn.VoteWindow == 0 {
		c.BargeIn.VoteWindow = 5
	}
	if c.BargeIn.Debounce == 0 {
		c.BargeIn.Debounce = Duration(500 * time.Millisecond)
	}
	if c.Cache.FuzzyThreshold == 0 {
		c.Cache.FuzzyThreshold = 0.93
	}
}
