package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per pipeline stage. Used by
// [Validate] to warn about unrecognised names without failing the load, so a
// config written for a newer build still starts.
var ValidProviderNames = map[string][]string{
	"wake":    {"energy"},
	"asr":     {"deepgram", "whisper"},
	"nlu":     {"openai", "keyword"},
	"respond": {"openai", "anthropic", "gemini", "ollama", "mistral", "groq", "llamacpp", "template"},
	"tts":     {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. `${VAR}` references are expanded from the
// environment before decoding so API keys can stay out of the file. Useful
// in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	raw = []byte(os.Expand(string(raw), func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		// Leave unknown references intact so validation can surface them.
		return "${" + name + "}"
	}))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.SampleRate < 8000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is too low; minimum 8000", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 1 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameDuration.Std() <= 0 {
		errs = append(errs, errors.New("audio.frame_duration must be positive"))
	}

	validateProviderName("wake", cfg.Providers.Wake.Name)
	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("nlu", cfg.Providers.NLU.Name)
	validateProviderName("respond", cfg.Providers.Respond.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	if cfg.Providers.Wake.Threshold < 0 || cfg.Providers.Wake.Threshold > 1 {
		errs = append(errs, fmt.Errorf("providers.wake.threshold %.2f is out of range [0, 1]", cfg.Providers.Wake.Threshold))
	}
	if cfg.Providers.NLU.FastPathConfidence < 0 || cfg.Providers.NLU.FastPathConfidence > 1 {
		errs = append(errs, fmt.Errorf("providers.nlu.fast_path_confidence %.2f is out of range [0, 1]", cfg.Providers.NLU.FastPathConfidence))
	}

	if cfg.Pipeline.SilenceTimeout.Std() <= 0 {
		errs = append(errs, errors.New("pipeline.silence_timeout must be positive"))
	}
	if cfg.Pipeline.SilenceTimeout.Std() >= cfg.Pipeline.MaxUtterance.Std() {
		errs = append(errs, fmt.Errorf("pipeline.silence_timeout %s must be shorter than pipeline.max_utterance %s",
			cfg.Pipeline.SilenceTimeout.Std(), cfg.Pipeline.MaxUtterance.Std()))
	}
	if cfg.Pipeline.FrameBuffer < 1 {
		errs = append(errs, fmt.Errorf("pipeline.frame_buffer %d must be at least 1", cfg.Pipeline.FrameBuffer))
	}
	if cfg.Pipeline.FragmentBuffer < 1 {
		errs = append(errs, fmt.Errorf("pipeline.fragment_buffer %d must be at least 1", cfg.Pipeline.FragmentBuffer))
	}
	if cfg.Pipeline.AudioBuffer < 1 {
		errs = append(errs, fmt.Errorf("pipeline.audio_buffer %d must be at least 1", cfg.Pipeline.AudioBuffer))
	}

	if !cfg.BargeIn.Policy.IsValid() {
		errs = append(errs, fmt.Errorf("barge_in.policy %q is invalid; valid values: cancel, reject", cfg.BargeIn.Policy))
	}
	if cfg.BargeIn.VoteWindow < 1 {
		errs = append(errs, fmt.Errorf("barge_in.vote_window %d must be at least 1", cfg.BargeIn.VoteWindow))
	}

	if cfg.Cache.Capacity < 0 {
		errs = append(errs, fmt.Errorf("intent_cache.capacity %d must not be negative", cfg.Cache.Capacity))
	}
	if cfg.Cache.FuzzyThreshold <= 0 || cfg.Cache.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("intent_cache.fuzzy_threshold %.2f is out of range (0, 1]", cfg.Cache.FuzzyThreshold))
	}

	return errors.Join(errs...)
}

// validateProviderName warns when a provider name is not in the known list.
// Reports whether the name was recognised.
func validateProviderName(kind, name string) bool {
	if name == "" {
		return true
	}
	if !slices.Contains(ValidProviderNames[kind], name) {
		slog.Warn("unrecognised provider name", "kind", kind, "name", name,
			"known", ValidProviderNames[kind])
		return false
	}
	return true
}

// Example returns a YAML document with every field set to its default,
// suitable for bootstrapping a new deployment.
func Example() []byte {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Providers.Wake.Name = "energy"
	cfg.Providers.ASR.Name = "deepgram"
	cfg.Providers.NLU.Name = "keyword"
	cfg.Providers.Respond.Name = "template"
	cfg.Providers.TTS.Name = "elevenlabs"
	out, _ := yaml.Marshal(cfg)
	return out
}
