package config

import (
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
providers:
  asr:
    name: deepgram
    api_key: dg-key
  nlu:
    name: keyword
    intents: [timer.set, lights.off]
  respond:
    name: template
  tts:
    name: elevenlabs
    api_key: el-key
    voice_id: voice-1
`

func TestLoadFromReader_DefaultsApplied(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameDuration.Std() != 20*time.Millisecond {
		t.Errorf("FrameDuration = %s, want 20ms", cfg.Audio.FrameDuration.Std())
	}
	if cfg.Pipeline.SilenceTimeout.Std() != 700*time.Millisecond {
		t.Errorf("SilenceTimeout = %s, want 700ms", cfg.Pipeline.SilenceTimeout.Std())
	}
	if cfg.Pipeline.MaxUtterance.Std() != 30*time.Second {
		t.Errorf("MaxUtterance = %s, want 30s", cfg.Pipeline.MaxUtterance.Std())
	}
	if cfg.Pipeline.FrameBuffer != 256 || cfg.Pipeline.FragmentBuffer != 32 || cfg.Pipeline.AudioBuffer != 64 {
		t.Errorf("buffers = %d/%d/%d, want 256/32/64",
			cfg.Pipeline.FrameBuffer, cfg.Pipeline.FragmentBuffer, cfg.Pipeline.AudioBuffer)
	}
	if cfg.BargeIn.Enabled == nil || !*cfg.BargeIn.Enabled {
		t.Error("BargeIn.Enabled default should be true")
	}
	if cfg.BargeIn.Policy != BargeCancel {
		t.Errorf("BargeIn.Policy = %q, want cancel", cfg.BargeIn.Policy)
	}
	if cfg.Providers.NLU.FastPathConfidence != 0.8 {
		t.Errorf("FastPathConfidence = %.2f, want 0.8", cfg.Providers.NLU.FastPathConfidence)
	}
	if cfg.Cache.FuzzyThreshold != 0.93 {
		t.Errorf("FuzzyThreshold = %.2f, want 0.93", cfg.Cache.FuzzyThreshold)
	}
}

func TestLoadFromReader_DurationParsing(t *testing.T) {
	yaml := minimalYAML + `
pipeline:
  silence_timeout: 1.5s
  grace_period: 250ms
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Pipeline.SilenceTimeout.Std() != 1500*time.Millisecond {
		t.Errorf("SilenceTimeout = %s, want 1.5s", cfg.Pipeline.SilenceTimeout.Std())
	}
	if cfg.Pipeline.GracePeriod.Std() != 250*time.Millisecond {
		t.Errorf("GracePeriod = %s, want 250ms", cfg.Pipeline.GracePeriod.Std())
	}
}

func TestLoadFromReader_InvalidDuration(t *testing.T) {
	yaml := minimalYAML + `
pipeline:
  silence_timeout: not-a-duration
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := minimalYAML + `
pipelines:
  silence_timeout: 1s
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestLoadFromReader_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_DG_KEY", "expanded-secret")

	yaml := strings.Replace(minimalYAML, "api_key: dg-key", "api_key: ${TEST_DG_KEY}", 1)
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.ASR.APIKey != "expanded-secret" {
		t.Errorf("APIKey = %q, want expanded-secret", cfg.Providers.ASR.APIKey)
	}
}

func TestLoadFromReader_UnsetEnvLeftIntact(t *testing.T) {
	yaml := strings.Replace(minimalYAML, "api_key: dg-key", "api_key: ${DEFINITELY_NOT_SET_ANYWHERE}", 1)
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.ASR.APIKey != "${DEFINITELY_NOT_SET_ANYWHERE}" {
		t.Errorf("APIKey = %q, want the reference preserved", cfg.Providers.ASR.APIKey)
	}
}

func TestLoadFromReader_FallbackEntry(t *testing.T) {
	yaml := strings.Replace(minimalYAML, "api_key: dg-key", `api_key: dg-key
    fallback:
      name: whisper
      options:
        model_path: models/base.bin`, 1)
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	fb := cfg.Providers.ASR.Fallback
	if fb == nil || fb.Name != "whisper" {
		t.Fatalf("ASR fallback = %+v, want whisper", fb)
	}
	if OptString(fb.Options, "model_path") != "models/base.bin" {
		t.Errorf("fallback model_path = %q", OptString(fb.Options, "model_path"))
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Server.LogLevel = "loud" },
			want:   "log_level",
		},
		{
			name:   "sample rate too low",
			mutate: func(c *Config) { c.Audio.SampleRate = 4000 },
			want:   "sample_rate",
		},
		{
			name:   "channels out of range",
			mutate: func(c *Config) { c.Audio.Channels = 3 },
			want:   "channels",
		},
		{
			name:   "silence timeout exceeds max utterance",
			mutate: func(c *Config) { c.Pipeline.SilenceTimeout = Duration(time.Minute) },
			want:   "silence_timeout",
		},
		{
			name:   "bad barge-in policy",
			mutate: func(c *Config) { c.BargeIn.Policy = "shrug" },
			want:   "policy",
		},
		{
			name:   "wake threshold out of range",
			mutate: func(c *Config) { c.Providers.Wake.Threshold = 1.5 },
			want:   "threshold",
		},
		{
			name:   "fuzzy threshold out of range",
			mutate: func(c *Config) { c.Cache.FuzzyThreshold = 2 },
			want:   "fuzzy_threshold",
		},
		{
			name:   "negative cache capacity",
			mutate: func(c *Config) { c.Cache.Capacity = -1 },
			want:   "capacity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateProviderName(t *testing.T) {
	tests := []struct {
		kind string
		name string
		want bool
	}{
		{"wake", "energy", true},
		{"wake", "", true},
		// Only names a built binary can actually construct are known;
		// anything else must trip the warning.
		{"wake", "porcupine", false},
		{"asr", "deepgram", true},
		{"asr", "dragon", false},
		{"tts", "elevenlabs", true},
	}
	for _, tt := range tests {
		if got := validateProviderName(tt.kind, tt.name); got != tt.want {
			t.Errorf("validateProviderName(%q, %q) = %t, want %t", tt.kind, tt.name, got, tt.want)
		}
	}
}

func TestValidate_JoinsMultipleErrors(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Audio.SampleRate = 1
	cfg.BargeIn.Policy = "shrug"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"sample_rate", "policy"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestExample_RoundTrips(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(string(Example())))
	if err != nil {
		t.Fatalf("Example() does not load: %v", err)
	}
	if cfg.Providers.ASR.Name != "deepgram" {
		t.Errorf("example asr name = %q", cfg.Providers.ASR.Name)
	}
}
