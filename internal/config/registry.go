package config

import (
	"errors"
	"fmt"

	"github.com/cadenza-ai/cadenza/pkg/provider/asr"
	"github.com/cadenza-ai/cadenza/pkg/provider/nlu"
	"github.com/cadenza-ai/cadenza/pkg/provider/respond"
	"github.com/cadenza-ai/cadenza/pkg/provider/tts"
	"github.com/cadenza-ai/cadenza/pkg/provider/wake"
)

// ErrProviderNotRegistered is returned by the Create* methods when no
// factory exists for the requested provider name.
var ErrProviderNotRegistered = errors.New("provider not registered")

// Factory function types, one per pipeline stage. Each factory receives the
// stage's full configuration block and constructs a ready-to-use provider.
type (
	WakeFactory    func(cfg WakeConfig) (wake.Detector, error)
	ASRFactory     func(entry ProviderEntry) (asr.Model, error)
	NLUFactory     func(cfg NLUConfig) (nlu.Classifier, error)
	RespondFactory func(cfg RespondConfig) (respond.Generator, error)
	TTSFactory     func(cfg TTSConfig) (tts.Synthesizer, error)
)

// Registry maps provider names to factories. main registers the built-in
// implementations at startup; tests register mocks. Registration is not safe
// for concurrent use and must complete before the first Create call.
type Registry struct {
	wakes    map[string]WakeFactory
	asrs     map[string]ASRFactory
	nlus     map[string]NLUFactory
	responds map[string]RespondFactory
	ttss     map[string]TTSFactory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		wakes:    make(map[string]WakeFactory),
		asrs:     make(map[string]ASRFactory),
		nlus:     make(map[string]NLUFactory),
		responds: make(map[string]RespondFactory),
		ttss:     make(map[string]TTSFactory),
	}
}

// RegisterWake registers a wake-word detector factory under name.
func (r *Registry) RegisterWake(name string, f WakeFactory) { r.wakes[name] = f }

// RegisterASR registers a transcription model factory under name.
func (r *Registry) RegisterASR(name string, f ASRFactory) { r.asrs[name] = f }

// RegisterNLU registers an intent classifier factory under name.
func (r *Registry) RegisterNLU(name string, f NLUFactory) { r.nlus[name] = f }

// RegisterRespond registers a response generator factory under name.
func (r *Registry) RegisterRespond(name string, f RespondFactory) { r.responds[name] = f }

// RegisterTTS registers a speech synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, f TTSFactory) { r.ttss[name] = f }

// CreateWake builds the wake detector named in cfg.
func (r *Registry) CreateWake(cfg WakeConfig) (wake.Detector, error) {
	f, ok := r.wakes[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("wake %q: %w", cfg.Name, ErrProviderNotRegistered)
	}
	return f(cfg)
}

// CreateASR builds the transcription model named in entry.
func (r *Registry) CreateASR(entry ProviderEntry) (asr.Model, error) {
	f, ok := r.asrs[entry.Name]
	if !ok {
		return nil, fmt.Errorf("asr %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return f(entry)
}

// CreateNLU builds the intent classifier named in cfg.
func (r *Registry) CreateNLU(cfg NLUConfig) (nlu.Classifier, error) {
	f, ok := r.nlus[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("nlu %q: %w", cfg.Name, ErrProviderNotRegistered)
	}
	return f(cfg)
}

// CreateRespond builds the response generator named in cfg.
func (r *Registry) CreateRespond(cfg RespondConfig) (respond.Generator, error) {
	f, ok := r.responds[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("respond %q: %w", cfg.Name, ErrProviderNotRegistered)
	}
	return f(cfg)
}

// CreateTTS builds the speech synthesizer named in cfg.
func (r *Registry) CreateTTS(cfg TTSConfig) (tts.Synthesizer, error) {
	f, ok := r.ttss[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("tts %q: %w", cfg.Name, ErrProviderNotRegistered)
	}
	return f(cfg)
}

// OptString extracts a string value from a provider's Options map. Returns
// "" when the key is absent or holds a non-string value.
func OptString(options map[string]any, key string) string {
	if v, ok := options[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// OptFloat extracts a numeric value from a provider's Options map. YAML
// decodes untyped numbers as int or float64 depending on their spelling, so
// both are accepted. Returns 0 when the key is absent or non-numeric.
func OptFloat(options map[string]any, key string) float64 {
	switch v := options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
