// Command cadenza runs the Cadenza voice pipeline: wake-word gating,
// streaming transcription, intent classification, response generation, and
// speech synthesis over a raw PCM transport.
//
// Capture audio is read from stdin and synthesised audio is written to
// stdout, both as raw little-endian 16-bit PCM, so any recorder/player pair
// (arecord/aplay, sox, ffmpeg) completes the loop. Logs go to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/cadenza-ai/cadenza/internal/app"
	"github.com/cadenza-ai/cadenza/internal/config"
	"github.com/cadenza-ai/cadenza/internal/observe"
	"github.com/cadenza-ai/cadenza/pkg/audio/pcmio"
	"github.com/cadenza-ai/cadenza/pkg/provider/asr"
	"github.com/cadenza-ai/cadenza/pkg/provider/asr/deepgram"
	"github.com/cadenza-ai/cadenza/pkg/provider/asr/whisper"
	"github.com/cadenza-ai/cadenza/pkg/provider/nlu"
	"github.com/cadenza-ai/cadenza/pkg/provider/nlu/keyword"
	nluopenai "github.com/cadenza-ai/cadenza/pkg/provider/nlu/openai"
	"github.com/cadenza-ai/cadenza/pkg/provider/respond"
	"github.com/cadenza-ai/cadenza/pkg/provider/respond/anyllm"
	"github.com/cadenza-ai/cadenza/pkg/provider/respond/template"
	"github.com/cadenza-ai/cadenza/pkg/provider/tts"
	"github.com/cadenza-ai/cadenza/pkg/provider/tts/elevenlabs"
	"github.com/cadenza-ai/cadenza/pkg/provider/wake"
	"github.com/cadenza-ai/cadenza/pkg/provider/wake/energy"
)

// version is set via -ldflags at build time.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ─────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	printConfig := flag.Bool("print-config", false, "print a default configuration to stdout and exit")
	flag.Parse()

	if *printConfig {
		os.Stdout.Write(config.Example())
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cadenza: config file %q not found; run with -print-config to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cadenza: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("cadenza starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "cadenza",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("pipeline ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ─── Provider wiring ──────────────────────────────────────────────────────────

// builtinProviders maps provider kinds to the implementations that ship
// with Cadenza. Used for startup logging.
var builtinProviders = map[string][]string{
	"wake":    {"energy"},
	"asr":     {"deepgram", "whisper"},
	"nlu":     {"openai", "keyword"},
	"respond": {"openai", "anthropic", "gemini", "ollama", "mistral", "groq", "llamacpp", "template"},
	"tts":     {"elevenlabs"},
}

// registerBuiltinProviders wires the provider factories that ship with
// Cadenza into reg. Factories close over cfg for cross-cutting settings like
// the capture sample rate.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── Wake ──────────────────────────────────────────────────────────────

	reg.RegisterWake("energy", func(wcfg config.WakeConfig) (wake.Detector, error) {
		var opts []energy.Option
		if wcfg.Threshold > 0 {
			opts = append(opts, energy.WithThreshold(wcfg.Threshold))
		}
		if fs := config.OptFloat(wcfg.Options, "full_scale_rms"); fs > 0 {
			opts = append(opts, energy.WithFullScaleRMS(fs))
		}
		return energy.New(opts...), nil
	})

	// ── ASR ───────────────────────────────────────────────────────────────

	reg.RegisterASR("deepgram", func(entry config.ProviderEntry) (asr.Model, error) {
		opts := []deepgram.Option{deepgram.WithSampleRate(cfg.Audio.SampleRate)}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterASR("whisper", func(entry config.ProviderEntry) (asr.Model, error) {
		modelPath := config.OptString(entry.Options, "model_path")
		if modelPath == "" {
			modelPath = entry.Model
		}
		opts := []whisper.Option{whisper.WithSampleRate(cfg.Audio.SampleRate)}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		return whisper.New(modelPath, opts...)
	})

	// ── NLU ───────────────────────────────────────────────────────────────

	reg.RegisterNLU("openai", func(ncfg config.NLUConfig) (nlu.Classifier, error) {
		var opts []nluopenai.Option
		if ncfg.Model != "" {
			opts = append(opts, nluopenai.WithModel(ncfg.Model))
		}
		if ncfg.BaseURL != "" {
			opts = append(opts, nluopenai.WithBaseURL(ncfg.BaseURL))
		}
		return nluopenai.New(ncfg.APIKey, ncfg.Intents, opts...)
	})

	reg.RegisterNLU("keyword", func(ncfg config.NLUConfig) (nlu.Classifier, error) {
		return keyword.New(keywordRules(ncfg))
	})

	// ── Respond ───────────────────────────────────────────────────────────
	// All any-llm backends share the same pattern: optional APIKey +
	// optional BaseURL. ollama is a local server and takes only a BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini", "mistral", "groq", "llamacpp",
	} {
		reg.RegisterRespond(providerName, func(rcfg config.RespondConfig) (respond.Generator, error) {
			var backendOpts []anyllmlib.Option
			if rcfg.APIKey != "" {
				backendOpts = append(backendOpts, anyllmlib.WithAPIKey(rcfg.APIKey))
			}
			if rcfg.BaseURL != "" {
				backendOpts = append(backendOpts, anyllmlib.WithBaseURL(rcfg.BaseURL))
			}
			return anyllm.New(providerName, rcfg.Model, backendOpts, anyllmOpts(rcfg)...)
		})
	}

	reg.RegisterRespond("ollama", func(rcfg config.RespondConfig) (respond.Generator, error) {
		var backendOpts []anyllmlib.Option
		if rcfg.BaseURL != "" {
			backendOpts = append(backendOpts, anyllmlib.WithBaseURL(rcfg.BaseURL))
		}
		return anyllm.New("ollama", rcfg.Model, backendOpts, anyllmOpts(rcfg)...)
	})

	reg.RegisterRespond("template", func(rcfg config.RespondConfig) (respond.Generator, error) {
		return template.New(templateTable(rcfg.Options)), nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(tcfg config.TTSConfig) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if tcfg.Model != "" {
			opts = append(opts, elevenlabs.WithModel(tcfg.Model))
		}
		if format := config.OptString(tcfg.Options, "output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		return elevenlabs.New(tcfg.APIKey, tcfg.VoiceID, opts...)
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// anyllmOpts collects generator options shared by every any-llm backend.
func anyllmOpts(rcfg config.RespondConfig) []anyllm.Option {
	var opts []anyllm.Option
	if rcfg.SystemPrompt != "" {
		opts = append(opts, anyllm.WithSystemPrompt(rcfg.SystemPrompt))
	}
	return opts
}

// keywordRules builds the keyword classifier's rule set. Explicit rules come
// from the provider's options block:
//
//	options:
//	  rules:
//	    timer.set: ["set a timer", "start a timer for (?P<duration>.+)"]
//
// Intent tags without an explicit rule match their own words, with tag
// separators treated as spaces.
func keywordRules(ncfg config.NLUConfig) []keyword.Rule {
	explicit, _ := ncfg.Options["rules"].(map[string]any)
	sep := strings.NewReplacer(".", " ", "_", " ", "-", " ")

	rules := make([]keyword.Rule, 0, len(ncfg.Intents))
	for _, tag := range ncfg.Intents {
		rule := keyword.Rule{Tag: tag}
		if raw, ok := explicit[tag].([]any); ok {
			for _, p := range raw {
				if s, ok := p.(string); ok {
					rule.Patterns = append(rule.Patterns, s)
				}
			}
		}
		if len(rule.Patterns) == 0 {
			rule.Patterns = []string{sep.Replace(tag)}
		}
		rules = append(rules, rule)
	}
	return rules
}

// templateTable decodes a template generator's response table from its
// options block:
//
//	options:
//	  templates:
//	    timer.set:
//	      - text: "Timer set for {duration}."
//	        action: "timer.start"
func templateTable(options map[string]any) map[string][]template.Fragment {
	raw, _ := options["templates"].(map[string]any)
	if len(raw) == 0 {
		return nil
	}

	table := make(map[string][]template.Fragment, len(raw))
	for tag, entry := range raw {
		list, ok := entry.([]any)
		if !ok {
			continue
		}
		var frags []template.Fragment
		for _, item := range list {
			fields, ok := item.(map[string]any)
			if !ok {
				continue
			}
			frags = append(frags, template.Fragment{
				Text:   config.OptString(fields, "text"),
				Action: config.OptString(fields, "action"),
			})
		}
		if len(frags) > 0 {
			table[tag] = frags
		}
	}
	return table
}

// buildProviders instantiates every provider named in cfg, plus configured
// fallbacks, and assembles the PCM stdio transport.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	// ── Audio transport ───────────────────────────────────────────────────
	source, err := pcmio.NewReaderSource(
		os.Stdin,
		cfg.Audio.SampleRate,
		cfg.Audio.Channels,
		cfg.Audio.FrameDuration.Std(),
		false,
	)
	if err != nil {
		return nil, fmt.Errorf("audio transport: %w", err)
	}
	ps.Source = source
	ps.Sink = pcmio.NewWriterSink(os.Stdout)

	// ── Wake ──────────────────────────────────────────────────────────────
	wcfg := cfg.Providers.Wake
	if wcfg.Name == "" {
		wcfg.Name = "energy"
	}
	ps.Wake, err = reg.CreateWake(wcfg)
	if err != nil {
		return nil, fmt.Errorf("create wake provider: %w", err)
	}
	slog.Info("provider created", "kind", "wake", "name", wcfg.Name)

	// ── ASR ───────────────────────────────────────────────────────────────
	ps.ASR, err = reg.CreateASR(cfg.Providers.ASR.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create asr provider: %w", err)
	}
	slog.Info("provider created", "kind", "asr", "name", cfg.Providers.ASR.Name)

	if fb := cfg.Providers.ASR.Fallback; fb != nil {
		ps.ASRFallback, err = reg.CreateASR(*fb)
		if err != nil {
			return nil, fmt.Errorf("create asr fallback: %w", err)
		}
		slog.Info("provider created", "kind", "asr", "name", fb.Name, "role", "fallback")
	}

	// ── NLU ───────────────────────────────────────────────────────────────
	ps.NLU, err = reg.CreateNLU(cfg.Providers.NLU)
	if err != nil {
		return nil, fmt.Errorf("create nlu provider: %w", err)
	}
	slog.Info("provider created", "kind", "nlu", "name", cfg.Providers.NLU.Name)

	if fb := cfg.Providers.NLU.Fallback; fb != nil {
		fbCfg := cfg.Providers.NLU
		fbCfg.ProviderEntry = *fb
		ps.NLUFallback, err = reg.CreateNLU(fbCfg)
		if err != nil {
			return nil, fmt.Errorf("create nlu fallback: %w", err)
		}
		slog.Info("provider created", "kind", "nlu", "name", fb.Name, "role", "fallback")
	}

	// ── Respond ───────────────────────────────────────────────────────────
	ps.Gen, err = reg.CreateRespond(cfg.Providers.Respond)
	if err != nil {
		return nil, fmt.Errorf("create respond provider: %w", err)
	}
	slog.Info("provider created", "kind", "respond", "name", cfg.Providers.Respond.Name)

	if fb := cfg.Providers.Respond.Fallback; fb != nil {
		fbCfg := cfg.Providers.Respond
		fbCfg.ProviderEntry = *fb
		ps.GenFallback, err = reg.CreateRespond(fbCfg)
		if err != nil {
			return nil, fmt.Errorf("create respond fallback: %w", err)
		}
		slog.Info("provider created", "kind", "respond", "name", fb.Name, "role", "fallback")
	}

	// ── TTS ───────────────────────────────────────────────────────────────
	ps.TTS, err = reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider: %w", err)
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	if fb := cfg.Providers.TTS.Fallback; fb != nil {
		fbCfg := cfg.Providers.TTS
		fbCfg.ProviderEntry = *fb
		ps.TTSFallback, err = reg.CreateTTS(fbCfg)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback: %w", err)
		}
		slog.Info("provider created", "kind", "tts", "name", fb.Name, "role", "fallback")
	}

	return ps, nil
}

// ─── Startup summary ──────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║         Cadenza   startup summary     ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	printProvider("Wake", cfg.Providers.Wake.Name, "")
	printProvider("ASR", cfg.Providers.ASR.Name, cfg.Providers.ASR.Model)
	printProvider("NLU", cfg.Providers.NLU.Name, cfg.Providers.NLU.Model)
	printProvider("Respond", cfg.Providers.Respond.Name, cfg.Providers.Respond.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	fmt.Fprintf(os.Stderr, "║  Intents         : %-19d ║\n", len(cfg.Providers.NLU.Intents))
	fmt.Fprintf(os.Stderr, "║  Intent cache    : %-19s ║\n", cacheSummary(cfg))
	fmt.Fprintf(os.Stderr, "║  Barge-in        : %-19s ║\n", bargeSummary(cfg))
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(os.Stderr, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", kind, value)
}

func cacheSummary(cfg *config.Config) string {
	if cfg.Cache.Capacity == 0 {
		return "(disabled)"
	}
	return fmt.Sprintf("%d entries", cfg.Cache.Capacity)
}

func bargeSummary(cfg *config.Config) string {
	if cfg.BargeIn.Enabled == nil || !*cfg.BargeIn.Enabled {
		return "(disabled)"
	}
	return string(cfg.BargeIn.Policy)
}

// ─── Logger ───────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
