// Package anyllm provides a streaming [respond.Generator] backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more.
//
// The generator streams model tokens and re-chunks them at sentence
// boundaries, so the first fragment reaches synthesis as soon as the first
// sentence is complete rather than when the whole response is.
//
// Usage:
//
//	g, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	g, err := anyllm.NewOllama("llama3.2")
package anyllm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/cadenza-ai/cadenza/pkg/provider/respond"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Compile-time assertion.
var _ respond.Generator = (*Generator)(nil)

const defaultSystemPrompt = `You are the spoken-response component of a voice assistant.
You receive a classified user intent and produce the assistant's reply.
Answer in short, natural spoken sentences. Never use markdown, lists, or emoji.`

const defaultMaxTokens = 256

// Option is a functional option for Generator.
type Option func(*Generator)

// WithSystemPrompt replaces the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(g *Generator) { g.systemPrompt = prompt }
}

// WithTemperature sets the sampling temperature. Defaults to the backend's
// default when unset.
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = &t }
}

// WithMaxTokens caps the response length in tokens. Defaults to 256; spoken
// replies that run longer than that are a latency problem, not a feature.
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// Generator implements [respond.Generator] by wrapping any-llm-go.
type Generator struct {
	backend      anyllmlib.Provider
	model        string
	systemPrompt string
	temperature  *float64
	maxTokens    int
}

// New creates a Generator backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "mistral", "groq", "llamacpp". model is the specific model to use. opts
// configure the generator; API keys come from anyllm environment variables
// (OPENAI_API_KEY and friends) unless set via backend options.
func New(providerName, model string, backendOpts []anyllmlib.Option, opts ...Option) (*Generator, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	g := &Generator{
		backend:      backend,
		model:        model,
		systemPrompt: defaultSystemPrompt,
		maxTokens:    defaultMaxTokens,
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// NewOpenAI creates a Generator backed by OpenAI.
func NewOpenAI(model string, opts ...Option) (*Generator, error) {
	return New("openai", model, nil, opts...)
}

// NewOllama creates a Generator backed by Ollama (local inference).
func NewOllama(model string, opts ...Option) (*Generator, error) {
	return New("ollama", model, nil, opts...)
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, mistral, groq, llamacpp", providerName)
	}
}

// Generate implements [respond.Generator].
func (g *Generator) Generate(ctx context.Context, intent types.Intent) (<-chan types.ResponseFragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("anyllm: context already cancelled: %w", err)
	}

	params := anyllmlib.CompletionParams{
		Model: g.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: g.systemPrompt},
			{Role: anyllmlib.RoleUser, Content: renderIntent(intent)},
		},
		Temperature: g.temperature,
	}
	if g.maxTokens > 0 {
		mt := g.maxTokens
		params.MaxTokens = &mt
	}

	chunks, errs := g.backend.CompletionStream(ctx, params)

	// Strip the backend chunk envelope down to what re-chunking needs.
	deltas := make(chan tokenDelta, 8)
	go func() {
		defer close(deltas)
		for chunk := range chunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			select {
			case deltas <- tokenDelta{content: choice.Delta.Content, finish: choice.FinishReason}:
			case <-ctx.Done():
				return
			}
		}
	}()

	out := make(chan types.ResponseFragment, 8)
	go func() {
		defer close(out)
		rechunk(ctx, deltas, errs, out)
	}()
	return out, nil
}

// tokenDelta is one streamed model increment: the text added and, when the
// stream is done, the backend's finish reason.
type tokenDelta struct {
	content string
	finish  string
}

// rechunk folds streamed token deltas into complete sentences and emits each
// as a fragment on out. The terminal fragment carries Last=true; a value on
// errs aborts the stream without one, which the pipeline reads as an aborted
// generation. A closed errs channel is not an error.
func rechunk(ctx context.Context, deltas <-chan tokenDelta, errs <-chan error, out chan<- types.ResponseFragment) {
	var buf strings.Builder
	var seq int
	emitted := false

	emit := func(text string, last bool) bool {
		frag := types.ResponseFragment{Seq: seq, Text: text, Last: last}
		seq++
		emitted = true
		select {
		case out <- frag:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-errs:
			if !ok {
				// Closed without an error; the delta stream runs out on
				// its own. A nil channel never wins the select again.
				errs = nil
				continue
			}
			if err != nil {
				// Aborted mid-stream: close without a Last fragment.
				return
			}

		case d, ok := <-deltas:
			if !ok {
				// Stream ended: flush remaining text as the final fragment.
				if rest := strings.TrimSpace(buf.String()); rest != "" {
					emit(rest, true)
				} else if emitted {
					emit("", true)
				}
				return
			}
			buf.WriteString(d.content)

			// Flush complete sentences eagerly for lower synthesis latency.
			for {
				idx := firstSentenceBoundary(buf.String())
				if idx < 0 {
					break
				}
				sentence := buf.String()[:idx+1]
				rest := buf.String()[idx+1:]
				buf.Reset()
				buf.WriteString(strings.TrimLeft(rest, " \t\n\r"))
				if !emit(sentence, false) {
					return
				}
			}

			if d.finish != "" {
				if rest := strings.TrimSpace(buf.String()); rest != "" {
					emit(rest, true)
				} else {
					emit("", true)
				}
				return
			}
		}
	}
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// character that is immediately followed by whitespace. Returns -1 if no
// such boundary exists in s.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// renderIntent formats a classified intent as the user turn for the model.
func renderIntent(intent types.Intent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Intent: %s\n", intent.Tag)
	if len(intent.Slots) > 0 {
		keys := make([]string, 0, len(intent.Slots))
		for k := range intent.Slots {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Slots:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %s\n", k, intent.Slots[k])
		}
	}
	return b.String()
}
