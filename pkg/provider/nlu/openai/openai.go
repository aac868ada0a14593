// Package openai provides an [nlu.Classifier] backed by the OpenAI chat
// completions API. The model is prompted to emit a single strict JSON object
// with the intent tag, slots, and confidence.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/cadenza-ai/cadenza/pkg/provider/nlu"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Compile-time assertion.
var _ nlu.Classifier = (*Classifier)(nil)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 10 * time.Second
)

const systemPromptTemplate = `You are an intent classifier for a voice assistant.
Classify the user utterance into exactly one of these intents: %s.
If none fits, use "unknown".

Respond with a single JSON object and nothing else:
{"tag": "<intent>", "slots": {"<name>": "<value>"}, "confidence": <0.0-1.0>}

Omit "slots" when there are none. Confidence reflects how certain you are.`

// config holds optional configuration for the classifier.
type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Classifier.
type Option func(*config)

// WithModel sets the chat model used for classification. Defaults to
// "gpt-4o-mini"; classification is a short structured task so a small model
// is usually the right choice.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the default OpenAI API base URL, for compatible
// gateways and local servers.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Classifier implements [nlu.Classifier] using the OpenAI API.
type Classifier struct {
	client       oai.Client
	model        string
	systemPrompt string
}

// New creates a Classifier. intents is the closed set of intent tags the
// model may produce; [nlu.UnknownTag] is always permitted.
func New(apiKey string, intents []string, opts ...Option) (*Classifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if len(intents) == 0 {
		return nil, fmt.Errorf("openai: at least one intent tag is required")
	}

	cfg := config{
		model:   defaultModel,
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(&cfg)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
	}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}

	quoted := make([]string, len(intents))
	for i, tag := range intents {
		quoted[i] = `"` + tag + `"`
	}

	return &Classifier{
		client:       oai.NewClient(clientOpts...),
		model:        cfg.model,
		systemPrompt: fmt.Sprintf(systemPromptTemplate, strings.Join(quoted, ", ")),
	}, nil
}

// classification is the JSON shape the model is prompted to produce.
type classification struct {
	Tag        string            `json:"tag"`
	Slots      map[string]string `json:"slots"`
	Confidence float64           `json:"confidence"`
}

// Classify implements [nlu.Classifier].
func (c *Classifier) Classify(ctx context.Context, text string) (types.Intent, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(c.systemPrompt),
			oai.UserMessage(text),
		},
		Temperature: param.NewOpt(0.0),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return types.Intent{}, fmt.Errorf("openai: classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return types.Intent{}, fmt.Errorf("openai: classify: no choices returned")
	}

	return parseClassification(resp.Choices[0].Message.Content)
}

// parseClassification decodes the model's JSON reply into an Intent. Code
// fences around the object are tolerated since smaller models occasionally
// add them despite the prompt.
func parseClassification(content string) (types.Intent, error) {
	raw := strings.TrimSpace(content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var cl classification
	if err := json.Unmarshal([]byte(raw), &cl); err != nil {
		return types.Intent{}, fmt.Errorf("openai: parse classification %q: %w", content, err)
	}
	if cl.Tag == "" {
		cl.Tag = nlu.UnknownTag
	}
	if cl.Confidence < 0 {
		cl.Confidence = 0
	}
	if cl.Confidence > 1 {
		cl.Confidence = 1
	}

	return types.Intent{
		Tag:        cl.Tag,
		Slots:      cl.Slots,
		Confidence: cl.Confidence,
	}, nil
}
