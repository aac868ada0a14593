// Package mock provides a scripted in-memory [nlu.Classifier] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/cadenza-ai/cadenza/pkg/provider/nlu"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Compile-time assertion.
var _ nlu.Classifier = (*Classifier)(nil)

// Classifier is a mock [nlu.Classifier]. Results are looked up by exact
// input text; unscripted text yields [nlu.UnknownTag].
type Classifier struct {
	mu sync.Mutex

	// ByText maps input text to the intent to return.
	ByText map[string]types.Intent

	// Err, when non-nil, is returned by every Classify call.
	Err error

	// ErrAt injects an error on the given zero-based call index, overriding
	// scripted results for that call only.
	ErrAt map[int]error

	// Delay, when set, makes Classify block until the context is cancelled
	// or the channel is closed. Used to exercise timeout paths.
	Delay chan struct{}

	calls []string
}

// Classify implements [nlu.Classifier].
func (c *Classifier) Classify(ctx context.Context, text string) (types.Intent, error) {
	c.mu.Lock()
	idx := len(c.calls)
	c.calls = append(c.calls, text)
	delay := c.Delay
	c.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return types.Intent{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return types.Intent{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.ErrAt[idx]; ok {
		return types.Intent{}, err
	}
	if c.Err != nil {
		return types.Intent{}, c.Err
	}
	if intent, ok := c.ByText[text]; ok {
		return intent, nil
	}
	return types.Intent{Tag: nlu.UnknownTag, Confidence: 0.1}, nil
}

// Calls returns every input text seen, in order.
func (c *Classifier) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}
