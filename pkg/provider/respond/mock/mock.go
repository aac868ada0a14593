// Package mock provides a scripted in-memory [respond.Generator] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/cadenza-ai/cadenza/pkg/provider/respond"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Compile-time assertion.
var _ respond.Generator = (*Generator)(nil)

// Generator is a mock [respond.Generator]. Each Generate call emits the
// scripted Texts as fragments, the final one with Last=true.
type Generator struct {
	mu sync.Mutex

	// Texts is the scripted response, one fragment per entry.
	Texts []string

	// StartErr, when non-nil, is returned by Generate before any fragment.
	StartErr error

	// AbortAfter, when > 0, closes the fragment channel after that many
	// fragments without a Last marker, simulating a mid-stream fault.
	AbortAfter int

	// Release, when set, delays each fragment until the channel yields.
	// Used to hold generation open so cancellation can interrupt it.
	Release chan struct{}

	intents []types.Intent
	ctxs    []context.Context
}

// Generate implements [respond.Generator].
func (g *Generator) Generate(ctx context.Context, intent types.Intent) (<-chan types.ResponseFragment, error) {
	g.mu.Lock()
	g.intents = append(g.intents, intent)
	g.ctxs = append(g.ctxs, ctx)
	texts := g.Texts
	startErr := g.StartErr
	abortAfter := g.AbortAfter
	release := g.Release
	g.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}

	out := make(chan types.ResponseFragment)
	go func() {
		defer close(out)
		for i, text := range texts {
			if abortAfter > 0 && i >= abortAfter {
				return
			}
			if release != nil {
				select {
				case <-release:
				case <-ctx.Done():
					return
				}
			}
			frag := types.ResponseFragment{
				Seq:  i,
				Text: text,
				Last: i == len(texts)-1,
			}
			select {
			case out <- frag:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Intents returns every intent passed to Generate, in order.
func (g *Generator) Intents() []types.Intent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]types.Intent, len(g.intents))
	copy(out, g.intents)
	return out
}

// Contexts returns the context passed to each Generate call, in order.
func (g *Generator) Contexts() []context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]context.Context, len(g.ctxs))
	copy(out, g.ctxs)
	return out
}
