// Package template provides a fixed-response [respond.Generator]. Each
// intent tag maps to a canned sequence of fragments with `{slot}`
// placeholders interpolated from the intent's slots.
//
// It needs no network or model, which makes it the terminal fallback behind
// LLM-backed generators and the natural generator for closed-domain
// command-and-control deployments where responses carry device actions.
package template

import (
	"context"
	"strings"

	"github.com/cadenza-ai/cadenza/pkg/provider/respond"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Compile-time assertion.
var _ respond.Generator = (*Generator)(nil)

// DefaultFallbackText is spoken for intents with no registered template.
const DefaultFallbackText = "Sorry, I didn't catch that."

// Fragment is one templated piece of a response.
type Fragment struct {
	// Text is the spoken text. `{name}` placeholders are replaced with the
	// intent slot of the same name; placeholders with no matching slot are
	// left as-is.
	Text string

	// Action is an optional opaque directive forwarded alongside the speech
	// (e.g., "lights.off", "timer.start").
	Action string
}

// Option is a functional option for Generator.
type Option func(*Generator)

// WithFallback replaces the response used for unregistered intent tags.
func WithFallback(frags ...Fragment) Option {
	return func(g *Generator) { g.fallback = frags }
}

// Generator implements [respond.Generator] over a fixed template table.
type Generator struct {
	templates map[string][]Fragment
	fallback  []Fragment
}

// New creates a Generator from a tag-to-fragments table. A nil or empty
// table is allowed; every intent then receives the fallback response.
func New(templates map[string][]Fragment, opts ...Option) *Generator {
	g := &Generator{
		templates: templates,
		fallback:  []Fragment{{Text: DefaultFallbackText}},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate implements [respond.Generator]. It never fails after start; the
// full response is templated up front and buffered into the channel.
func (g *Generator) Generate(ctx context.Context, intent types.Intent) (<-chan types.ResponseFragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frags, ok := g.templates[intent.Tag]
	if !ok || len(frags) == 0 {
		frags = g.fallback
	}

	out := make(chan types.ResponseFragment, len(frags))
	for i, f := range frags {
		out <- types.ResponseFragment{
			Seq:    i,
			Text:   interpolate(f.Text, intent.Slots),
			Action: f.Action,
			Last:   i == len(frags)-1,
		}
	}
	close(out)
	return out, nil
}

// interpolate replaces `{name}` placeholders with slot values.
func interpolate(text string, slots map[string]string) string {
	if len(slots) == 0 || !strings.Contains(text, "{") {
		return text
	}
	for name, value := range slots {
		text = strings.ReplaceAll(text, "{"+name+"}", value)
	}
	return text
}
