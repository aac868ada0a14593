// Package respond defines the Generator interface for response-generation
// backends.
//
// A generator turns a classified [types.Intent] into an ordered stream of
// [types.ResponseFragment] values. Fragments stream out incrementally so
// synthesis can begin before the full response exists; the pipeline stamps
// the UtteranceID on each fragment before forwarding.
package respond

import (
	"context"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Generator is the abstraction over any response-generation backend.
//
// Implementations must be safe for concurrent use.
type Generator interface {
	// Generate starts producing a response for the given intent. Fragments
	// arrive on the returned channel in Seq order; the terminal fragment
	// carries Last=true and the channel is closed after it.
	//
	// A channel that closes without a Last fragment signals that generation
	// was aborted mid-stream, either by ctx cancellation or a backend fault.
	// The pipeline treats the latter as a generation fault and falls back.
	Generate(ctx context.Context, intent types.Intent) (<-chan types.ResponseFragment, error)
}
