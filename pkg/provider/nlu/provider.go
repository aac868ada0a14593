// Package nlu defines the Classifier interface for intent classification
// backends.
//
// A classifier maps a transcript to a structured [types.Intent]. The pipeline
// invokes it twice per utterance under the fast-path flow: once on a partial
// transcript (the provisional pass) and once on the committed transcript (the
// confirmation pass). Classifiers are stateless with respect to utterances;
// the pipeline stamps the UtteranceID and the Provisional flag on the result.
package nlu

import (
	"context"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// UnknownTag is the intent tag classifiers return when no known intent
// matches the input with any confidence.
const UnknownTag = "unknown"

// Classifier is the abstraction over any intent-classification backend.
//
// Implementations must be safe for concurrent use.
type Classifier interface {
	// Classify maps text to an intent with extracted slots and a confidence
	// in [0, 1]. Text the classifier cannot place returns an intent with
	// Tag set to [UnknownTag] and a low confidence rather than an error;
	// errors are reserved for backend faults.
	Classify(ctx context.Context, text string) (types.Intent, error)
}
