package intentcache

import (
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Proposal is a staged provisional classification awaiting confirmation.
// The pipeline creates one when the fast path starts speculative generation
// and resolves it once the committed transcript has been classified.
type Proposal struct {
	// Text is the partial transcript the provisional intent was derived
	// from.
	Text string

	// Intent is the provisional classification.
	Intent types.Intent

	// FromCache records whether the provisional intent came from the cache
	// rather than the classifier. A mismatch then also invalidates the
	// stale cache entry.
	FromCache bool
}

// Outcome is the result of reconciling a proposal against the confirmed
// classification.
type Outcome int

const (
	// Confirmed means the provisional intent matched; staged response
	// fragments may be released downstream.
	Confirmed Outcome = iota

	// Mismatch means the confirmed intent differs; staged fragments must
	// be discarded and the response regenerated from the confirmed intent.
	Mismatch
)

// String returns the metric label for the outcome.
func (o Outcome) String() string {
	if o == Confirmed {
		return "confirmed"
	}
	return "mismatch"
}

// Reconciler implements the two-phase commit between provisional and
// confirmed classifications, keeping the cache consistent on both paths.
// It is safe for concurrent use; each proposal is independent.
type Reconciler struct {
	cache *Cache
}

// NewReconciler creates a Reconciler over the given cache.
func NewReconciler(cache *Cache) *Reconciler {
	return &Reconciler{cache: cache}
}

// Propose stages a provisional classification for later reconciliation.
func (r *Reconciler) Propose(text string, intent types.Intent, fromCache bool) *Proposal {
	return &Proposal{Text: text, Intent: intent, FromCache: fromCache}
}

// Confirm resolves a proposal against the confirmed classification of the
// committed transcript. The confirmed intent is always written to the cache
// under the final text; on a mismatch of a cache-sourced proposal, the stale
// entry is invalidated as well.
func (r *Reconciler) Confirm(p *Proposal, finalText string, confirmed types.Intent) Outcome {
	r.cache.Put(finalText, confirmed)

	if p.Intent.Equal(confirmed) {
		return Confirmed
	}

	if p.FromCache {
		r.cache.Invalidate(p.Text)
	}
	return Mismatch
}
