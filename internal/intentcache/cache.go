// Package intentcache provides a bounded fuzzy cache from normalised
// transcripts to classified intents, plus the two-phase reconciler that
// keeps speculative fast-path results honest against confirmed
// classifications.
//
// The cache exists for the fast path: when a partial transcript already
// resembles something the pipeline classified before, the cached intent can
// seed speculative response generation without a classifier round-trip.
// Lookups fall back to Jaro-Winkler similarity so small ASR wobbles
// ("turn off the light" vs "turn of the light") still hit.
package intentcache

import (
	"container/list"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// LookupResult describes how a cache lookup was satisfied.
type LookupResult int

const (
	// Miss means no entry matched.
	Miss LookupResult = iota

	// Hit means an entry matched the normalised text exactly.
	Hit

	// FuzzyHit means an entry matched above the similarity threshold.
	FuzzyHit
)

// String returns the metric label for the result.
func (r LookupResult) String() string {
	switch r {
	case Hit:
		return "hit"
	case FuzzyHit:
		return "fuzzy_hit"
	default:
		return "miss"
	}
}

// entry is one cached transcript-to-intent binding.
type entry struct {
	key    string
	intent types.Intent
}

// Cache is a bounded LRU mapping normalised transcripts to intents with
// fuzzy lookup. It is safe for concurrent use.
//
// A zero-capacity cache is valid and caches nothing; every lookup misses.
type Cache struct {
	mu        sync.Mutex
	capacity  int
	threshold float64
	order     *list.List               // front = most recent
	index     map[string]*list.Element // key -> element holding *entry
}

// New creates a Cache holding at most capacity entries. threshold is the
// minimum Jaro-Winkler similarity in (0, 1] for a fuzzy match.
func New(capacity int, threshold float64) *Cache {
	return &Cache{
		capacity:  capacity,
		threshold: threshold,
		order:     list.New(),
		index:     make(map[string]*list.Element),
	}
}

// Get looks up text, trying an exact match on the normalised form first and
// a fuzzy scan second. A hit of either kind refreshes the entry's recency.
func (c *Cache) Get(text string) (types.Intent, LookupResult) {
	key := normalize(text)
	if key == "" {
		return types.Intent{}, Miss
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*entry).intent, Hit
	}

	// Fuzzy scan. Capacity is small by configuration, so a linear pass over
	// all entries is acceptable.
	var (
		best      *list.Element
		bestScore float64
	)
	for el := c.order.Front(); el != nil; el = el.Next() {
		score := matchr.JaroWinkler(key, el.Value.(*entry).key, false)
		if score >= c.threshold && score > bestScore {
			best = el
			bestScore = score
		}
	}
	if best != nil {
		c.order.MoveToFront(best)
		return best.Value.(*entry).intent, FuzzyHit
	}

	return types.Intent{}, Miss
}

// Put stores the intent under the normalised form of text, evicting the
// least recently used entry when at capacity.
func (c *Cache) Put(text string, intent types.Intent) {
	key := normalize(text)
	if key == "" || c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		el.Value.(*entry).intent = intent
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.index, oldest.Value.(*entry).key)
		}
	}

	c.index[key] = c.order.PushFront(&entry{key: key, intent: intent})
}

// Invalidate removes the entry for text, if present. Used when a cached
// intent was contradicted by a confirmed classification.
func (c *Cache) Invalidate(text string) {
	key := normalize(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.order.Remove(el)
		delete(c.index, key)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// normalize lower-cases text and collapses runs of whitespace.
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
