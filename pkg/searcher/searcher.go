// Package searcher implements an in-memory substring-filtered document
// index: documents carry lower-cased search terms and an optional ordering
// key, and queries either return the unordered filtered set or a
// stably-sorted, limited one.
package searcher

import (
	"sort"
	"strings"
	"sync"
)

// Document pairs a value with the terms it should be found by and its
// position in ordered results.
type Document[T any] struct {
	Queries []string
	Order   int
	Doc     T
}

// Searcher holds the current document set for one index.
type Searcher[T any] struct {
	mu   sync.RWMutex
	docs []Document[T]
}

// New creates an empty Searcher.
func New[T any]() *Searcher[T] {
	return &Searcher[T]{}
}

// UpdateData replaces the indexed document set. Queries are lower-cased at
// ingest to amortize the cost across repeated Search calls.
func (s *Searcher[T]) UpdateData(docs []Document[T]) {
	normalized := make([]Document[T], len(docs))
	for i, d := range docs {
		queries := make([]string, len(d.Queries))
		for j, q := range d.Queries {
			queries[j] = strings.ToLower(q)
		}
		normalized[i] = Document[T]{Queries: queries, Order: d.Order, Doc: d.Doc}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = normalized
}

// SearchOption configures a Search call.
type SearchOption func(*searchOptions)

type searchOptions struct {
	ordered bool
	limit   int
	hasLim  bool
}

// Ordered requests the stable-sort-by-Order, truncate-to-limit path instead
// of the unordered filtered set.
func Ordered(limit int) SearchOption {
	return func(o *searchOptions) {
		o.ordered = true
		o.limit = limit
		o.hasLim = true
	}
}

// Search returns matching documents for query. With no options, it returns
// every document whose queries contain query as a substring, in index
// order; an empty query matches everything. With Ordered, the same
// predicate applies, then the result is stably sorted by Order ascending
// and truncated to the given limit.
func (s *Searcher[T]) Search(query string, opts ...SearchOption) []T {
	var o searchOptions
	for _, opt := range opts {
		opt(&o)
	}

	needle := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]Document[T], 0, len(s.docs))
	for _, d := range s.docs {
		if needle == "" || containsAny(d.Queries, needle) {
			matches = append(matches, d)
		}
	}

	if !o.ordered {
		out := make([]T, len(matches))
		for i, d := range matches {
			out[i] = d.Doc
		}
		return out
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Order < matches[j].Order
	})
	if o.hasLim && len(matches) > o.limit {
		matches = matches[:o.limit]
	}
	out := make([]T, len(matches))
	for i, d := range matches {
		out[i] = d.Doc
	}
	return out
}

func containsAny(queries []string, needle string) bool {
	for _, q := range queries {
		if strings.Contains(q, needle) {
			return true
		}
	}
	return false
}
