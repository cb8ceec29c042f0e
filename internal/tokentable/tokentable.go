// Package tokentable wraps a plain Go map keyed by token.Token with the
// manual rehash bookkeeping the daemon's repository needs. Go's built-in map
// grows on its own but never shrinks; this wrapper tracks a target bucket
// count the same way the reference hash table does, so that a repository
// that releases a burst of objects eventually gives back its backing array
// rather than holding it at peak size forever.
package tokentable

import "github.com/marktsuchida/partaked/token"

const minBuckets = 8

// Table is a map[token.Token]E with explicit rehash bookkeeping. The zero
// Table is not ready to use; call New.
type Table[E any] struct {
	m       map[token.Token]E
	buckets int
}

// New returns an empty Table.
func New[E any]() *Table[E] {
	return &Table[E]{
		m:       make(map[token.Token]E, minBuckets),
		buckets: minBuckets,
	}
}

// Get returns the element stored under key, if any.
func (t *Table[E]) Get(key token.Token) (E, bool) {
	v, ok := t.m[key]
	return v, ok
}

// Set stores v under key, overwriting any existing entry.
func (t *Table[E]) Set(key token.Token, v E) {
	t.m[key] = v
}

// Delete removes key, if present.
func (t *Table[E]) Delete(key token.Token) {
	delete(t.m, key)
}

// Len returns the number of entries currently stored.
func (t *Table[E]) Len() int {
	return len(t.m)
}

// Range calls f for every entry. f must not mutate the table.
func (t *Table[E]) Range(f func(key token.Token, v E) bool) {
	for k, v := range t.m {
		if !f(k, v) {
			return
		}
	}
}

// RehashIfAppropriate reconsiders the tracked bucket count against the
// current entry count and, if a threshold is crossed, reallocates the
// underlying map so Go's allocator can reclaim space from a shrunk table.
// Grown and shrunk targets mirror daemon/token_hash_table.hpp's
// rehash_if_appropriate: grow x2 above a 1.5 load factor, shrink to
// max(8, buckets/4) below a 0.125 load factor. allowShrink=false suppresses
// the shrink branch, mirroring the reference implementation's parameter of
// the same name, used when a caller wants only amortized growth during a
// burst of inserts (e.g. for-loop batch of creates) without thrashing a
// shrink in between.
//
// Called (through Repository.RehashIfAppropriate) once per inbound message
// by the acceptor's event loop, right after the request handler has run,
// matching the reference's call site.
func (t *Table[E]) RehashIfAppropriate(allowShrink bool) {
	current := t.buckets
	usage := len(t.m)

	newCount := current
	if usage > current/2*3 {
		newCount = 2 * current
	} else if allowShrink && usage < current/8 {
		newCount = current / 4
		if newCount < minBuckets {
			newCount = minBuckets
		}
	}
	if newCount == current {
		return
	}

	rehashed := make(map[token.Token]E, newCount)
	for k, v := range t.m {
		rehashed[k] = v
	}
	t.m = rehashed
	t.buckets = newCount
}
