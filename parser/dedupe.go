package parser

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultDedupeSize bounds a Deduper created with a non-positive size.
const DefaultDedupeSize = 10000

// Deduper remembers natural keys seen during one extraction pass. The first
// occurrence of a key wins; memory is bounded by the LRU size.
type Deduper struct {
	seen *lru.Cache[string, struct{}]
}

// NewDeduper builds a Deduper holding at most size keys.
func NewDeduper(size int) *Deduper {
	if size <= 0 {
		size = DefaultDedupeSize
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return &Deduper{seen: cache}
}

// First reports whether key is seen for the first time and records it.
// Empty keys never count as first.
func (d *Deduper) First(key string) bool {
	if key == "" {
		return false
	}
	found, _ := d.seen.ContainsOrAdd(key, struct{}{})
	return !found
}

// Len returns the number of keys remembered.
func (d *Deduper) Len() int {
	return d.seen.Len()
}
