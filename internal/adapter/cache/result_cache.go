package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"docsearch/internal/domain"
)

const (
	DefaultSize = 256
	DefaultTTL  = 5 * time.Minute
)

// Key identifies a search by everything that can change its results.
type Key struct {
	Query        string
	Method       domain.Method
	Limit        int
	Filter       domain.Filter
	Rewrite      bool
	Rerank       bool
	MaxPerSource int
}

func (k Key) hash() string {
	keys := make([]string, 0, len(k.Filter))
	for f := range k.Filter {
		keys = append(keys, f)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\x00%s\x00%d\x00%t\x00%t\x00%d", k.Query, k.Method, k.Limit, k.Rewrite, k.Rerank, k.MaxPerSource)
	for _, f := range keys {
		fmt.Fprintf(&b, "\x00%s=%s", f, k.Filter[f])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

type entry[V any] struct {
	value      V
	generation uint64
}

// ResultCache is a TTL-bounded LRU of search responses. Every entry records
// the store generation it was computed at; a lookup at a newer generation
// is a miss, so a write to the store invalidates everything cached before it.
type ResultCache[V any] struct {
	lru *expirable.LRU[string, entry[V]]
}

func New[V any](size int, ttl time.Duration) *ResultCache[V] {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResultCache[V]{lru: expirable.NewLRU[string, entry[V]](size, nil, ttl)}
}

// Get returns the cached value for key if it was stored at generation.
func (c *ResultCache[V]) Get(key Key, generation uint64) (V, bool) {
	h := key.hash()
	e, ok := c.lru.Get(h)
	if !ok {
		var zero V
		return zero, false
	}
	if e.generation != generation {
		c.lru.Remove(h)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *ResultCache[V]) Put(key Key, generation uint64, value V) {
	c.lru.Add(key.hash(), entry[V]{value: value, generation: generation})
}

// Purge drops every entry.
func (c *ResultCache[V]) Purge() {
	c.lru.Purge()
}

func (c *ResultCache[V]) Len() int {
	return c.lru.Len()
}
