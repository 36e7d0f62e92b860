package probe

import (
	"encoding/json"

	"github.com/unbound-force/amplify/value"
)

type primitiveKey struct {
	constructorID string
	argIndex      int
	literal       string
}

// PrimitiveCache remembers which (constructor, argument index,
// value) triples a recorder has already logged, so log volume grows
// with distinct literals rather than with call count. It belongs to a
// single recorder and is not safe for concurrent use.
type PrimitiveCache struct {
	seen map[primitiveKey]struct{}
}

// NewPrimitiveCache returns an empty cache.
func NewPrimitiveCache() *PrimitiveCache {
	return &PrimitiveCache{seen: make(map[primitiveKey]struct{})}
}

// AlreadyLogged reports whether the triple was seen before and marks
// it as seen.
func (c *PrimitiveCache) AlreadyLogged(constructorID string, argIndex int, v value.Value) bool {
	lit, err := json.Marshal(v)
	if err != nil {
		// Unencodable values are never logged, so treat them as seen.
		return true
	}
	k := primitiveKey{constructorID: constructorID, argIndex: argIndex, literal: string(lit)}
	if _, ok := c.seen[k]; ok {
		return true
	}
	c.seen[k] = struct{}{}
	return false
}

// Len returns the number of distinct triples seen.
func (c *PrimitiveCache) Len() int { return len(c.seen) }
