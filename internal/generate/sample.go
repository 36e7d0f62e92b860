package generate

import (
	"math/rand/v2"

	"github.com/unbound-force/amplify/probe"
)

// DefaultCap bounds the candidates synthesized per target method.
const DefaultCap = 50

// Sample selects at most limit calls. A group smaller than limit is
// returned whole, in order. Otherwise limit calls are drawn uniformly
// without replacement: each draw picks an index into the remaining
// pool and removes it, so no part of the group is favoured.
func Sample(calls []probe.CallRecord, limit int, rng *rand.Rand) []probe.CallRecord {
	if limit <= 0 {
		return nil
	}
	if len(calls) < limit {
		return append([]probe.CallRecord(nil), calls...)
	}
	pool := append([]probe.CallRecord(nil), calls...)
	out := make([]probe.CallRecord, 0, limit)
	for len(out) < limit {
		i := rng.IntN(len(pool))
		out = append(out, pool[i])
		pool = append(pool[:i], pool[i+1:]...)
	}
	return out
}
