package taxonomy

// Tier ranks traced methods by how risky they are to leave untested.
type Tier string

// Priority tier constants.
const (
	TierP0 Tier = "P0"
	TierP1 Tier = "P1"
	TierP2 Tier = "P2"
	TierP3 Tier = "P3"
)

// Complexity thresholds for the tiers. 15 matches the usual CRAP
// threshold.
const (
	p0Complexity = 15
	p1Complexity = 10
	p2Complexity = 5
)

// TierOf returns the priority tier for a cyclomatic complexity.
func TierOf(complexity int) Tier {
	switch {
	case complexity >= p0Complexity:
		return TierP0
	case complexity >= p1Complexity:
		return TierP1
	case complexity >= p2Complexity:
		return TierP2
	}
	return TierP3
}

// Tier returns the priority tier of the target method.
func (mt MethodTarget) Tier() Tier { return TierOf(mt.Complexity) }
