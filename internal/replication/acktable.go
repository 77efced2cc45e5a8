package replication

// NoSession marks a follower that is not part of the configured follower
// set. It is never stored in the table and never advanced.
const NoSession int64 = -1

// AckTable maps each configured follower to the highest term it has
// acknowledged. The table is owned by a single Coordinator and is not
// safe for concurrent use.
type AckTable struct {
	acked map[int32]int64
}

// NewAckTable builds a table over the configured follower set, every
// follower starting at term 0.
func NewAckTable(followers []int32) *AckTable {
	acked := make(map[int32]int64, len(followers))
	for _, follower := range followers {
		acked[follower] = 0
	}
	return &AckTable{acked: acked}
}

// AckedTerm returns the highest term acknowledged by follower, or
// NoSession when the follower is not configured.
func (t *AckTable) AckedTerm(follower int32) int64 {
	term, ok := t.acked[follower]
	if !ok {
		return NoSession
	}
	return term
}

// Advance records term for a known follower. It returns false without
// modifying the table when the follower is unknown or when term does not
// strictly exceed the follower's recorded value.
func (t *AckTable) Advance(follower int32, term int64) bool {
	prev, ok := t.acked[follower]
	if !ok || term <= prev {
		return false
	}
	t.acked[follower] = term
	return true
}

// Size reports the number of configured followers.
func (t *AckTable) Size() int { return len(t.acked) }

// Each visits every follower and its acked term.
func (t *AckTable) Each(fn func(follower int32, term int64)) {
	for follower, term := range t.acked {
		fn(follower, term)
	}
}
