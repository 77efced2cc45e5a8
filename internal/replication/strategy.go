package replication

import "sort"

// AckStrategy certifies the highest term committed across the required
// subset of followers given the current acknowledgement table.
type AckStrategy interface {
	FindAckedTerm(table *AckTable) int64
}

// EntireSetStrategy commits a term only once every configured follower
// has acknowledged it: the committed term is the minimum across the set.
type EntireSetStrategy struct{}

// FindAckedTerm returns the minimum acked term, 0 for an empty set.
func (EntireSetStrategy) FindAckedTerm(table *AckTable) int64 {
	if table.Size() == 0 {
		return 0
	}
	min := int64(-1)
	table.Each(func(_ int32, term int64) {
		if min < 0 || term < min {
			min = term
		}
	})
	return min
}

// QuorumStrategy commits the highest term acknowledged by at least
// Quorum followers. A Quorum of zero or less means a simple majority of
// the configured set.
type QuorumStrategy struct {
	Quorum int
}

// FindAckedTerm returns the Quorum-th highest acked term, 0 when the
// quorum cannot be met.
func (s QuorumStrategy) FindAckedTerm(table *AckTable) int64 {
	n := table.Size()
	if n == 0 {
		return 0
	}
	quorum := s.Quorum
	if quorum <= 0 {
		quorum = n/2 + 1
	}
	if quorum > n {
		return 0
	}
	terms := make([]int64, 0, n)
	table.Each(func(_ int32, term int64) {
		terms = append(terms, term)
	})
	sort.Slice(terms, func(i, j int) bool { return terms[i] > terms[j] })
	return terms[quorum-1]
}
