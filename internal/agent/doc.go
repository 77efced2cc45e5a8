// Package agent defines the cooperative scheduling contract shared by the
// engine's long-running components (archiver, indexer, coordinator) and a
// Runner that drives a set of agents round-robin on a single goroutine.
//
// An agent's DoWork must not block: it performs a bounded slice of work and
// returns a work count, zero meaning idle. The Runner backs off when every
// agent reports idle. A DoWork error is fatal to that agent only: it is
// closed and removed from the rotation while the others keep running.
package agent
