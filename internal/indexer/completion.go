package indexer

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// CompletionPosition is the process-wide shutdown watermark: for each
// session, the last position guaranteed durably processed, plus the flags
// the quiesce phase polls. It is written exactly once per shutdown by the
// shutdown coordinator and read repeatedly by the Indexer; publication is
// release/acquire via the completed flag.
type CompletionPosition struct {
	positions       *xsync.MapOf[int32, int64]
	completed       atomic.Bool
	startupComplete atomic.Bool
}

// NewCompletionPosition returns an empty, not-yet-completed watermark.
func NewCompletionPosition() *CompletionPosition {
	return &CompletionPosition{positions: xsync.NewMapOf[int32, int64]()}
}

// Complete publishes the per-session watermark and marks shutdown
// sequencing as having reached this component. wasStartupComplete records
// that the system was already fully caught up when shutdown began, which
// lets the quiesce replay be skipped entirely. Call at most once.
func (c *CompletionPosition) Complete(positions map[int32]int64, wasStartupComplete bool) {
	for sessionID, position := range positions {
		c.positions.Store(sessionID, position)
	}
	c.startupComplete.Store(wasStartupComplete)
	c.completed.Store(true)
}

// HasCompleted reports whether shutdown sequencing has reached this
// component.
func (c *CompletionPosition) HasCompleted() bool { return c.completed.Load() }

// WasStartupComplete reports whether the system was fully caught up before
// shutdown began.
func (c *CompletionPosition) WasStartupComplete() bool { return c.startupComplete.Load() }

// CompletedPosition returns the watermark for a session, 0 when the session
// has no recorded watermark.
func (c *CompletionPosition) CompletedPosition(sessionID int32) int64 {
	position, _ := c.positions.Load(sessionID)
	return position
}
