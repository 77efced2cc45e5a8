package indexer

// Index is a consumer of log fragments that maintains a derived, queryable
// structure and knows how far it has already indexed each session.
//
// An Indexer drives its indexes in a fixed enumeration order per fragment;
// there is no cross-index ordering guarantee beyond that. Each concrete
// Index owns its derived storage exclusively.
type Index interface {
	// ReadLastPosition reports the last indexed end-of-message position of
	// every known session. Used once, before live polling, to bound
	// catch-up replay.
	ReadLastPosition(fn func(sessionID int32, position int64)) error

	// IndexRecord consumes one message. position is the end-of-message
	// position within the session. Implementations may buffer; buffered
	// write failures surface from DoWork or Close.
	IndexRecord(buffer []byte, offset, length int, streamID, sessionID int32, position int64)

	// DoWork performs background maintenance (e.g. flushing buffered
	// writes) and returns the number of work units done.
	DoWork() (int, error)

	// Close flushes and releases the index's storage.
	Close() error
}
