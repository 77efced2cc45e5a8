// Package runtime assembles the engine: the log transport, the archiver,
// the replay indexer, and optionally the replication coordinator, all
// driven by one agent runner. It owns the shutdown sequence that lets the
// indexer quiesce without gaps or unbounded duplicates.
package runtime
