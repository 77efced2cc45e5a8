// Package archive durably mirrors the log transport's raw bytes to disk and
// reads them back for replay.
//
// The Archiver drains subscription term buffers block-wise into one
// append-only file per (streamID, sessionID, termID), holding at most a
// bounded number of open session files via an LRU cache. Session metadata
// (stream, initial term, term length) is persisted once per session in a
// Pebble store. The ArchiveReader resolves per-session readers over the
// persisted files for catch-up replay, and the Scanner walks archive
// directories for the printing and dumping CLIs.
package archive
