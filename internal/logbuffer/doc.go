// Package logbuffer implements the append-only, segmented log transport the
// engine's persistence and replication components consume.
//
// Each (streamID, sessionID) pair owns a logical log split into fixed-length,
// 0-indexed segments called terms, backed by one file per term under the
// buffer directory. Messages are framed with a fixed 32-byte header aligned
// to 32-byte boundaries; a position is the byte offset into the session's
// logical log and is strictly monotonic within a session.
//
// Publications append framed messages. Subscriptions poll independently:
// fragment-wise (bounded or controlled) for indexing and replication, or
// block-wise for raw file-to-file archiving.
package logbuffer
