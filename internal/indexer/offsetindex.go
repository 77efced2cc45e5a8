package indexer

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/ssh352/artio/internal/storage/pebble"
)

// Keyspace (byte-wise, lexicographically sortable):
// - idx/last/{session_be4}                  -> last indexed position (be8)
// - idx/ckpt/{session_be4}{position_be8}    -> stream id (be4)
var (
	lastKeyPrefix = []byte("idx/last/")
	ckptKeyPrefix = []byte("idx/ckpt/")
)

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func lastKey(sessionID int32) []byte {
	return appendBE4(append([]byte(nil), lastKeyPrefix...), uint32(sessionID))
}

func ckptKey(sessionID int32, position int64) []byte {
	k := appendBE4(append([]byte(nil), ckptKeyPrefix...), uint32(sessionID))
	return appendBE8(k, uint64(position))
}

// DefaultCheckpointInterval is the record spacing between replay
// checkpoints.
const DefaultCheckpointInterval = 64

// OffsetIndex is a Pebble-backed replay index: it tracks the last indexed
// end-of-message position per session (the catch-up cursor) and writes
// periodic position checkpoints usable to bound replay range queries.
//
// Writes are buffered in a batch and committed by DoWork (or Close); a
// crash loses at most the uncommitted tail, which catch-up replays on the
// next start. Re-delivered positions at or below the committed cursor are
// ignored, keeping re-indexing idempotent.
type OffsetIndex struct {
	db       *pebblestore.DB
	interval int

	last      map[int32]int64
	sinceCkpt map[int32]int
	batch     *pebble.Batch
	pending   int
}

// OpenOffsetIndex opens (or creates) the index storage under dir and loads
// the per-session cursors.
func OpenOffsetIndex(dir string, fsync pebblestore.FsyncMode, checkpointInterval int) (*OffsetIndex, error) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: fsync})
	if err != nil {
		return nil, fmt.Errorf("indexer: open offset index: %w", err)
	}
	if checkpointInterval <= 0 {
		checkpointInterval = DefaultCheckpointInterval
	}
	ix := &OffsetIndex{
		db:        db,
		interval:  checkpointInterval,
		last:      make(map[int32]int64),
		sinceCkpt: make(map[int32]int),
	}
	if err := ix.loadCursors(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ix, nil
}

// DB exposes the underlying store for metrics collection.
func (ix *OffsetIndex) DB() *pebblestore.DB { return ix.db }

func (ix *OffsetIndex) loadCursors() error {
	upper := append(append([]byte(nil), lastKeyPrefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	it, err := ix.db.NewIter(&pebble.IterOptions{LowerBound: lastKeyPrefix, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("indexer: load cursors: %w", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		key := it.Key()
		if len(key) < len(lastKeyPrefix)+4 || len(it.Value()) < 8 {
			continue
		}
		sessionID := int32(binary.BigEndian.Uint32(key[len(lastKeyPrefix):]))
		ix.last[sessionID] = int64(binary.BigEndian.Uint64(it.Value()))
	}
	return nil
}

// ReadLastPosition reports the committed per-session cursors.
func (ix *OffsetIndex) ReadLastPosition(fn func(sessionID int32, position int64)) error {
	for sessionID, position := range ix.last {
		fn(sessionID, position)
	}
	return nil
}

// LastPosition returns the cursor for one session.
func (ix *OffsetIndex) LastPosition(sessionID int32) (int64, bool) {
	position, ok := ix.last[sessionID]
	return position, ok
}

// IndexRecord advances the session cursor, buffering the write. Positions
// at or below the current cursor are already indexed and ignored.
func (ix *OffsetIndex) IndexRecord(buffer []byte, offset, length int, streamID, sessionID int32, position int64) {
	if position <= ix.last[sessionID] {
		return
	}
	if ix.batch == nil {
		ix.batch = ix.db.NewBatch()
	}

	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(position))
	_ = ix.batch.Set(lastKey(sessionID), v[:], nil)

	ix.sinceCkpt[sessionID]++
	if ix.sinceCkpt[sessionID] >= ix.interval {
		var sv [4]byte
		binary.BigEndian.PutUint32(sv[:], uint32(streamID))
		_ = ix.batch.Set(ckptKey(sessionID, position), sv[:], nil)
		ix.sinceCkpt[sessionID] = 0
	}

	ix.last[sessionID] = position
	ix.pending++
}

// DoWork commits buffered cursor updates. The returned count is the number
// of records committed.
func (ix *OffsetIndex) DoWork() (int, error) {
	return ix.flush()
}

func (ix *OffsetIndex) flush() (int, error) {
	if ix.batch == nil || ix.pending == 0 {
		return 0, nil
	}
	n := ix.pending
	err := ix.db.CommitBatch(ix.batch)
	_ = ix.batch.Close()
	ix.batch = nil
	ix.pending = 0
	if err != nil {
		return 0, fmt.Errorf("indexer: commit offset index: %w", err)
	}
	return n, nil
}

// NearestCheckpoint returns the greatest checkpoint position at or below
// position for a session, ok=false when none exists.
func (ix *OffsetIndex) NearestCheckpoint(sessionID int32, position int64) (int64, bool, error) {
	lower := ckptKey(sessionID, 0)
	upper := ckptKey(sessionID, position+1)
	it, err := ix.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, false, err
	}
	defer it.Close()
	if !it.Last() {
		return 0, false, nil
	}
	key := it.Key()
	if len(key) < len(ckptKeyPrefix)+12 {
		return 0, false, nil
	}
	return int64(binary.BigEndian.Uint64(key[len(ckptKeyPrefix)+4:])), true, nil
}

// Close flushes buffered writes and closes the index storage.
func (ix *OffsetIndex) Close() error {
	_, flushErr := ix.flush()
	closeErr := ix.db.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
