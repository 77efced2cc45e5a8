package archive

import (
	"encoding/binary"
	"errors"
	"fmt"

	pebblestore "github.com/ssh352/artio/internal/storage/pebble"
)

var metaKeyPrefix = []byte("arc/meta/")

// SessionMetaData records the immutable facts of one archived session,
// written once when the session is first observed.
type SessionMetaData struct {
	StreamID      int32
	SessionID     int32
	InitialTermID int32
	TermLength    int32
}

// MetaData is the Pebble-backed archive metadata store.
type MetaData struct {
	db *pebblestore.DB
}

// OpenMetaData opens (or creates) the metadata store under dir.
func OpenMetaData(dir string, fsync pebblestore.FsyncMode) (*MetaData, error) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: fsync})
	if err != nil {
		return nil, fmt.Errorf("archive: open metadata store: %w", err)
	}
	return &MetaData{db: db}, nil
}

// DB exposes the underlying store for metrics collection.
func (m *MetaData) DB() *pebblestore.DB { return m.db }

func metaKey(sessionID int32) []byte {
	k := make([]byte, 0, len(metaKeyPrefix)+4)
	k = append(k, metaKeyPrefix...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(sessionID))
	return append(k, b[:]...)
}

// Write persists the metadata for a newly observed session. Re-writing an
// already recorded session is a no-op, so the durable record stays the one
// made at first observation.
func (m *MetaData) Write(streamID, sessionID, initialTermID, termLength int32) error {
	key := metaKey(sessionID)
	if _, err := m.db.Get(key); err == nil {
		return nil
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return fmt.Errorf("archive: read metadata: %w", err)
	}

	var v [16]byte
	binary.BigEndian.PutUint32(v[0:], uint32(streamID))
	binary.BigEndian.PutUint32(v[4:], uint32(sessionID))
	binary.BigEndian.PutUint32(v[8:], uint32(initialTermID))
	binary.BigEndian.PutUint32(v[12:], uint32(termLength))
	if err := m.db.Set(key, v[:]); err != nil {
		return fmt.Errorf("archive: write metadata: %w", err)
	}
	return nil
}

// Read resolves the metadata of a session. ok is false when the session was
// never archived.
func (m *MetaData) Read(sessionID int32) (md SessionMetaData, ok bool, err error) {
	v, err := m.db.Get(metaKey(sessionID))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return SessionMetaData{}, false, nil
	}
	if err != nil {
		return SessionMetaData{}, false, fmt.Errorf("archive: read metadata: %w", err)
	}
	if len(v) < 16 {
		return SessionMetaData{}, false, fmt.Errorf("archive: metadata record truncated: %d bytes", len(v))
	}
	return SessionMetaData{
		StreamID:      int32(binary.BigEndian.Uint32(v[0:])),
		SessionID:     int32(binary.BigEndian.Uint32(v[4:])),
		InitialTermID: int32(binary.BigEndian.Uint32(v[8:])),
		TermLength:    int32(binary.BigEndian.Uint32(v[12:])),
	}, true, nil
}

// Close closes the metadata store.
func (m *MetaData) Close() error {
	return m.db.Close()
}
