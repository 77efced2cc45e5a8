package indexer

import (
	"testing"

	pebblestore "github.com/ssh352/artio/internal/storage/pebble"
)

func openTestIndex(t *testing.T, dir string, interval int) *OffsetIndex {
	t.Helper()
	ix, err := OpenOffsetIndex(dir, pebblestore.FsyncModeNever, interval)
	if err != nil {
		t.Fatalf("open offset index: %v", err)
	}
	return ix
}

func TestOffsetIndexCursorSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ix := openTestIndex(t, dir, DefaultCheckpointInterval)
	ix.IndexRecord(nil, 0, 0, 1, 7, 128)
	ix.IndexRecord(nil, 0, 0, 1, 7, 256)
	ix.IndexRecord(nil, 0, 0, 1, 9, 64)
	if _, err := ix.DoWork(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := ix.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ix = openTestIndex(t, dir, DefaultCheckpointInterval)
	defer ix.Close()
	if pos, ok := ix.LastPosition(7); !ok || pos != 256 {
		t.Fatalf("session 7 cursor = %d,%v, want 256,true", pos, ok)
	}
	if pos, ok := ix.LastPosition(9); !ok || pos != 64 {
		t.Fatalf("session 9 cursor = %d,%v, want 64,true", pos, ok)
	}
	if _, ok := ix.LastPosition(8); ok {
		t.Fatal("unexpected cursor for unknown session")
	}
}

func TestOffsetIndexIgnoresRedelivery(t *testing.T) {
	ix := openTestIndex(t, t.TempDir(), DefaultCheckpointInterval)
	defer ix.Close()
	ix.IndexRecord(nil, 0, 0, 1, 7, 256)
	ix.IndexRecord(nil, 0, 0, 1, 7, 128)
	ix.IndexRecord(nil, 0, 0, 1, 7, 256)
	if pos, _ := ix.LastPosition(7); pos != 256 {
		t.Fatalf("cursor regressed to %d", pos)
	}
}

func TestOffsetIndexNearestCheckpoint(t *testing.T) {
	ix := openTestIndex(t, t.TempDir(), 2)
	defer ix.Close()
	for i := int64(1); i <= 8; i++ {
		ix.IndexRecord(nil, 0, 0, 1, 7, i*64)
	}
	if _, err := ix.DoWork(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// Checkpoints land every second record: positions 128, 256, 384, 512.
	pos, ok, err := ix.NearestCheckpoint(7, 300)
	if err != nil {
		t.Fatalf("nearest checkpoint: %v", err)
	}
	if !ok || pos != 256 {
		t.Fatalf("nearest checkpoint = %d,%v, want 256,true", pos, ok)
	}

	if _, ok, err := ix.NearestCheckpoint(7, 100); err != nil || ok {
		t.Fatalf("expected no checkpoint before 128, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := ix.NearestCheckpoint(99, 1000); err != nil || ok {
		t.Fatalf("expected no checkpoint for unknown session, got ok=%v err=%v", ok, err)
	}
}

func TestOffsetIndexCloseFlushesPending(t *testing.T) {
	dir := t.TempDir()
	ix := openTestIndex(t, dir, DefaultCheckpointInterval)
	ix.IndexRecord(nil, 0, 0, 1, 7, 512)
	if err := ix.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ix = openTestIndex(t, dir, DefaultCheckpointInterval)
	defer ix.Close()
	if pos, ok := ix.LastPosition(7); !ok || pos != 512 {
		t.Fatalf("pending cursor lost on close: %d,%v", pos, ok)
	}
}
