package indexer

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ssh352/artio/internal/archive"
	"github.com/ssh352/artio/internal/logbuffer"
	pebblestore "github.com/ssh352/artio/internal/storage/pebble"
	logpkg "github.com/ssh352/artio/pkg/log"
)

const testTermLength = 1024

// fakeIndex records every IndexRecord call and serves canned cursors.
type fakeIndex struct {
	lastPositions map[int32]int64
	records       []recordedCall
	closed        int
}

type recordedCall struct {
	sessionID int32
	position  int64
	body      string
}

func (f *fakeIndex) ReadLastPosition(fn func(sessionID int32, position int64)) error {
	for sessionID, position := range f.lastPositions {
		fn(sessionID, position)
	}
	return nil
}

func (f *fakeIndex) IndexRecord(buffer []byte, offset, length int, streamID, sessionID int32, position int64) {
	f.records = append(f.records, recordedCall{sessionID, position, string(buffer[offset : offset+length])})
}

func (f *fakeIndex) DoWork() (int, error) { return 0, nil }

func (f *fakeIndex) Close() error {
	f.closed++
	return nil
}

func (f *fakeIndex) positionsFor(sessionID int32) []int64 {
	var out []int64
	for _, r := range f.records {
		if r.sessionID == sessionID {
			out = append(out, r.position)
		}
	}
	return out
}

type fixture struct {
	transport *logbuffer.Transport
	meta      *archive.MetaData
	dirs      *archive.DirectoryDescriptor
	archiver  *archive.Archiver
	root      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	tr, err := logbuffer.Open(filepath.Join(root, "buffers"), testTermLength)
	if err != nil {
		t.Fatalf("open transport: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	meta, err := archive.OpenMetaData(filepath.Join(root, "meta"), pebblestore.FsyncModeNever)
	if err != nil {
		t.Fatalf("open metadata: %v", err)
	}
	dirs, err := archive.NewDirectoryDescriptor(filepath.Join(root, "logs"))
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	arch, err := archive.NewArchiver(meta, dirs, testTermLength, 16, logpkg.NewNopLogger(),
		[]*logbuffer.Subscription{tr.AddSubscription(1)})
	if err != nil {
		t.Fatalf("new archiver: %v", err)
	}
	t.Cleanup(func() { _ = arch.OnClose() })
	return &fixture{transport: tr, meta: meta, dirs: dirs, archiver: arch, root: root}
}

func (fx *fixture) publish(t *testing.T, sessionID int32, count int) []int64 {
	t.Helper()
	pub, err := fx.transport.AddPublication(1, sessionID)
	if err != nil {
		t.Fatalf("add publication: %v", err)
	}
	var positions []int64
	for i := 0; i < count; i++ {
		pos, err := pub.Offer([]byte(fmt.Sprintf("s%d-m%03d", sessionID, i)))
		if err != nil {
			t.Fatalf("offer: %v", err)
		}
		positions = append(positions, pos)
	}
	return positions
}

func (fx *fixture) archiveAll(t *testing.T) {
	t.Helper()
	for {
		n, err := fx.archiver.DoWork()
		if err != nil {
			t.Fatalf("archiver: %v", err)
		}
		if n == 0 {
			return
		}
	}
}

func TestCatchUpResumesAtAlignedPosition(t *testing.T) {
	fx := newFixture(t)
	positions := fx.publish(t, 2, 30)
	fx.archiveAll(t)

	// The index saw only the first 10 records before the "crash".
	idx := &fakeIndex{lastPositions: map[int32]int64{2: positions[9]}}
	reader := archive.NewArchiveReader(fx.meta, fx.dirs)
	sub := fx.transport.AddSubscription(1)

	completion := NewCompletionPosition()
	ix, err := NewIndexer([]Index{idx}, reader, sub, "Engine", completion, logpkg.NewNopLogger())
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}

	replayed := idx.positionsFor(2)
	if len(replayed) != 20 {
		t.Fatalf("replayed %d records, want 20", len(replayed))
	}
	for i, pos := range replayed {
		if pos != positions[10+i] {
			t.Fatalf("replay %d at position %d, want %d", i, pos, positions[10+i])
		}
	}

	completion.Complete(nil, true)
	if err := ix.OnClose(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if idx.closed != 1 {
		t.Fatalf("index closed %d times, want 1", idx.closed)
	}
}

func TestCatchUpSkipsNeverArchivedSessions(t *testing.T) {
	fx := newFixture(t)
	idx := &fakeIndex{lastPositions: map[int32]int64{999: 4096}}
	reader := archive.NewArchiveReader(fx.meta, fx.dirs)
	sub := fx.transport.AddSubscription(1)

	completion := NewCompletionPosition()
	ix, err := NewIndexer([]Index{idx}, reader, sub, "Engine", completion, logpkg.NewNopLogger())
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	if len(idx.records) != 0 {
		t.Fatalf("unexpected replay for never-archived session: %v", idx.records)
	}
	completion.Complete(nil, true)
	_ = ix.OnClose()
}

func TestRestartReproducesUninterruptedIndex(t *testing.T) {
	// Three sessions write across two terms; session 2's index lags as if
	// the process died mid-term-1. Catch-up must rebuild the exact cursors
	// an uninterrupted run would have produced.
	fx := newFixture(t)
	want := map[int32][]int64{}
	for _, sessionID := range []int32{1, 2, 3} {
		// 20 frames of 64 aligned bytes each span terms 0 and 1.
		want[sessionID] = fx.publish(t, sessionID, 20)
	}
	fx.archiveAll(t)

	indexDir := filepath.Join(fx.root, "index")
	before, err := OpenOffsetIndex(indexDir, pebblestore.FsyncModeNever, 4)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	// Simulate the pre-crash run: sessions 1 and 3 fully indexed, session 2
	// only through its 12th record.
	for _, sessionID := range []int32{1, 3} {
		for _, pos := range want[sessionID] {
			before.IndexRecord(nil, 0, 0, 1, sessionID, pos)
		}
	}
	for _, pos := range want[2][:12] {
		before.IndexRecord(nil, 0, 0, 1, 2, pos)
	}
	if _, err := before.DoWork(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := before.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	after, err := OpenOffsetIndex(indexDir, pebblestore.FsyncModeNever, 4)
	if err != nil {
		t.Fatalf("reopen index: %v", err)
	}
	reader := archive.NewArchiveReader(fx.meta, fx.dirs)
	sub := fx.transport.AddSubscription(1)
	completion := NewCompletionPosition()
	ix, err := NewIndexer([]Index{after}, reader, sub, "Engine", completion, logpkg.NewNopLogger())
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}

	for sessionID, positions := range want {
		got, ok := after.LastPosition(sessionID)
		if !ok {
			t.Fatalf("session %d lost its cursor", sessionID)
		}
		if wantLast := positions[len(positions)-1]; got != wantLast {
			t.Fatalf("session %d cursor = %d, want %d", sessionID, got, wantLast)
		}
	}

	completion.Complete(nil, true)
	if err := ix.OnClose(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestQuiesceSkippedWhenStartupComplete(t *testing.T) {
	fx := newFixture(t)
	fx.publish(t, 4, 5)

	idx := &fakeIndex{}
	reader := archive.NewArchiveReader(fx.meta, fx.dirs)
	sub := fx.transport.AddSubscription(1)
	completion := NewCompletionPosition()
	ix, err := NewIndexer([]Index{idx}, reader, sub, "Engine", completion, logpkg.NewNopLogger())
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}

	completion.Complete(map[int32]int64{4: 0}, true)
	if err := ix.OnClose(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(idx.records) != 0 {
		t.Fatalf("quiesce dispatched %d fragments despite clean startup", len(idx.records))
	}
}

func TestQuiesceRedeliversOnlyBeyondWatermark(t *testing.T) {
	fx := newFixture(t)
	positions := fx.publish(t, 4, 4)

	idx := &fakeIndex{}
	reader := archive.NewArchiveReader(fx.meta, fx.dirs)
	sub := fx.transport.AddSubscription(1)
	completion := NewCompletionPosition()
	ix, err := NewIndexer([]Index{idx}, reader, sub, "Engine", completion, logpkg.NewNopLogger())
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}

	// Everything through the second record was durably completed before
	// shutdown; the drain must re-deliver only the records beyond it.
	completion.Complete(map[int32]int64{4: positions[1]}, false)
	if err := ix.OnClose(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := idx.positionsFor(4)
	if len(got) != 2 || got[0] != positions[2] || got[1] != positions[3] {
		t.Fatalf("quiesce dispatched %v, want %v", got, positions[2:])
	}
}

func TestLiveDispatchPreservesEnumerationOrder(t *testing.T) {
	fx := newFixture(t)
	fx.publish(t, 4, 1)

	first := &fakeIndex{}
	second := &fakeIndex{}
	order := make([]string, 0, 2)
	tracker := &orderTracker{inner: first, name: "first", order: &order}
	tracker2 := &orderTracker{inner: second, name: "second", order: &order}

	reader := archive.NewArchiveReader(fx.meta, fx.dirs)
	sub := fx.transport.AddSubscription(1)
	completion := NewCompletionPosition()
	ix, err := NewIndexer([]Index{tracker, tracker2}, reader, sub, "Engine", completion, logpkg.NewNopLogger())
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	if _, err := ix.DoWork(); err != nil {
		t.Fatalf("do work: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("indexes driven out of order: %v", order)
	}
	completion.Complete(nil, true)
	_ = ix.OnClose()
}

type orderTracker struct {
	inner *fakeIndex
	name  string
	order *[]string
}

func (o *orderTracker) ReadLastPosition(fn func(int32, int64)) error {
	return o.inner.ReadLastPosition(fn)
}

func (o *orderTracker) IndexRecord(buffer []byte, offset, length int, streamID, sessionID int32, position int64) {
	*o.order = append(*o.order, o.name)
	o.inner.IndexRecord(buffer, offset, length, streamID, sessionID, position)
}

func (o *orderTracker) DoWork() (int, error) { return o.inner.DoWork() }
func (o *orderTracker) Close() error         { return o.inner.Close() }
