package archive

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ssh352/artio/internal/logbuffer"
	pebblestore "github.com/ssh352/artio/internal/storage/pebble"
	logpkg "github.com/ssh352/artio/pkg/log"
)

const testTermLength = 1024

type harness struct {
	transport *logbuffer.Transport
	meta      *MetaData
	dirs      *DirectoryDescriptor
	archiver  *Archiver
	bufferDir string
}

func newHarness(t *testing.T, cacheCapacity int, streamIDs ...int32) *harness {
	t.Helper()
	root := t.TempDir()
	bufferDir := filepath.Join(root, "buffers")
	tr, err := logbuffer.Open(bufferDir, testTermLength)
	if err != nil {
		t.Fatalf("open transport: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	meta, err := OpenMetaData(filepath.Join(root, "meta"), pebblestore.FsyncModeNever)
	if err != nil {
		t.Fatalf("open metadata: %v", err)
	}
	dirs, err := NewDirectoryDescriptor(filepath.Join(root, "logs"))
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}

	var subs []*logbuffer.Subscription
	for _, id := range streamIDs {
		subs = append(subs, tr.AddSubscription(id))
	}
	arch, err := NewArchiver(meta, dirs, testTermLength, cacheCapacity, logpkg.NewNopLogger(), subs)
	if err != nil {
		t.Fatalf("new archiver: %v", err)
	}
	return &harness{transport: tr, meta: meta, dirs: dirs, archiver: arch, bufferDir: bufferDir}
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	for {
		n, err := h.archiver.DoWork()
		if err != nil {
			t.Fatalf("archiver DoWork: %v", err)
		}
		if n == 0 {
			return
		}
	}
}

func TestMetaDataWrittenOncePerSession(t *testing.T) {
	meta, err := OpenMetaData(t.TempDir(), pebblestore.FsyncModeNever)
	if err != nil {
		t.Fatalf("open metadata: %v", err)
	}
	defer meta.Close()

	if err := meta.Write(1, 7, 0, testTermLength); err != nil {
		t.Fatalf("write: %v", err)
	}
	// A later write for the same session must not clobber the original.
	if err := meta.Write(1, 7, 5, testTermLength*2); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	md, ok, err := meta.Read(7)
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if md.InitialTermID != 0 || md.TermLength != testTermLength {
		t.Fatalf("metadata overwritten: %+v", md)
	}
	if _, ok, _ := meta.Read(99); ok {
		t.Fatal("unexpected metadata for unknown session")
	}
}

func TestArchiverMirrorsTermBuffers(t *testing.T) {
	h := newHarness(t, 16, 1)
	pub, _ := h.transport.AddPublication(1, 7)

	for i := 0; i < 40; i++ {
		if _, err := pub.Offer([]byte(fmt.Sprintf("fix-msg-%03d", i))); err != nil {
			t.Fatalf("offer: %v", err)
		}
	}
	h.drain(t)

	// Every archived term file must be byte-identical to its term buffer.
	terms := 0
	for termID := int32(0); ; termID++ {
		archived, err := os.ReadFile(h.dirs.LogFile(1, 7, termID))
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			t.Fatalf("read archive: %v", err)
		}
		buffer, err := os.ReadFile(filepath.Join(h.bufferDir, logbuffer.TermFileName(1, 7, termID)))
		if err != nil {
			t.Fatalf("read buffer: %v", err)
		}
		if !bytes.Equal(archived, buffer[:len(archived)]) {
			t.Fatalf("term %d archive differs from buffer", termID)
		}
		terms++
	}
	if terms == 0 {
		t.Fatal("no archive files written")
	}

	md, ok, err := h.meta.Read(7)
	if err != nil || !ok {
		t.Fatalf("metadata missing: ok=%v err=%v", ok, err)
	}
	if md.StreamID != 1 || md.TermLength != testTermLength {
		t.Fatalf("bad metadata: %+v", md)
	}
}

func TestArchiverTermSwitchClosesPreviousFile(t *testing.T) {
	h := newHarness(t, 16, 1)
	pub, _ := h.transport.AddPublication(1, 7)

	// Fill term 0 completely, then a little of term 1.
	payload := make([]byte, 96) // aligned frame = 128; exactly 8 frames per term
	for i := 0; i < 10; i++ {
		if _, err := pub.Offer(payload); err != nil {
			t.Fatalf("offer: %v", err)
		}
	}
	h.drain(t)

	st0, err := os.Stat(h.dirs.LogFile(1, 7, 0))
	if err != nil {
		t.Fatalf("term 0 archive missing: %v", err)
	}
	if st0.Size() != testTermLength {
		t.Fatalf("term 0 archive size = %d, want %d", st0.Size(), testTermLength)
	}
	st1, err := os.Stat(h.dirs.LogFile(1, 7, 1))
	if err != nil {
		t.Fatalf("term 1 archive missing: %v", err)
	}
	if st1.Size() == 0 {
		t.Fatal("term 1 archive empty: bytes lost at boundary")
	}
	if st0.Size()+st1.Size() != int64(10*128) {
		t.Fatalf("bytes lost across boundary: %d + %d != %d", st0.Size(), st1.Size(), 10*128)
	}
}

func TestArchiverBoundedCacheStillArchivesAllSessions(t *testing.T) {
	// Capacity 1 forces an eviction on every session switch; the evicted
	// file must be closed and re-opened in append mode without data loss.
	h := newHarness(t, 1, 1)
	pubA, _ := h.transport.AddPublication(1, 100)
	pubB, _ := h.transport.AddPublication(1, 200)

	for i := 0; i < 20; i++ {
		if _, err := pubA.Offer([]byte(fmt.Sprintf("a-%d", i))); err != nil {
			t.Fatalf("offer a: %v", err)
		}
		if _, err := pubB.Offer([]byte(fmt.Sprintf("b-%d", i))); err != nil {
			t.Fatalf("offer b: %v", err)
		}
		h.drain(t)
	}

	for _, sessionID := range []int32{100, 200} {
		archived, err := os.ReadFile(h.dirs.LogFile(1, sessionID, 0))
		if err != nil {
			t.Fatalf("archive for session %d: %v", sessionID, err)
		}
		buffer, err := os.ReadFile(filepath.Join(h.bufferDir, logbuffer.TermFileName(1, sessionID, 0)))
		if err != nil {
			t.Fatalf("buffer for session %d: %v", sessionID, err)
		}
		if !bytes.Equal(archived, buffer[:len(archived)]) {
			t.Fatalf("session %d archive corrupted by eviction churn", sessionID)
		}
	}
}

func TestArchiverCloseIsAggregateAndIdempotent(t *testing.T) {
	h := newHarness(t, 4, 1)
	pub, _ := h.transport.AddPublication(1, 7)
	if _, err := pub.Offer([]byte("x")); err != nil {
		t.Fatalf("offer: %v", err)
	}
	h.drain(t)

	if err := h.archiver.OnClose(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.archiver.OnClose(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	// Metadata store is closed with the archiver.
	if err := h.meta.Write(1, 8, 0, testTermLength); err == nil {
		t.Fatal("metadata store still open after archiver close")
	}
}

func TestSessionReaderReplaysPublishedPositions(t *testing.T) {
	h := newHarness(t, 4, 1)
	pub, _ := h.transport.AddPublication(1, 7)

	var wantPos []int64
	var wantBody [][]byte
	for i := 0; i < 25; i++ {
		body := []byte(fmt.Sprintf("record-%02d", i))
		pos, err := pub.Offer(body)
		if err != nil {
			t.Fatalf("offer: %v", err)
		}
		wantPos = append(wantPos, pos)
		wantBody = append(wantBody, body)
	}
	h.drain(t)

	reader := NewArchiveReader(h.meta, h.dirs)
	defer reader.Close()
	sr, err := reader.Session(7)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sr == nil {
		t.Fatal("expected session reader")
	}

	var gotPos []int64
	var gotBody [][]byte
	last := int64(0)
	for {
		next, err := sr.Read(logbuffer.Align(last)+logbuffer.HeaderLength, func(buf []byte, off, length int, header logbuffer.Header) {
			gotBody = append(gotBody, append([]byte(nil), buf[off:off+length]...))
			gotPos = append(gotPos, header.Position())
		})
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if next <= 0 {
			break
		}
		last = next
	}

	if len(gotPos) != len(wantPos) {
		t.Fatalf("replayed %d records, want %d", len(gotPos), len(wantPos))
	}
	for i := range wantPos {
		if gotPos[i] != wantPos[i] {
			t.Fatalf("record %d position = %d, want %d", i, gotPos[i], wantPos[i])
		}
		if !bytes.Equal(gotBody[i], wantBody[i]) {
			t.Fatalf("record %d body = %q, want %q", i, gotBody[i], wantBody[i])
		}
	}
}

func TestSessionReaderUnknownSession(t *testing.T) {
	h := newHarness(t, 4, 1)
	reader := NewArchiveReader(h.meta, h.dirs)
	defer reader.Close()
	sr, err := reader.Session(424242)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sr != nil {
		t.Fatal("expected nil reader for never-archived session")
	}
}

func TestSessionReaderDetectsCorruption(t *testing.T) {
	h := newHarness(t, 4, 1)
	pub, _ := h.transport.AddPublication(1, 7)
	if _, err := pub.Offer([]byte("payload-to-corrupt")); err != nil {
		t.Fatalf("offer: %v", err)
	}
	h.drain(t)

	// Flip a body byte in the archived file.
	path := h.dirs.LogFile(1, 7, 0)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	data[logbuffer.HeaderLength] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	reader := NewArchiveReader(h.meta, h.dirs)
	defer reader.Close()
	sr, _ := reader.Session(7)
	_, err = sr.Read(logbuffer.HeaderLength, func([]byte, int, int, logbuffer.Header) {
		t.Fatal("corrupt frame must not be dispatched")
	})
	if !errors.Is(err, ErrCorruptFrame) {
		t.Fatalf("expected ErrCorruptFrame, got %v", err)
	}
}

func TestScannerReportsPerRecordFailures(t *testing.T) {
	h := newHarness(t, 4, 1)
	pub, _ := h.transport.AddPublication(1, 7)
	for i := 0; i < 3; i++ {
		if _, err := pub.Offer([]byte(fmt.Sprintf("scan-%d", i))); err != nil {
			t.Fatalf("offer: %v", err)
		}
	}
	h.drain(t)

	// Corrupt the middle record's body.
	path := h.dirs.LogFile(1, 7, 0)
	data, _ := os.ReadFile(path)
	frameSize := int64(logbuffer.AlignInt32(logbuffer.HeaderLength + int32(len("scan-0"))))
	data[frameSize+logbuffer.HeaderLength] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("rewrite archive: %v", err)
	}

	sc := &Scanner{TermLength: testTermLength}
	var records []string
	var failures int
	err := sc.ScanDirectory(h.dirs.Dir(), ScanFilter{StreamID: 1},
		func(r ScanRecord) { records = append(records, string(r.Body)) },
		func(file string, offset int64, err error) { failures++ },
	)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if failures != 1 {
		t.Fatalf("failures = %d, want 1", failures)
	}
	if len(records) != 2 || records[0] != "scan-0" || records[1] != "scan-2" {
		t.Fatalf("scan skipped wrong records: %v", records)
	}
}

func TestScannerInfersTermLength(t *testing.T) {
	// The harness term length differs from the transport default, so
	// positions computed from an assumed default would be wrong.
	h := newHarness(t, 4, 1)
	pub, _ := h.transport.AddPublication(1, 7)

	var wantPos []int64
	for i := 0; i < 20; i++ { // 64 aligned bytes each: term 0 plus part of term 1
		pos, err := pub.Offer([]byte("payload-xyz"))
		if err != nil {
			t.Fatalf("offer: %v", err)
		}
		wantPos = append(wantPos, pos)
	}
	h.drain(t)

	sc := &Scanner{}
	var gotPos []int64
	err := sc.ScanDirectory(h.dirs.Dir(), ScanFilter{StreamID: 1, SessionID: 7},
		func(r ScanRecord) { gotPos = append(gotPos, r.Position) },
		func(file string, offset int64, err error) {
			t.Fatalf("unexpected failure: %s at %d: %v", file, offset, err)
		},
	)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(gotPos) != len(wantPos) {
		t.Fatalf("scanned %d records, want %d", len(gotPos), len(wantPos))
	}
	for i := range wantPos {
		if gotPos[i] != wantPos[i] {
			t.Fatalf("record %d position = %d, want %d", i, gotPos[i], wantPos[i])
		}
	}
}

func TestParseLogFileName(t *testing.T) {
	s, sess, term, ok := ParseLogFileName(LogFileName(3, 77, 12))
	if !ok || s != 3 || sess != 77 || term != 12 {
		t.Fatalf("parse failed: %d %d %d %v", s, sess, term, ok)
	}
	if _, _, _, ok := ParseLogFileName("not-an-archive.txt"); ok {
		t.Fatal("expected parse failure")
	}
}
