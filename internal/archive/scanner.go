package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ssh352/artio/internal/logbuffer"
)

// ScanRecord is one decoded archived message.
type ScanRecord struct {
	Frame    logbuffer.FrameHeader
	Body     []byte
	Position int64 // end-of-frame position within the session
	File     string
}

// ScanFilter restricts a directory scan. Zero values mean "no restriction";
// To == 0 means unbounded.
type ScanFilter struct {
	StreamID  int32
	SessionID int32
	From      int64
	To        int64
}

func (f ScanFilter) matchFile(streamID, sessionID int32) bool {
	if f.StreamID != 0 && streamID != f.StreamID {
		return false
	}
	if f.SessionID != 0 && sessionID != f.SessionID {
		return false
	}
	return true
}

func (f ScanFilter) matchPosition(p int64) bool {
	if p < f.From {
		return false
	}
	if f.To > 0 && p > f.To {
		return false
	}
	return true
}

// Scanner walks archive files decoding frames for the printing and dumping
// tools. Per-record failures go to the failure callback; the scan keeps
// going.
type Scanner struct {
	// TermLength positions decoded frames within their session's log.
	// Zero means infer it from the files themselves: every archive file
	// before a session's last term is exactly one term long.
	TermLength int32
}

// ScanDirectory scans every archive file in dir matching the filter, in
// (sessionID, termID) order, dispatching decoded records to onRecord and
// per-record failures to onError.
func (sc *Scanner) ScanDirectory(
	dir string,
	filter ScanFilter,
	onRecord func(ScanRecord),
	onError func(file string, offset int64, err error),
) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("archive: scan dir: %w", err)
	}

	var files []archiveFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		streamID, sessionID, termID, ok := ParseLogFileName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, archiveFile{
			path:      filepath.Join(dir, e.Name()),
			streamID:  streamID,
			sessionID: sessionID,
			termID:    termID,
			size:      info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].sessionID != files[j].sessionID {
			return files[i].sessionID < files[j].sessionID
		}
		return files[i].termID < files[j].termID
	})

	termLength := sc.TermLength
	if termLength == 0 {
		termLength = inferTermLength(files)
	}

	for _, f := range files {
		if !filter.matchFile(f.streamID, f.sessionID) {
			continue
		}
		if err := sc.scanFile(f.path, termLength, filter, onRecord, onError); err != nil {
			return err
		}
	}
	return nil
}

type archiveFile struct {
	path      string
	streamID  int32
	sessionID int32
	termID    int32
	size      int64
}

// inferTermLength recovers the term length from file sizes. Any file with
// a later term behind it in the same (stream, session) is complete, so its
// size is the term length. With only partial term-0 files every position
// is term-relative and the value does not matter; the transport default is
// returned then.
func inferTermLength(files []archiveFile) int32 {
	type key struct{ stream, session int32 }
	maxTerm := map[key]int32{}
	for _, f := range files {
		k := key{f.streamID, f.sessionID}
		if f.termID > maxTerm[k] {
			maxTerm[k] = f.termID
		}
	}
	for _, f := range files {
		if f.termID < maxTerm[key{f.streamID, f.sessionID}] {
			return int32(f.size)
		}
	}
	return logbuffer.DefaultTermLength
}

func (sc *Scanner) scanFile(
	path string,
	termLength int32,
	filter ScanFilter,
	onRecord func(ScanRecord),
	onError func(file string, offset int64, err error),
) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer f.Close()

	var offset int64
	for {
		var hdr [logbuffer.HeaderLength]byte
		if n, _ := f.ReadAt(hdr[:], offset); n < logbuffer.HeaderLength {
			return nil
		}
		fh := logbuffer.ParseFrameHeader(hdr[:])
		if fh.FrameLength < logbuffer.HeaderLength {
			return nil
		}
		advance := int64(logbuffer.AlignInt32(fh.FrameLength))
		if fh.FrameType == logbuffer.FrameTypePadding {
			offset += advance
			continue
		}

		body := make([]byte, int(fh.FrameLength)-logbuffer.HeaderLength)
		if n, _ := f.ReadAt(body, offset+logbuffer.HeaderLength); n < len(body) {
			onError(path, offset, fmt.Errorf("archive: torn frame at %d", offset))
			return nil
		}
		position := fh.EndPosition(termLength)
		if logbuffer.Checksum(body) != fh.Checksum {
			onError(path, offset, fmt.Errorf("%w: offset %d", ErrCorruptFrame, offset))
			offset += advance
			continue
		}
		if filter.matchPosition(position) {
			onRecord(ScanRecord{Frame: fh, Body: body, Position: position, File: path})
		}
		offset += advance
	}
}
