package archive

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ssh352/artio/internal/logbuffer"
)

// ErrCorruptFrame reports an archived frame whose checksum does not match
// its body.
var ErrCorruptFrame = errors.New("archive: corrupt frame")

// ArchiveReader resolves per-session readers over the persisted archive.
type ArchiveReader struct {
	meta     *MetaData
	dirs     *DirectoryDescriptor
	sessions map[int32]*SessionReader
}

// NewArchiveReader builds a reader over the given metadata store and log
// file directory.
func NewArchiveReader(meta *MetaData, dirs *DirectoryDescriptor) *ArchiveReader {
	return &ArchiveReader{
		meta:     meta,
		dirs:     dirs,
		sessions: make(map[int32]*SessionReader),
	}
}

// Session returns a reader over one session's archived log, or nil when the
// session was never archived.
func (r *ArchiveReader) Session(sessionID int32) (*SessionReader, error) {
	if sr, ok := r.sessions[sessionID]; ok {
		return sr, nil
	}
	md, ok, err := r.meta.Read(sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	sr := &SessionReader{
		md:    md,
		dirs:  r.dirs,
		files: make(map[int32]*os.File),
	}
	r.sessions[sessionID] = sr
	return sr, nil
}

// Close closes every resolved session reader, aggregating failures.
func (r *ArchiveReader) Close() error {
	var errs []error
	for _, sr := range r.sessions {
		if err := sr.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.sessions = make(map[int32]*SessionReader)
	return errors.Join(errs...)
}

// SessionReader reads one session's archived frames by position.
type SessionReader struct {
	md    SessionMetaData
	dirs  *DirectoryDescriptor
	files map[int32]*os.File
}

func (s *SessionReader) file(termID int32) (*os.File, error) {
	if f, ok := s.files[termID]; ok {
		return f, nil
	}
	f, err := os.Open(s.dirs.LogFile(s.md.StreamID, s.md.SessionID, termID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("archive: open session %d term %d: %w", s.md.SessionID, termID, err)
	}
	s.files[termID] = f
	return f, nil
}

// Read reads the frame whose body starts at position, dispatches it to the
// handler, and returns the frame's end position. It returns 0 when no
// further complete frame is archived at that position: a torn tail write is
// indistinguishable from end-of-data and is deliberately not dispatched.
// Padding frames advance the position without a dispatch.
func (s *SessionReader) Read(position int64, handler logbuffer.FragmentHandler) (int64, error) {
	frameStart := position - logbuffer.HeaderLength
	if frameStart < 0 {
		frameStart = 0
	}
	termLength := int64(s.md.TermLength)
	termID := int32(frameStart / termLength)
	offset := frameStart % termLength

	// Archive files are per-term and sequential: the in-file offset is the
	// term offset minus the term's first archived byte. Sessions always
	// archive whole terms from offset 0, so they coincide.
	f, err := s.file(termID)
	if err != nil || f == nil {
		return 0, err
	}

	var hdr [logbuffer.HeaderLength]byte
	if n, _ := f.ReadAt(hdr[:], offset); n < logbuffer.HeaderLength {
		return 0, nil
	}
	fh := logbuffer.ParseFrameHeader(hdr[:])
	if fh.FrameLength < logbuffer.HeaderLength {
		return 0, nil
	}
	end := fh.EndPosition(s.md.TermLength)
	if fh.FrameType == logbuffer.FrameTypePadding {
		return end, nil
	}

	body := make([]byte, int(fh.FrameLength)-logbuffer.HeaderLength)
	if n, err := f.ReadAt(body, offset+logbuffer.HeaderLength); n < len(body) {
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("archive: read session %d: %w", s.md.SessionID, err)
		}
		return 0, nil
	}
	if logbuffer.Checksum(body) != fh.Checksum {
		return 0, fmt.Errorf("%w: session %d position %d", ErrCorruptFrame, s.md.SessionID, position)
	}

	replayedFrames.Inc()
	handler(body, 0, len(body), logbuffer.NewHeader(fh, s.md.TermLength))
	return end, nil
}

// Close closes the reader's open term files.
func (s *SessionReader) Close() error {
	var errs []error
	for id, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.files, id)
	}
	return errors.Join(errs...)
}
