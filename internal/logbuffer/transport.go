package logbuffer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// MinTermLength is the smallest accepted term length.
const MinTermLength = 1024

// DefaultTermLength is used when configuration does not override it.
const DefaultTermLength = 1 << 20

var (
	// ErrMessageTooLarge reports a payload that cannot fit in one term.
	ErrMessageTooLarge = errors.New("logbuffer: message exceeds term length")

	// ErrClosed reports an operation on a closed transport.
	ErrClosed = errors.New("logbuffer: transport closed")
)

// Transport owns the file-backed term buffers for every stream and hands out
// publications and subscriptions over them. All parties share one process.
type Transport struct {
	dir        string
	termLength int32

	mu      sync.Mutex
	streams map[int32]*stream
	closed  bool
}

// Open creates (or reuses) a buffer directory. termLength must be a power of
// two and at least MinTermLength.
func Open(dir string, termLength int32) (*Transport, error) {
	if termLength < MinTermLength || termLength&(termLength-1) != 0 {
		return nil, fmt.Errorf("logbuffer: invalid term length %d", termLength)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logbuffer: create buffer dir: %w", err)
	}
	return &Transport{
		dir:        dir,
		termLength: termLength,
		streams:    make(map[int32]*stream),
	}, nil
}

// TermLength returns the configured term length.
func (t *Transport) TermLength() int32 { return t.termLength }

func (t *Transport) stream(streamID int32) *stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[streamID]
	if !ok {
		s = &stream{
			id:         streamID,
			dir:        t.dir,
			termLength: t.termLength,
			byID:       make(map[int32]*image),
		}
		t.streams[streamID] = s
	}
	return s
}

// AddPublication returns a publication appending to (streamID, sessionID).
func (t *Transport) AddPublication(streamID, sessionID int32) (*Publication, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	im := t.stream(streamID).image(sessionID)
	return &Publication{im: im}, nil
}

// AddSubscription returns an independent reader over every session of
// streamID. Each subscription tracks its own per-session read positions.
func (t *Transport) AddSubscription(streamID int32) *Subscription {
	return &Subscription{
		s:          t.stream(streamID),
		termLength: t.termLength,
		readPos:    make(map[int32]int64),
	}
}

// StreamPositions reports the current append position of every session
// publishing on streamID.
func (t *Transport) StreamPositions(streamID int32) map[int32]int64 {
	out := make(map[int32]int64)
	for _, im := range t.stream(streamID).snapshot() {
		out[im.sessionID] = im.appendPos.Load()
	}
	return out
}

// Close closes every open term buffer file.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	streams := make([]*stream, 0, len(t.streams))
	for _, s := range t.streams {
		streams = append(streams, s)
	}
	t.mu.Unlock()

	var errs []error
	for _, s := range streams {
		for _, im := range s.snapshot() {
			if err := im.closeFiles(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// stream groups the session images published on one stream id. Sessions are
// enumerated in the order they first appeared, which fixes the poll order
// subscribers observe.
type stream struct {
	id         int32
	dir        string
	termLength int32

	mu    sync.RWMutex
	order []*image
	byID  map[int32]*image
}

func (s *stream) image(sessionID int32) *image {
	s.mu.Lock()
	defer s.mu.Unlock()
	im, ok := s.byID[sessionID]
	if !ok {
		im = &image{
			streamID:   s.id,
			sessionID:  sessionID,
			termLength: s.termLength,
			dir:        s.dir,
			files:      make(map[int32]*os.File),
		}
		s.byID[sessionID] = im
		s.order = append(s.order, im)
	}
	return im
}

func (s *stream) snapshot() []*image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*image, len(s.order))
	copy(out, s.order)
	return out
}

// image is the term-buffer state of one (streamID, sessionID) pair.
type image struct {
	streamID   int32
	sessionID  int32
	termLength int32
	dir        string

	// appendPos is the next frame-start position; written by the single
	// publisher, read by any subscriber.
	appendPos atomic.Int64

	mu    sync.Mutex
	files map[int32]*os.File
}

// TermFileName returns the deterministic buffer file name for a term.
func TermFileName(streamID, sessionID, termID int32) string {
	return fmt.Sprintf("term-%d-%d-%d.buf", streamID, sessionID, termID)
}

func (im *image) termFile(termID int32) (*os.File, error) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if f, ok := im.files[termID]; ok {
		return f, nil
	}
	name := filepath.Join(im.dir, TermFileName(im.streamID, im.sessionID, termID))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logbuffer: open term buffer: %w", err)
	}
	im.files[termID] = f
	return f, nil
}

func (im *image) closeFiles() error {
	im.mu.Lock()
	defer im.mu.Unlock()
	var errs []error
	for id, f := range im.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(im.files, id)
	}
	return errors.Join(errs...)
}

// readFrame reads the frame whose header starts at position. It returns a
// zero-length header when no complete frame is available there.
func (im *image) readFrame(position int64) (FrameHeader, []byte, error) {
	termID := int32(position / int64(im.termLength))
	offset := position % int64(im.termLength)

	f, err := im.termFile(termID)
	if err != nil {
		return FrameHeader{}, nil, err
	}
	var hdr [HeaderLength]byte
	if n, err := f.ReadAt(hdr[:], offset); n < HeaderLength {
		if err != nil && n == 0 {
			return FrameHeader{}, nil, nil
		}
		return FrameHeader{}, nil, nil
	}
	fh := ParseFrameHeader(hdr[:])
	if fh.FrameLength < HeaderLength {
		return FrameHeader{}, nil, nil
	}
	if fh.FrameType == FrameTypePadding {
		return fh, nil, nil
	}
	bodyLen := int(fh.FrameLength) - HeaderLength
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if n, err := f.ReadAt(body, offset+HeaderLength); n < bodyLen {
			if err != nil {
				return FrameHeader{}, nil, nil
			}
			return FrameHeader{}, nil, nil
		}
	}
	return fh, body, nil
}
