package logbuffer

import (
	"encoding/binary"

	"github.com/cespare/xxhash"
)

// Frame layout (little-endian), 32 bytes:
//
//	 0: frameLength   uint32  header + body, unaligned
//	 4: version       uint8
//	 5: flags         uint8
//	 6: frameType     uint16
//	 8: termOffset    uint32
//	12: sessionID     int32
//	16: streamID      int32
//	20: termID        int32
//	24: checksum      uint64  xxhash of the body, 0 for padding
const (
	// HeaderLength is the fixed frame header size in bytes.
	HeaderLength = 32

	// FrameAlignment is the boundary every frame starts on.
	FrameAlignment = 32

	frameLengthOffset = 0
	versionOffset     = 4
	flagsOffset       = 5
	frameTypeOffset   = 6
	termOffsetOffset  = 8
	sessionIDOffset   = 12
	streamIDOffset    = 16
	termIDOffset      = 20
	checksumOffset    = 24
)

// Frame types.
const (
	FrameTypePadding uint16 = 0x00
	FrameTypeMessage uint16 = 0x01
)

// CurrentVersion is the frame header version written by this transport.
const CurrentVersion uint8 = 1

// Align rounds a position up to the next frame alignment boundary.
func Align(position int64) int64 {
	return (position + FrameAlignment - 1) &^ (FrameAlignment - 1)
}

// AlignInt32 rounds a length up to the next frame alignment boundary.
func AlignInt32(length int32) int32 {
	return (length + FrameAlignment - 1) &^ (FrameAlignment - 1)
}

// Checksum computes the frame body checksum.
func Checksum(body []byte) uint64 {
	return xxhash.Sum64(body)
}

// FrameHeader is the decoded fixed header of one frame.
type FrameHeader struct {
	FrameLength int32
	Version     uint8
	Flags       uint8
	FrameType   uint16
	TermOffset  int32
	SessionID   int32
	StreamID    int32
	TermID      int32
	Checksum    uint64
}

// ParseFrameHeader decodes a frame header from b, which must hold at least
// HeaderLength bytes.
func ParseFrameHeader(b []byte) FrameHeader {
	return FrameHeader{
		FrameLength: int32(binary.LittleEndian.Uint32(b[frameLengthOffset:])),
		Version:     b[versionOffset],
		Flags:       b[flagsOffset],
		FrameType:   binary.LittleEndian.Uint16(b[frameTypeOffset:]),
		TermOffset:  int32(binary.LittleEndian.Uint32(b[termOffsetOffset:])),
		SessionID:   int32(binary.LittleEndian.Uint32(b[sessionIDOffset:])),
		StreamID:    int32(binary.LittleEndian.Uint32(b[streamIDOffset:])),
		TermID:      int32(binary.LittleEndian.Uint32(b[termIDOffset:])),
		Checksum:    binary.LittleEndian.Uint64(b[checksumOffset:]),
	}
}

// WriteFrameHeader encodes h into b, which must hold at least HeaderLength
// bytes.
func WriteFrameHeader(b []byte, h FrameHeader) {
	binary.LittleEndian.PutUint32(b[frameLengthOffset:], uint32(h.FrameLength))
	b[versionOffset] = h.Version
	b[flagsOffset] = h.Flags
	binary.LittleEndian.PutUint16(b[frameTypeOffset:], h.FrameType)
	binary.LittleEndian.PutUint32(b[termOffsetOffset:], uint32(h.TermOffset))
	binary.LittleEndian.PutUint32(b[sessionIDOffset:], uint32(h.SessionID))
	binary.LittleEndian.PutUint32(b[streamIDOffset:], uint32(h.StreamID))
	binary.LittleEndian.PutUint32(b[termIDOffset:], uint32(h.TermID))
	binary.LittleEndian.PutUint64(b[checksumOffset:], h.Checksum)
}

// EndPosition returns the end-of-frame position for a frame with this
// header in a log with the given term length. End positions are the unit of
// progress reported to handlers and recorded by indexes.
func (h FrameHeader) EndPosition(termLength int32) int64 {
	return int64(h.TermID)*int64(termLength) + int64(h.TermOffset) + int64(AlignInt32(h.FrameLength))
}

// Header carries per-fragment metadata to poll handlers.
type Header struct {
	frame      FrameHeader
	termLength int32
}

// NewHeader builds a Header for dispatch outside the live transport, such
// as archive replay.
func NewHeader(frame FrameHeader, termLength int32) Header {
	return Header{frame: frame, termLength: termLength}
}

// StreamID identifies the stream the fragment was published on.
func (h Header) StreamID() int32 { return h.frame.StreamID }

// SessionID identifies the publishing connection.
func (h Header) SessionID() int32 { return h.frame.SessionID }

// TermID identifies the segment holding the fragment.
func (h Header) TermID() int32 { return h.frame.TermID }

// FrameLength is the unaligned header+body length.
func (h Header) FrameLength() int32 { return h.frame.FrameLength }

// Position is the end-of-frame position of the fragment within its session.
func (h Header) Position() int64 { return h.frame.EndPosition(h.termLength) }
