package logbuffer

import (
	"fmt"
	"sync"
)

// Publication appends framed messages to one (streamID, sessionID) log.
// A publication has a single writer; Offer is not safe for concurrent use
// from multiple goroutines.
type Publication struct {
	im *image
	mu sync.Mutex
}

// StreamID identifies the stream this publication appends to.
func (p *Publication) StreamID() int32 { return p.im.streamID }

// SessionID identifies the session this publication appends to.
func (p *Publication) SessionID() int32 { return p.im.sessionID }

// Position returns the position the next offered message will start at.
func (p *Publication) Position() int64 { return p.im.appendPos.Load() }

// Offer frames payload and appends it, rolling to the next term with a
// padding frame when the current term cannot fit it. It returns the
// end-of-frame position of the appended message.
func (p *Publication) Offer(payload []byte) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameLength := int32(HeaderLength + len(payload))
	aligned := AlignInt32(frameLength)
	if aligned > p.im.termLength {
		return 0, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, aligned, p.im.termLength)
	}

	pos := p.im.appendPos.Load()
	termID := int32(pos / int64(p.im.termLength))
	termOffset := int32(pos % int64(p.im.termLength))
	remaining := p.im.termLength - termOffset

	if aligned > remaining {
		if err := p.pad(termID, termOffset, remaining); err != nil {
			return 0, err
		}
		pos += int64(remaining)
		p.im.appendPos.Store(pos)
		termID++
		termOffset = 0
	}

	buf := make([]byte, aligned)
	WriteFrameHeader(buf, FrameHeader{
		FrameLength: frameLength,
		Version:     CurrentVersion,
		FrameType:   FrameTypeMessage,
		TermOffset:  termOffset,
		SessionID:   p.im.sessionID,
		StreamID:    p.im.streamID,
		TermID:      termID,
		Checksum:    Checksum(payload),
	})
	copy(buf[HeaderLength:], payload)

	f, err := p.im.termFile(termID)
	if err != nil {
		return 0, err
	}
	if _, err := f.WriteAt(buf, int64(termOffset)); err != nil {
		return 0, fmt.Errorf("logbuffer: append frame: %w", err)
	}

	end := pos + int64(aligned)
	p.im.appendPos.Store(end)
	return end, nil
}

// pad writes a padding frame covering the tail of the current term. The
// padding is written fully zeroed past the header so block transfers carry
// deterministic bytes.
func (p *Publication) pad(termID, termOffset, remaining int32) error {
	buf := make([]byte, remaining)
	WriteFrameHeader(buf, FrameHeader{
		FrameLength: remaining,
		Version:     CurrentVersion,
		FrameType:   FrameTypePadding,
		TermOffset:  termOffset,
		SessionID:   p.im.sessionID,
		StreamID:    p.im.streamID,
		TermID:      termID,
	})
	f, err := p.im.termFile(termID)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(buf, int64(termOffset)); err != nil {
		return fmt.Errorf("logbuffer: write padding: %w", err)
	}
	return nil
}

// Close detaches the publication. Term buffer files stay owned by the
// transport.
func (p *Publication) Close() error { return nil }
