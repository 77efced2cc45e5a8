package logbuffer

import (
	"math"
	"os"
	"sync/atomic"
)

// Action controls how a controlled poll proceeds after a fragment.
type Action int

const (
	// ActionContinue consumes the fragment and keeps polling.
	ActionContinue Action = iota
	// ActionAbort stops the poll without consuming the fragment; the next
	// poll re-delivers it.
	ActionAbort
	// ActionAbortSession stops reading the current session without
	// consuming the fragment; the poll moves on to the next session and
	// the next poll re-delivers it.
	ActionAbortSession
)

// FragmentHandler receives one framed message.
type FragmentHandler func(buffer []byte, offset, length int, header Header)

// ControlledFragmentHandler receives one framed message and decides whether
// the poll continues.
type ControlledFragmentHandler func(buffer []byte, offset, length int, header Header) Action

// BlockHandler receives one contiguous raw byte range of a term buffer file
// for direct file-to-file transfer.
type BlockHandler interface {
	OnBlock(file *os.File, offset int64, length int32, sessionID, termID int32) error
}

// Subscription reads every session published on one stream. Read positions
// are subscription-local: independent subscriptions over the same stream do
// not affect each other. A subscription must be polled from one goroutine.
type Subscription struct {
	s          *stream
	termLength int32
	readPos    map[int32]int64
	closed     atomic.Bool
}

// StreamID identifies the subscribed stream.
func (sub *Subscription) StreamID() int32 { return sub.s.id }

// Poll dispatches up to limit fragments across the stream's sessions.
func (sub *Subscription) Poll(handler FragmentHandler, limit int) int {
	return sub.ControlledPoll(func(buffer []byte, offset, length int, header Header) Action {
		handler(buffer, offset, length, header)
		return ActionContinue
	}, limit)
}

// ControlledPoll dispatches fragments until limit is reached, the stream is
// drained, or the handler aborts. limit <= 0 means unbounded. Sessions are
// visited in first-appearance order; within a session fragments are
// delivered in position order.
func (sub *Subscription) ControlledPoll(handler ControlledFragmentHandler, limit int) int {
	if sub.closed.Load() {
		return 0
	}
	if limit <= 0 {
		limit = math.MaxInt
	}
	count := 0
	for _, im := range sub.s.snapshot() {
		pos := sub.readPos[im.sessionID]
		head := im.appendPos.Load()
		aborted := false
		for count < limit && pos < head {
			fh, body, err := im.readFrame(pos)
			if err != nil || fh.FrameLength < HeaderLength {
				break
			}
			advance := int64(AlignInt32(fh.FrameLength))
			if fh.FrameType == FrameTypePadding {
				pos += advance
				continue
			}
			header := Header{frame: fh, termLength: sub.termLength}
			action := handler(body, 0, len(body), header)
			if action != ActionContinue {
				aborted = action == ActionAbort
				break
			}
			pos += advance
			count++
		}
		sub.readPos[im.sessionID] = pos
		if aborted {
			break
		}
	}
	return count
}

// BlockPoll drains up to maxBytes of raw, contiguous bytes across the
// stream's sessions, never crossing a term boundary within one block. The
// handler sees the backing term file directly. A handler error stops the
// poll without advancing past the failed block.
func (sub *Subscription) BlockPoll(handler BlockHandler, maxBytes int32) (int, error) {
	if sub.closed.Load() {
		return 0, nil
	}
	budget := maxBytes
	total := 0
	for _, im := range sub.s.snapshot() {
		if budget <= 0 {
			break
		}
		pos := sub.readPos[im.sessionID]
		head := im.appendPos.Load()
		if pos >= head {
			continue
		}
		termID := int32(pos / int64(im.termLength))
		offset := pos % int64(im.termLength)
		termEnd := (int64(termID) + 1) * int64(im.termLength)

		limit := head
		if termEnd < limit {
			limit = termEnd
		}
		length := int32(limit - pos)
		if length > budget {
			length = budget
		}
		if length <= 0 {
			continue
		}

		f, err := im.termFile(termID)
		if err != nil {
			return total, err
		}
		if err := handler.OnBlock(f, offset, length, im.sessionID, termID); err != nil {
			return total, err
		}
		sub.readPos[im.sessionID] = pos + int64(length)
		budget -= length
		total += int(length)
	}
	return total, nil
}

// Positions returns a copy of the per-session read positions reached so far.
func (sub *Subscription) Positions() map[int32]int64 {
	out := make(map[int32]int64, len(sub.readPos))
	for id, pos := range sub.readPos {
		out[id] = pos
	}
	return out
}

// Close detaches the subscription; subsequent polls return 0. Term buffer
// files stay owned by the transport.
func (sub *Subscription) Close() error {
	sub.closed.Store(true)
	return nil
}
