package logtools

import (
	"fmt"
	"io"
	"strings"

	"github.com/ssh352/artio/internal/archive"
	"github.com/ssh352/artio/internal/runtime"
)

// Direction names accepted by PrintOptions.Direction.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// PrintOptions selects which archived messages to print.
type PrintOptions struct {
	LogFileDir string

	// TermLength the archive was written with. Zero infers it from the
	// archive file sizes.
	TermLength int32

	// Direction chooses the outbound ("sent") or inbound ("received")
	// stream. Ignored when StreamID is set explicitly.
	Direction string
	StreamID  int32
	SessionID int32
	From      int64
	To        int64

	// MessageTypes keeps only messages whose FIX tag 35 value is listed
	// (comma separated). Empty keeps everything.
	MessageTypes string

	// Filter is a CEL expression over stream_id, session_id, term_id,
	// position, size, text, msg_type, direction.
	Filter string
}

type printRecord struct {
	StreamID  int32
	SessionID int32
	TermID    int32
	Position  int64
	Body      []byte
	MsgType   string
	Direction string
}

func directionStream(direction string) (int32, error) {
	switch direction {
	case "", DirectionSent:
		return runtime.OutboundStreamID, nil
	case DirectionReceived:
		return runtime.InboundStreamID, nil
	default:
		return 0, fmt.Errorf("unknown direction %q (want sent or received)", direction)
	}
}

func directionName(streamID int32) string {
	if streamID == runtime.InboundStreamID {
		return DirectionReceived
	}
	return DirectionSent
}

// Print scans the archive directory and writes one line per matching
// message to w. Undecodable records are reported to errw; the scan keeps
// going.
func Print(opts PrintOptions, w, errw io.Writer) error {
	if opts.LogFileDir == "" {
		return fmt.Errorf("log file directory is required")
	}
	streamID := opts.StreamID
	if streamID == 0 {
		var err error
		if streamID, err = directionStream(opts.Direction); err != nil {
			return err
		}
	}
	filter, err := newCELFilter(opts.Filter)
	if err != nil {
		return fmt.Errorf("bad filter expression: %w", err)
	}
	wantTypes := map[string]bool{}
	for _, mt := range strings.Split(opts.MessageTypes, ",") {
		if mt = strings.TrimSpace(mt); mt != "" {
			wantTypes[mt] = true
		}
	}

	// Zero TermLength lets the scanner infer it from file sizes.
	sc := &archive.Scanner{TermLength: opts.TermLength}
	return sc.ScanDirectory(opts.LogFileDir,
		archive.ScanFilter{
			StreamID:  streamID,
			SessionID: opts.SessionID,
			From:      opts.From,
			To:        opts.To,
		},
		func(r archive.ScanRecord) {
			rec := printRecord{
				StreamID:  r.Frame.StreamID,
				SessionID: r.Frame.SessionID,
				TermID:    r.Frame.TermID,
				Position:  r.Position,
				Body:      r.Body,
				MsgType:   fixMsgType(r.Body),
				Direction: directionName(r.Frame.StreamID),
			}
			if len(wantTypes) > 0 && !wantTypes[rec.MsgType] {
				return
			}
			if !filter.Eval(rec) {
				return
			}
			fmt.Fprintf(w, "%s session=%d term=%d position=%d %s\n",
				rec.Direction, rec.SessionID, rec.TermID, rec.Position,
				printableBody(rec.Body))
		},
		func(file string, offset int64, err error) {
			fmt.Fprintf(errw, "skipping record: %s at %d: %v\n", file, offset, err)
		})
}

// printableBody renders SOH field separators as pipes.
func printableBody(body []byte) string {
	return strings.ReplaceAll(string(body), "\x01", "|")
}
