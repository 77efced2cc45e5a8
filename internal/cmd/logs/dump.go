package logtools

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/ssh352/artio/internal/archive"
)

// DumpOptions selects which archive files to hex dump.
type DumpOptions struct {
	LogFileDir string
	StreamID   int32

	// TermLength the archive was written with. Zero infers it from the
	// archive file sizes.
	TermLength int32
}

// Dump writes a frame-by-frame hex dump of every archived term on the
// stream to w. Undecodable frames are reported to errw and skipped.
func Dump(opts DumpOptions, w, errw io.Writer) error {
	if opts.LogFileDir == "" {
		return fmt.Errorf("log file directory is required")
	}
	// Zero TermLength lets the scanner infer it from file sizes.
	sc := &archive.Scanner{TermLength: opts.TermLength}
	return sc.ScanDirectory(opts.LogFileDir,
		archive.ScanFilter{StreamID: opts.StreamID},
		func(r archive.ScanRecord) {
			fmt.Fprintf(w, "%s session=%d term=%d offset=%d length=%d position=%d\n",
				r.File, r.Frame.SessionID, r.Frame.TermID,
				r.Frame.TermOffset, r.Frame.FrameLength, r.Position)
			fmt.Fprint(w, hex.Dump(r.Body))
		},
		func(file string, offset int64, err error) {
			fmt.Fprintf(errw, "skipping frame: %s at %d: %v\n", file, offset, err)
		})
}
