package archive

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirectoryDescriptor resolves deterministic archive file locations under
// one log file directory.
type DirectoryDescriptor struct {
	dir string
}

// NewDirectoryDescriptor ensures the log file directory exists.
func NewDirectoryDescriptor(dir string) (*DirectoryDescriptor, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create log file dir: %w", err)
	}
	return &DirectoryDescriptor{dir: dir}, nil
}

// Dir returns the log file directory.
func (d *DirectoryDescriptor) Dir() string { return d.dir }

// LogFile returns the path of the archive file for one term of a session.
func (d *DirectoryDescriptor) LogFile(streamID, sessionID, termID int32) string {
	return filepath.Join(d.dir, LogFileName(streamID, sessionID, termID))
}

// LogFileName returns the deterministic archive file name for one term.
func LogFileName(streamID, sessionID, termID int32) string {
	return fmt.Sprintf("archive-%d-%d-%d.log", streamID, sessionID, termID)
}

// ParseLogFileName extracts the identifiers from an archive file name.
func ParseLogFileName(name string) (streamID, sessionID, termID int32, ok bool) {
	var s, sess, term int32
	n, err := fmt.Sscanf(name, "archive-%d-%d-%d.log", &s, &sess, &term)
	if err != nil || n != 3 {
		return 0, 0, 0, false
	}
	return s, sess, term, true
}
