package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ssh352/artio/internal/agent"
	"github.com/ssh352/artio/internal/logbuffer"
	logpkg "github.com/ssh352/artio/pkg/log"
)

// ErrShortTransfer reports a block transfer that moved fewer bytes than
// requested. The append cursor is not advanced past a short transfer.
var ErrShortTransfer = errors.New("archive: short transfer")

const unknownTermID = -1

// Archiver durably mirrors raw log bytes to per-session, per-term files.
// It is a cooperatively scheduled agent; DoWork drains every configured
// subscription block-wise, bounded by one term length per subscription.
type Archiver struct {
	meta          *MetaData
	dirs          *DirectoryDescriptor
	termLength    int32
	subscriptions []*subscriptionArchive
	logger        logpkg.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewArchiver builds an Archiver over the given subscriptions.
// loggerCacheCapacity bounds the number of concurrently open session files
// per subscription.
func NewArchiver(
	meta *MetaData,
	dirs *DirectoryDescriptor,
	termLength int32,
	loggerCacheCapacity int,
	logger logpkg.Logger,
	subscriptions []*logbuffer.Subscription,
) (*Archiver, error) {
	a := &Archiver{
		meta:       meta,
		dirs:       dirs,
		termLength: termLength,
		logger:     logger.WithComponent("archiver"),
	}
	for _, sub := range subscriptions {
		sa, err := newSubscriptionArchive(a, sub, loggerCacheCapacity)
		if err != nil {
			return nil, err
		}
		a.subscriptions = append(a.subscriptions, sa)
	}
	return a, nil
}

// DoWork drains every subscription once. The returned count is the number
// of bytes archived. A transfer failure is fatal for the operation and
// propagates without advancing past the failed block.
func (a *Archiver) DoWork() (int, error) {
	total := 0
	for _, sa := range a.subscriptions {
		n, err := sa.poll()
		total += n
		if err != nil {
			return total, err
		}
	}
	archivedBytes.Add(float64(total))
	return total, nil
}

// RoleName identifies the agent.
func (a *Archiver) RoleName() string { return "Archiver" }

// OnClose closes every subscription, evicts and closes every cached session
// archive, then closes the metadata store. All closes are attempted; the
// failures are aggregated.
func (a *Archiver) OnClose() error {
	a.closeOnce.Do(func() {
		fns := make([]func() error, 0, len(a.subscriptions)+1)
		for _, sa := range a.subscriptions {
			fns = append(fns, sa.close)
		}
		fns = append(fns, a.meta.Close)
		a.closeErr = agent.CloseAll(fns...)
	})
	return a.closeErr
}

// Positions returns the per-session positions archived so far, merged
// across subscriptions. Sessions are process-unique so the merge is safe.
func (a *Archiver) Positions() map[int32]int64 {
	out := make(map[int32]int64)
	for _, sa := range a.subscriptions {
		for id, pos := range sa.sub.Positions() {
			out[id] = pos
		}
	}
	return out
}

// subscriptionArchive drains one subscription, holding per-session archive
// state in a capacity-bounded LRU cache whose eviction closes the open file.
type subscriptionArchive struct {
	a     *Archiver
	sub   *logbuffer.Subscription
	cache *lru.Cache[int32, *sessionArchive]

	mu        sync.Mutex
	evictErrs []error
}

func newSubscriptionArchive(a *Archiver, sub *logbuffer.Subscription, capacity int) (*subscriptionArchive, error) {
	sa := &subscriptionArchive{a: a, sub: sub}
	cache, err := lru.NewWithEvict[int32, *sessionArchive](capacity, func(sessionID int32, arc *sessionArchive) {
		sessionEvictions.Inc()
		if err := arc.Close(); err != nil {
			a.logger.Error("session archive close failed on eviction",
				logpkg.Int32("session_id", sessionID), logpkg.Err(err))
			sa.mu.Lock()
			sa.evictErrs = append(sa.evictErrs, err)
			sa.mu.Unlock()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("archive: session cache: %w", err)
	}
	sa.cache = cache
	return sa, nil
}

func (sa *subscriptionArchive) poll() (int, error) {
	return sa.sub.BlockPoll(sa, sa.a.termLength)
}

// OnBlock archives one contiguous block for a session, lazily creating the
// session archive (and its once-per-session metadata record) on first
// sight.
func (sa *subscriptionArchive) OnBlock(file *os.File, offset int64, length int32, sessionID, termID int32) error {
	arc, ok := sa.cache.Get(sessionID)
	if !ok {
		streamID := sa.sub.StreamID()
		if err := sa.a.meta.Write(streamID, sessionID, termID, sa.a.termLength); err != nil {
			return err
		}
		arc = &sessionArchive{
			streamID:      streamID,
			sessionID:     sessionID,
			dirs:          sa.a.dirs,
			currentTermID: unknownTermID,
		}
		// Add may evict the least recently used session, closing its file
		// before the new one is opened.
		sa.cache.Add(sessionID, arc)
	}
	return arc.archive(file, offset, length, termID)
}

func (sa *subscriptionArchive) close() error {
	err := sa.sub.Close()
	sa.cache.Purge()

	sa.mu.Lock()
	errs := sa.evictErrs
	sa.evictErrs = nil
	sa.mu.Unlock()
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// sessionArchive owns the single open archive file of one session.
type sessionArchive struct {
	streamID      int32
	sessionID     int32
	dirs          *DirectoryDescriptor
	currentTermID int32
	file          *os.File
}

// archive transfers exactly length bytes of the source term buffer into the
// session's current archive file, switching files when the term changes.
func (s *sessionArchive) archive(src *os.File, offset int64, length int32, termID int32) error {
	if termID != s.currentTermID {
		if err := s.Close(); err != nil {
			return err
		}
		name := s.dirs.LogFile(s.streamID, s.sessionID, termID)
		f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("archive: open log file: %w", err)
		}
		s.file = f
		s.currentTermID = termID
	}

	n, err := io.Copy(s.file, io.NewSectionReader(src, offset, int64(length)))
	if err != nil {
		return fmt.Errorf("archive: transfer session %d term %d: %w", s.sessionID, termID, err)
	}
	if n != int64(length) {
		return fmt.Errorf("%w: session %d term %d: %d of %d bytes",
			ErrShortTransfer, s.sessionID, termID, n, length)
	}
	return nil
}

// Close closes the currently open archive file, if any.
func (s *sessionArchive) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("archive: close log file: %w", err)
	}
	return nil
}
