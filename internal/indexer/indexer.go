package indexer

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/ssh352/artio/internal/agent"
	"github.com/ssh352/artio/internal/archive"
	"github.com/ssh352/artio/internal/logbuffer"
	logpkg "github.com/ssh352/artio/pkg/log"
)

// DefaultFragmentLimit bounds one live poll.
const DefaultFragmentLimit = 20

// Indexer incrementally builds indexes by polling a subscription.
type Indexer struct {
	indices       []Index
	reader        *archive.ArchiveReader
	sub           *logbuffer.Subscription
	completion    *CompletionPosition
	fragmentLimit int
	namePrefix    string
	logger        logpkg.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewIndexer builds an Indexer and runs catch-up replay to completion
// before returning, so live and replayed data are never interleaved out of
// order for a session. A catch-up failure (e.g. archive corruption) is
// returned rather than leaving an index partially behind.
func NewIndexer(
	indices []Index,
	reader *archive.ArchiveReader,
	sub *logbuffer.Subscription,
	namePrefix string,
	completion *CompletionPosition,
	logger logpkg.Logger,
) (*Indexer, error) {
	ix := &Indexer{
		indices:       indices,
		reader:        reader,
		sub:           sub,
		completion:    completion,
		fragmentLimit: DefaultFragmentLimit,
		namePrefix:    namePrefix,
		logger:        logger.WithComponent("indexer"),
	}
	if err := ix.catchIndexUp(); err != nil {
		return nil, err
	}
	return ix, nil
}

func (ix *Indexer) catchIndexUp() error {
	for _, index := range ix.indices {
		index := index
		var replayErr error
		err := index.ReadLastPosition(func(sessionID int32, lastPosition int64) {
			if replayErr != nil {
				return
			}
			sessionReader, err := ix.reader.Session(sessionID)
			if err != nil {
				replayErr = err
				return
			}
			if sessionReader == nil {
				// Session never archived: nothing to catch up.
				return
			}
			for {
				nextMessagePosition := logbuffer.Align(lastPosition) + logbuffer.HeaderLength
				lastPosition, err = sessionReader.Read(nextMessagePosition,
					func(buffer []byte, offset, length int, header logbuffer.Header) {
						index.IndexRecord(buffer, offset, length,
							header.StreamID(), header.SessionID(), header.Position())
					})
				if err != nil {
					replayErr = err
					return
				}
				if lastPosition <= 0 {
					return
				}
			}
		})
		if err != nil {
			return fmt.Errorf("indexer: read last positions: %w", err)
		}
		if replayErr != nil {
			return fmt.Errorf("indexer: catch-up replay: %w", replayErr)
		}
	}
	return nil
}

// DoWork performs one bounded live poll, then drives each index's own
// background work.
func (ix *Indexer) DoWork() (int, error) {
	count := ix.sub.ControlledPoll(ix.onFragment, ix.fragmentLimit)
	for _, index := range ix.indices {
		n, err := index.DoWork()
		count += n
		if err != nil {
			return count, err
		}
	}
	return count, nil
}

func (ix *Indexer) onFragment(buffer []byte, offset, length int, header logbuffer.Header) logbuffer.Action {
	ix.logger.Debug("indexing",
		logpkg.Int64("position", header.Position()),
		logpkg.Int32("stream_id", header.StreamID()),
		logpkg.Int32("session_id", header.SessionID()))
	for _, index := range ix.indices {
		index.IndexRecord(buffer, offset, length,
			header.StreamID(), header.SessionID(), header.Position())
	}
	fragmentsIndexed.Inc()
	return logbuffer.ActionContinue
}

// RoleName identifies the agent.
func (ix *Indexer) RoleName() string { return ix.namePrefix + "Indexer" }

// OnClose quiesces, then closes every index, the archive reader, and the
// subscription, aggregating failures.
func (ix *Indexer) OnClose() error {
	ix.closeOnce.Do(func() {
		ix.quiesce()

		fns := make([]func() error, 0, len(ix.indices)+2)
		for _, index := range ix.indices {
			fns = append(fns, index.Close)
		}
		fns = append(fns, ix.reader.Close, ix.sub.Close)
		ix.closeErr = agent.CloseAll(fns...)
	})
	return ix.closeErr
}

func (ix *Indexer) quiesce() {
	for !ix.completion.HasCompleted() {
		runtime.Gosched()
	}

	if ix.completion.WasStartupComplete() {
		return
	}

	// Any remaining data to quiesce at this point must still be in the
	// subscription.
	ix.sub.ControlledPoll(ix.quiesceFragment, 0)
}

func (ix *Indexer) quiesceFragment(buffer []byte, offset, length int, header logbuffer.Header) logbuffer.Action {
	// A fragment at or below the completed watermark was already durably
	// indexed before shutdown began; only strictly newer data is
	// re-dispatched.
	if header.Position() > ix.completion.CompletedPosition(header.SessionID()) {
		quiesceDispatches.Inc()
		return ix.onFragment(buffer, offset, length, header)
	}
	return logbuffer.ActionContinue
}
