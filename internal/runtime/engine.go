package runtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ssh352/artio/internal/agent"
	"github.com/ssh352/artio/internal/archive"
	cfgpkg "github.com/ssh352/artio/internal/config"
	"github.com/ssh352/artio/internal/indexer"
	"github.com/ssh352/artio/internal/logbuffer"
	"github.com/ssh352/artio/internal/replication"
	pebblestore "github.com/ssh352/artio/internal/storage/pebble"
	logpkg "github.com/ssh352/artio/pkg/log"
)

// Stream ids used by the engine. Inbound carries traffic received from
// counterparties, outbound the traffic sent to them. The replication
// control plane uses its own streams.
const (
	InboundStreamID  int32 = 1
	OutboundStreamID int32 = 2
	ControlStreamID  int32 = 10
	CommitStreamID   int32 = 11
)

// Options for building the Engine.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger

	// Registry receives the engine's metric collectors when non-nil.
	Registry prometheus.Registerer

	// DataHandler receives replicated fragments once committed. Required
	// when the configured follower set is non-empty.
	DataHandler logbuffer.FragmentHandler

	// Indices are driven by the Indexer in addition to the built-in
	// replay index.
	Indices []indexer.Index

	// IdleInterval is the runner backoff when no agent has work.
	IdleInterval time.Duration
}

// Engine wires persistence, indexing, and replication for a single node.
type Engine struct {
	cfg         cfgpkg.Config
	logger      logpkg.Logger
	transport   *logbuffer.Transport
	meta        *archive.MetaData
	dirs        *archive.DirectoryDescriptor
	archiver    *archive.Archiver
	offsetIndex *indexer.OffsetIndex
	indexer     *indexer.Indexer
	indexSub    *logbuffer.Subscription
	completion  *indexer.CompletionPosition
	coordinator *replication.Coordinator
	runner      *agent.Runner

	closeOnce sync.Once
	closeErr  error
}

// Open builds the engine, runs index catch-up, and starts the agent
// runner.
func Open(opts Options) (*Engine, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	fsync, err := cfg.FsyncMode()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}

	e := &Engine{cfg: cfg, logger: logger.WithComponent("engine")}

	if e.transport, err = logbuffer.Open(cfg.BufferPath(), cfg.TermLength); err != nil {
		return nil, err
	}
	if e.meta, err = archive.OpenMetaData(cfg.MetaPath(), fsync); err != nil {
		e.closePartial()
		return nil, err
	}
	if e.dirs, err = archive.NewDirectoryDescriptor(cfg.ArchivePath()); err != nil {
		e.closePartial()
		return nil, err
	}

	archiveSubs := []*logbuffer.Subscription{
		e.transport.AddSubscription(InboundStreamID),
		e.transport.AddSubscription(OutboundStreamID),
	}
	if e.archiver, err = archive.NewArchiver(e.meta, e.dirs, cfg.TermLength,
		cfg.LoggerCacheCapacity, logger, archiveSubs); err != nil {
		e.closePartial()
		return nil, err
	}

	if e.offsetIndex, err = indexer.OpenOffsetIndex(cfg.IndexPath(), fsync,
		cfg.CheckpointInterval); err != nil {
		e.closePartial()
		return nil, err
	}
	indices := append([]indexer.Index{e.offsetIndex}, opts.Indices...)

	e.completion = indexer.NewCompletionPosition()
	e.indexSub = e.transport.AddSubscription(InboundStreamID)
	reader := archive.NewArchiveReader(e.meta, e.dirs)
	if e.indexer, err = indexer.NewIndexer(indices, reader, e.indexSub,
		"engine", e.completion, logger); err != nil {
		e.closePartial()
		return nil, err
	}

	agents := []agent.Agent{e.archiver, e.indexer}
	if len(cfg.Replication.Followers) > 0 {
		if opts.DataHandler == nil {
			e.closePartial()
			return nil, fmt.Errorf("runtime: followers configured without a data handler")
		}
		controlPub, err := e.transport.AddPublication(CommitStreamID, 0)
		if err != nil {
			e.closePartial()
			return nil, err
		}
		e.coordinator = replication.NewCoordinator(
			cfg.Replication.Followers,
			ackStrategy(cfg.Replication),
			e.transport.AddSubscription(InboundStreamID),
			e.transport.AddSubscription(ControlStreamID),
			controlPub,
			opts.DataHandler,
			logger,
		)
		agents = append(agents, e.coordinator)
	}

	if opts.Registry != nil {
		registerMetrics(opts.Registry, e)
	}

	e.runner = agent.NewRunner(logger, opts.IdleInterval, agents...)
	e.runner.Start()
	e.logger.Info("engine started",
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Int32("term_length", cfg.TermLength),
		logpkg.Int("followers", len(cfg.Replication.Followers)))
	return e, nil
}

func ackStrategy(r cfgpkg.Replication) replication.AckStrategy {
	if r.Strategy == cfgpkg.StrategyQuorum {
		return replication.QuorumStrategy{Quorum: r.Quorum}
	}
	return replication.EntireSetStrategy{}
}

func registerMetrics(reg prometheus.Registerer, e *Engine) {
	archive.RegisterMetrics(reg)
	indexer.RegisterMetrics(reg)
	replication.RegisterMetrics(reg)
	reg.MustRegister(
		pebblestore.NewCollector(e.meta.DB(), "archive-meta"),
		pebblestore.NewCollector(e.offsetIndex.DB(), "replay-index"),
	)
}

// closePartial tears down whatever Open managed to build before failing.
func (e *Engine) closePartial() {
	closers := []func() error{}
	if e.indexer != nil {
		// Release the quiesce busy-wait before closing.
		e.completion.Complete(nil, true)
		closers = append(closers, e.indexer.OnClose)
	}
	if e.offsetIndex != nil {
		closers = append(closers, e.offsetIndex.Close)
	}
	if e.archiver != nil {
		closers = append(closers, e.archiver.OnClose)
	}
	if e.meta != nil {
		closers = append(closers, e.meta.Close)
	}
	if e.transport != nil {
		closers = append(closers, e.transport.Close)
	}
	if err := agent.CloseAll(closers...); err != nil {
		e.logger.Warn("partial teardown", logpkg.Err(err))
	}
}

// AddPublication returns a publication for appending to a stream.
func (e *Engine) AddPublication(streamID, sessionID int32) (*logbuffer.Publication, error) {
	return e.transport.AddPublication(streamID, sessionID)
}

// AddSubscription returns an independent reader over a stream.
func (e *Engine) AddSubscription(streamID int32) *logbuffer.Subscription {
	return e.transport.AddSubscription(streamID)
}

// ArchiveReader opens replay access to the durable archive.
func (e *Engine) ArchiveReader() *archive.ArchiveReader {
	return archive.NewArchiveReader(e.meta, e.dirs)
}

// ReplayIndex exposes the built-in per-session replay cursors.
func (e *Engine) ReplayIndex() *indexer.OffsetIndex { return e.offsetIndex }

// Coordinator returns the replication coordinator, nil when no followers
// are configured.
func (e *Engine) Coordinator() *replication.Coordinator { return e.coordinator }

// Config returns the engine configuration.
func (e *Engine) Config() cfgpkg.Config { return e.cfg }

// caughtUp reports whether the index subscription had consumed every
// published inbound byte at the moment shutdown began.
func (e *Engine) caughtUp() bool {
	read := e.indexSub.Positions()
	for sessionID, tail := range e.transport.StreamPositions(InboundStreamID) {
		if read[sessionID] < tail {
			return false
		}
	}
	return true
}

// Close drains and stops the engine. The scheduling loop is stopped
// before the position snapshot is taken, so the snapshot never races the
// agents; the completion watermarks are then published for the indexer's
// quiesce, the agents close, and the transport closes last.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.runner.Stop()
		e.completion.Complete(e.archiver.Positions(), e.caughtUp())
		e.closeErr = agent.CloseAll(
			e.runner.Close,
			e.transport.Close,
		)
		e.logger.Info("engine stopped")
	})
	return e.closeErr
}
