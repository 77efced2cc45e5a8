package replication

import (
	"sync"

	"github.com/ssh352/artio/internal/agent"
	"github.com/ssh352/artio/internal/logbuffer"
	logpkg "github.com/ssh352/artio/pkg/log"
)

const (
	// DefaultControlBatchLimit bounds acknowledgement decoding per DoWork.
	DefaultControlBatchLimit = 10
	// DefaultReleaseLimit bounds data fragments released per DoWork.
	DefaultReleaseLimit = 40
)

// Coordinator tracks follower acknowledgements and releases data-plane
// fragments once their term is committed. It owns its AckTable; all
// methods must be driven from the single scheduler thread.
type Coordinator struct {
	table            *AckTable
	strategy         AckStrategy
	dataSub          *logbuffer.Subscription
	controlSub       *logbuffer.Subscription
	controlPub       *logbuffer.Publication
	handler          logbuffer.FragmentHandler
	acknowledgedTerm int64
	controlLimit     int
	releaseLimit     int
	logger           logpkg.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewCoordinator wires a Coordinator over its control and data planes.
// handler receives fragments once their term is committed.
func NewCoordinator(
	followers []int32,
	strategy AckStrategy,
	dataSub *logbuffer.Subscription,
	controlSub *logbuffer.Subscription,
	controlPub *logbuffer.Publication,
	handler logbuffer.FragmentHandler,
	logger logpkg.Logger,
) *Coordinator {
	return &Coordinator{
		table:        NewAckTable(followers),
		strategy:     strategy,
		dataSub:      dataSub,
		controlSub:   controlSub,
		controlPub:   controlPub,
		handler:      handler,
		controlLimit: DefaultControlBatchLimit,
		releaseLimit: DefaultReleaseLimit,
		logger:       logger.WithComponent("coordinator"),
	}
}

// AcknowledgedTerm is the highest term the strategy has certified as
// committed. It never regresses.
func (c *Coordinator) AcknowledgedTerm() int64 { return c.acknowledgedTerm }

// DoWork drains a batch of control messages, then releases committed
// data fragments.
func (c *Coordinator) DoWork() (int, error) {
	count := c.controlSub.ControlledPoll(c.onControl, c.controlLimit)
	count += c.releaseData()
	return count, nil
}

func (c *Coordinator) onControl(buffer []byte, offset, length int, header logbuffer.Header) logbuffer.Action {
	payload := buffer[offset : offset+length]
	lit, ok := ControlLit(payload)
	if !ok {
		badControlMessages.Inc()
		c.logger.Error("undecodable control record",
			logpkg.Int32("session_id", header.SessionID()),
			logpkg.Int64("position", header.Position()))
		return logbuffer.ActionContinue
	}
	switch lit {
	case litAck:
		ack, err := DecodeAck(payload)
		if err != nil {
			badControlMessages.Inc()
			c.logger.Error("bad acknowledgement record", logpkg.Err(err))
			return logbuffer.ActionContinue
		}
		c.OnAcknowledgement(ack)
	case litCommit:
		term, err := DecodeCommit(payload)
		if err != nil {
			badControlMessages.Inc()
			c.logger.Error("bad commit record", logpkg.Err(err))
			return logbuffer.ActionContinue
		}
		// Commit announcements from a peer coordinator move the local
		// watermark forward, never back.
		if term > c.acknowledgedTerm {
			c.advanceTo(term, false)
		}
	default:
		badControlMessages.Inc()
		c.logger.Error("unknown control record type",
			logpkg.Str("lit", string(lit)))
	}
	return logbuffer.ActionContinue
}

// OnAcknowledgement applies one follower acknowledgement. Acks from
// followers outside the configured set indicate misconfiguration; they
// are reported and never counted toward commit.
func (c *Coordinator) OnAcknowledgement(ack Ack) {
	prev := c.table.AckedTerm(ack.Follower)
	if prev == NoSession {
		unknownFollowerAcks.Inc()
		c.logger.Error("acknowledgement from unknown follower",
			logpkg.Int32("follower", ack.Follower),
			logpkg.Int64("term", ack.Term))
		return
	}
	if !c.table.Advance(ack.Follower, ack.Term) {
		// Stale or duplicate ack.
		return
	}
	acksApplied.Inc()
	newTerm := c.strategy.FindAckedTerm(c.table)
	if newTerm > c.acknowledgedTerm {
		c.advanceTo(newTerm, true)
	}
}

func (c *Coordinator) advanceTo(term int64, broadcast bool) {
	c.acknowledgedTerm = term
	acknowledgedTermGauge.Set(float64(term))
	c.logger.Info("commit watermark advanced", logpkg.Int64("term", term))
	if !broadcast || c.controlPub == nil {
		return
	}
	if _, err := c.controlPub.Offer(EncodeCommit(term)); err != nil {
		c.logger.Error("commit broadcast failed", logpkg.Err(err))
		return
	}
	commitBroadcasts.Inc()
}

// releaseData delivers buffered data fragments up to the committed term.
// A fragment beyond it stays buffered for a later DoWork and only blocks
// its own session; other sessions keep draining their committed data.
func (c *Coordinator) releaseData() int {
	if c.dataSub == nil {
		return 0
	}
	return c.dataSub.ControlledPoll(func(buffer []byte, offset, length int, header logbuffer.Header) logbuffer.Action {
		if int64(header.TermID()) > c.acknowledgedTerm {
			return logbuffer.ActionAbortSession
		}
		releasedFragments.Inc()
		c.handler(buffer, offset, length, header)
		return logbuffer.ActionContinue
	}, c.releaseLimit)
}

// RoleName identifies the agent.
func (c *Coordinator) RoleName() string { return "coordinator" }

// OnClose closes both planes exactly once.
func (c *Coordinator) OnClose() error {
	c.closeOnce.Do(func() {
		closers := make([]func() error, 0, 3)
		if c.dataSub != nil {
			closers = append(closers, c.dataSub.Close)
		}
		closers = append(closers, c.controlSub.Close)
		if c.controlPub != nil {
			closers = append(closers, c.controlPub.Close)
		}
		c.closeErr = agent.CloseAll(closers...)
	})
	return c.closeErr
}

var _ agent.Agent = (*Coordinator)(nil)
