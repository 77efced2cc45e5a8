package agent

import (
	"errors"
	"sync"
	"time"

	logpkg "github.com/ssh352/artio/pkg/log"
)

// Agent is a cooperatively scheduled unit of work.
type Agent interface {
	// DoWork performs one bounded, non-blocking slice of work and returns
	// the number of work units processed. Zero is a valid idle result.
	DoWork() (int, error)

	// RoleName identifies the agent in logs.
	RoleName() string

	// OnClose releases the agent's resources. Called at most once.
	OnClose() error
}

// CloseAll attempts every close function and aggregates failures; a failing
// close never prevents the remaining ones from being attempted.
func CloseAll(fns ...func() error) error {
	var errs []error
	for _, fn := range fns {
		if fn == nil {
			continue
		}
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Runner drives a fixed set of agents round-robin on one goroutine.
type Runner struct {
	agents  []Agent
	stopped []bool
	logger  logpkg.Logger
	idle    time.Duration

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

// NewRunner builds a Runner over the given agents. idle is the backoff
// applied when a full rotation produces no work.
func NewRunner(logger logpkg.Logger, idle time.Duration, agents ...Agent) *Runner {
	if idle <= 0 {
		idle = time.Millisecond
	}
	return &Runner{
		agents:  agents,
		stopped: make([]bool, len(agents)),
		logger:  logger.WithComponent("runner"),
		idle:    idle,
		done:    make(chan struct{}),
	}
}

// Start launches the scheduling loop. It returns immediately.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Runner) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		default:
		}

		worked := 0
		for i, a := range r.agents {
			if r.stopped[i] {
				continue
			}
			n, err := a.DoWork()
			if err != nil {
				// Fatal for this agent only; already-durable state is
				// untouched and the remaining agents keep running. Its
				// close runs at Close time: an OnClose that drains must
				// not run on the scheduler goroutine.
				r.logger.Error("agent failed, removing from rotation",
					logpkg.Str("role", a.RoleName()), logpkg.Err(err))
				r.stopped[i] = true
				continue
			}
			worked += n
		}
		if worked == 0 {
			select {
			case <-r.done:
				return
			case <-time.After(r.idle):
			}
		}
	}
}

// Stop halts the scheduling loop without closing the agents. When it
// returns, no agent's DoWork is running or will run again, so the owner
// may read agent state before closing. Safe to call more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

// Close stops the scheduling loop and closes every agent, failed ones
// included, aggregating failures. Safe to call more than once.
func (r *Runner) Close() error {
	r.closeOnce.Do(func() {
		r.Stop()

		fns := make([]func() error, 0, len(r.agents))
		for _, a := range r.agents {
			fns = append(fns, a.OnClose)
		}
		r.closeErr = CloseAll(fns...)
	})
	return r.closeErr
}
