package channel

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/distribution/ingest/internal/ctxlog"
)

// supervisor owns the worker goroutine's lifecycle: it spawns runWorker,
// recovers a panic escaping it, and respawns a fresh worker with a fresh
// retry policy unless a shutdown has been requested — in which case it
// exits instead, closing done.
//
// The mutex-guarded swap of cmds (and its paired replaced channel) is the
// only point where the façade's command-sender identity changes; everything
// else about a restart is invisible to callers except for the batch that
// was in flight at the moment of the panic, which is abandoned (spec.md
// §4.5, §9).
//
// Grounded on the restart-on-panic shape of notifications' endpoint
// goroutines (notifications/sinks.go run loop) combined with the
// mutex-guarded pointer swap idiom used throughout registry/registry.go
// for hot-swappable server state.
type supervisor struct {
	mu       sync.Mutex
	cmds     chan command
	replaced chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	q        *queue
	tx       *transmitter
	schedule []time.Duration
	clk      clock
	interval time.Duration
	logger   ctxlog.Logger
}

func newSupervisor(q *queue, tx *transmitter, schedule []time.Duration, clk clock, interval time.Duration, logger ctxlog.Logger) *supervisor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &supervisor{
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		q:        q,
		tx:       tx,
		schedule: schedule,
		clk:      clk,
		interval: interval,
		logger:   logger,
	}
	// Arm the first command channel synchronously so Send/Flush/Close/
	// Terminate never race against run()'s first iteration.
	s.armCmds()
	return s
}

// run is the supervisor's own loop; it is started in its own goroutine by
// NewChannel and returns once the channel is fully shut down.
func (s *supervisor) run() {
	defer close(s.done)

	cmds, _ := s.currentCmds()
	for {
		panicked := s.runOnce(cmds)
		if !panicked {
			return
		}

		select {
		case <-s.shutdown:
			return
		default:
			s.logger.Warn("channel: restarting worker after panic")
		}

		cmds = s.armCmds()
	}
}

// armCmds installs a fresh command channel, waking up any sendCommand
// call that was blocked against the previous (now-abandoned) one.
func (s *supervisor) armCmds() chan command {
	next := make(chan command)
	nextReplaced := make(chan struct{})

	s.mu.Lock()
	prevReplaced := s.replaced
	s.cmds = next
	s.replaced = nextReplaced
	s.mu.Unlock()

	if prevReplaced != nil {
		close(prevReplaced)
	}
	return next
}

// runOnce runs a single worker incarnation to completion, recovering a
// panic so the supervisor can decide whether to restart. It reports
// whether the worker incarnation panicked.
func (s *supervisor) runOnce(cmds chan command) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("channel: worker panicked")
			panicked = true
		}
	}()
	runWorker(s.q, cmds, s.tx, s.schedule, s.clk, s.interval, s.logger)
	return false
}

// currentCmds returns the live command channel and its replaced signal
// under the lock.
func (s *supervisor) currentCmds() (chan command, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmds, s.replaced
}

// tryFlush makes a single non-blocking attempt to deliver a Flush to
// whichever worker is currently live. A dropped flush is logged, not
// raised (spec.md §6, Flush is best-effort).
func (s *supervisor) tryFlush() {
	cmds, _ := s.currentCmds()
	if cmds == nil {
		return
	}
	select {
	case cmds <- command{kind: cmdFlush}:
	default:
		s.logger.Warn("channel: flush dropped, worker busy")
	}
}

// sendCommand reliably delivers a Close or Terminate command, retrying
// against the new command channel if the worker restarts mid-send, and
// giving up only once the supervisor has fully stopped (in which case
// there is nothing left to deliver to).
func (s *supervisor) sendCommand(kind commandKind) {
	for {
		cmds, replaced := s.currentCmds()
		if cmds == nil {
			return
		}
		select {
		case cmds <- command{kind: kind}:
			return
		case <-replaced:
			continue
		case <-s.done:
			return
		}
	}
}

// requestShutdown arms the one-shot shutdown signal, telling the
// supervisor not to respawn the next time a worker incarnation exits or
// panics.
func (s *supervisor) requestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
}
