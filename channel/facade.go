// Package channel implements the async telemetry submission pipeline: an
// in-process queue, a supervised worker that periodically batches and
// POSTs its contents, and the retry/backoff/throttle handling needed to
// make that submission resilient to a flaky or rate-limiting collector.
//
// Construction is cheap and starts the background worker immediately;
// Send never blocks on network I/O. Callers that care about delivery
// ordering or about not leaking the background goroutine should call
// Close (drain, then stop) or Terminate (stop immediately) when done.
package channel

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/distribution/ingest/contracts"
	"github.com/distribution/ingest/internal/ctxlog"
)

// DefaultCycleInterval is how often the worker checks the queue for a new
// batch when nothing else (a Flush, a retry) has already triggered one.
const DefaultCycleInterval = 2 * time.Second

// Options configures a Channel.
type Options struct {
	// Endpoint is the collector URL batches are POSTed to. Required.
	Endpoint string

	// CycleInterval overrides DefaultCycleInterval.
	CycleInterval time.Duration

	// RequestTimeout overrides DefaultRequestTimeout.
	RequestTimeout time.Duration

	// RetrySchedule overrides DefaultRetrySchedule.
	RetrySchedule []time.Duration

	// Logger receives the channel's structured log output. Defaults to
	// logrus's standard logger. Carried from here through the worker via
	// internal/ctxlog rather than as an explicit parameter.
	Logger ctxlog.Logger

	// Observer, if set, is called once per submission attempt with nil on
	// a successful send and a non-nil error otherwise, including a
	// permanently rejected one. Intended for wiring a health.Checker's Update method in
	// without the channel package depending on the health package.
	Observer func(err error)

	// clk is only ever set by tests, to substitute a manualClock for the
	// real one. Unexported: not part of the public API.
	clk clock
}

// ErrNoEndpoint is returned by NewChannel when Options.Endpoint is empty.
var ErrNoEndpoint = errors.New("channel: endpoint is required")

// Channel is the public façade over the queue/worker/supervisor pipeline.
// All of its methods are safe for concurrent use.
//
// Grounded on notifications.NotificationManager / endpoint sink routing
// (notifications/listener.go, notifications/sinks.go): a thin, concurrency-
// safe front door over a background-driven delivery pipeline.
type Channel struct {
	q   *queue
	sup *supervisor

	shutdownOnce sync.Once
}

// NewChannel constructs a Channel and starts its background worker. The
// worker runs until Close or Terminate is called.
func NewChannel(opts Options) (*Channel, error) {
	if opts.Endpoint == "" {
		return nil, ErrNoEndpoint
	}

	interval := opts.CycleInterval
	if interval <= 0 {
		interval = DefaultCycleInterval
	}

	schedule := opts.RetrySchedule
	if schedule == nil {
		schedule = DefaultRetrySchedule
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	clk := opts.clk
	if clk == nil {
		clk = realClock{}
	}

	sm := newSafeMetrics(opts.Endpoint)
	sm.registerExpvar()

	q := newQueue(sm)
	tx := newTransmitter(opts.Endpoint, opts.RequestTimeout, logger, sm)
	tx.observer = opts.Observer
	sup := newSupervisor(q, tx, schedule, clk, interval, logger)

	c := &Channel{q: q, sup: sup}
	go sup.run()
	return c, nil
}

// Send enqueues an envelope for submission. It never blocks and never
// fails: a full queue is unbounded (spec.md §3, "Envelope Queue").
func (c *Channel) Send(e *contracts.Envelope) {
	c.q.push(e)
}

// Flush asks the worker to submit whatever is currently queued right
// away, instead of waiting for the next cycle. It is non-blocking and
// best-effort: if the worker cannot accept the request immediately (it is
// mid-submission), the flush is dropped and logged, not raised as an error
// (spec.md §6). During a retry wait the worker accepts the flush and
// ignores it.
func (c *Channel) Flush() {
	c.sup.tryFlush()
}

// Close asks the worker to stop after draining and submitting whatever is
// currently queued (including one final drain for anything that arrives
// while the last batch is still being retried). It blocks until the
// worker has fully stopped. Close is idempotent: a call after the first
// one returns immediately.
func (c *Channel) Close() {
	c.shutdownOnce.Do(func() {
		c.sup.requestShutdown()
		c.sup.sendCommand(cmdClose)
		<-c.sup.done
	})
}

// Terminate asks the worker to stop immediately, abandoning anything
// queued or in flight. It blocks until the worker has fully stopped.
// Terminate is idempotent: a call after the first shutdown (whether by
// Close or Terminate) returns immediately.
func (c *Channel) Terminate() {
	c.shutdownOnce.Do(func() {
		c.sup.requestShutdown()
		c.sup.sendCommand(cmdTerminate)
		<-c.sup.done
	})
}
