package channel

import (
	"context"
	"time"

	"github.com/distribution/ingest/contracts"
	"github.com/distribution/ingest/internal/ctxlog"
)

// runWorker drives the state machine of spec.md §4.4: Idle/WaitNextCycle,
// Submitting, WaitingRetry, Closing, Terminated. It owns the one and only
// in-flight HTTP request at any time; commands are only observed at the
// suspension points (the cycle timer, a retry/throttle wait, and the
// command-channel receive itself) — never while a send is actually in
// flight, matching spec.md §5's "at most one request in flight, Terminate
// cannot interrupt it" invariant.
//
// logger is attached to the background context once, here, via
// internal/ctxlog; submitCycle and finalDrainAndSubmit pull it back out of
// ctx instead of threading it as its own parameter. transmitter.send is the
// exception: it logs through the transmitter's own logger field.
//
// runWorker returns normally once it has processed a Close or Terminate
// command (or the command channel is closed out from under it). Any other
// panic propagates to the caller, which is always supervisor.run — the
// supervisor, not the worker, decides whether to restart (spec.md §4.5).
//
// Grounded on notifications.(*Sink).run (absent in this form from the
// teacher, which uses a plain worker goroutine per endpoint in
// notifications/sinks.go) generalized with an injectable clock per the
// spec's virtual-clock-hook design note.
func runWorker(q *queue, cmds <-chan command, tx *transmitter, schedule []time.Duration, clk clock, interval time.Duration, logger ctxlog.Logger) {
	ctx := ctxlog.WithLogger(context.Background(), logger)
	rp := newRetryPolicy(schedule)

	deadline := clk.now().Add(interval)
	tm := clk.sleepUntil(deadline)

	// rearm stops the outstanding timer (a no-op if it already fired) and
	// installs a fresh one for the next cycle. Every path that leaves the
	// top-level select without receiving from tm.C() must go through this
	// instead of calling clk.sleepUntil directly, or the abandoned waiter
	// is left registered on a manualClock and a later expire() can release
	// it instead of the timer the worker is actually blocked on.
	rearm := func() {
		tm.Stop()
		deadline = clk.now().Add(interval)
		tm = clk.sleepUntil(deadline)
	}

	for {
		select {
		case <-tm.C():
			batch := q.drainAll()
			if len(batch) == 0 {
				rearm()
				continue
			}
			if done := submitCycle(ctx, q, cmds, tx, rp, clk, batch, false); done {
				tm.Stop()
				return
			}
			rearm()

		case cmd, ok := <-cmds:
			if !ok {
				tm.Stop()
				return
			}
			switch cmd.kind {
			case cmdFlush:
				batch := q.drainAll()
				if len(batch) == 0 {
					continue
				}
				tm.Stop()
				if done := submitCycle(ctx, q, cmds, tx, rp, clk, batch, false); done {
					tm.Stop()
					return
				}
				rearm()

			case cmdClose:
				tm.Stop()
				batch := q.drainAll()
				if len(batch) == 0 {
					return
				}
				submitCycle(ctx, q, cmds, tx, rp, clk, batch, true)
				return

			case cmdTerminate:
				tm.Stop()
				return
			}
		}
	}
}

// submitCycle drives one batch through Submitting/WaitingRetry until it
// reaches a terminal outcome (Success, NoRetry, or schedule exhaustion).
// If closing is true (this batch was pulled in response to a Close
// command, or a Close arrived while this batch was already being
// retried), the Closing continuation runs once the batch resolves: a
// final drain, one best-effort submit with no further retries, then the
// worker terminates. It returns true if the worker should now exit.
func submitCycle(ctx context.Context, q *queue, cmds <-chan command, tx *transmitter, rp *retryPolicy, clk clock, batch []*contracts.Envelope, closing bool) bool {
	logger := ctxlog.FromContext(ctx)
	for {
		o := tx.send(ctx, batch)
		switch o.kind {
		case outcomeSuccess, outcomeNoRetry:
			rp.reset()
			if o.kind == outcomeNoRetry {
				logger.WithField("size", len(batch)).Warn("channel: batch rejected permanently, dropping")
			}
			return finishCycle(ctx, closing, q, tx)

		case outcomeRetry:
			d, ok := rp.nextDelay()
			if !ok {
				logger.WithField("size", len(o.remaining)).Warn("channel: retry schedule exhausted, dropping batch")
				return finishCycle(ctx, closing, q, tx)
			}
			batch = o.remaining
			terminated, closeRequested := waitOrTerminate(cmds, clk, clk.now().Add(d))
			if terminated {
				return true
			}
			closing = closing || closeRequested

		case outcomeThrottled:
			if !rp.consume() {
				logger.WithField("size", len(o.remaining)).Warn("channel: retry schedule exhausted (throttled), dropping batch")
				return finishCycle(ctx, closing, q, tx)
			}
			batch = o.remaining
			terminated, closeRequested := waitOrTerminate(cmds, clk, o.until)
			if terminated {
				return true
			}
			closing = closing || closeRequested
		}
	}
}

// waitOrTerminate waits out a single retry/throttle backoff, listening for
// commands in the meantime. Flush is ignored (a retry wait is already a
// pending submission). Close is recorded but does not cut the wait short —
// the batch being retried is not abandoned (spec.md §4.4, Closing).
// Terminate ends the wait immediately.
func waitOrTerminate(cmds <-chan command, clk clock, deadline time.Time) (terminated, closeRequested bool) {
	tm := clk.sleepUntil(deadline)
	for {
		select {
		case <-tm.C():
			return false, closeRequested
		case cmd, ok := <-cmds:
			if !ok {
				tm.Stop()
				return true, closeRequested
			}
			switch cmd.kind {
			case cmdFlush:
				// ignored: a submission for this batch is already pending
			case cmdClose:
				closeRequested = true
			case cmdTerminate:
				tm.Stop()
				return true, closeRequested
			}
		}
	}
}

// finishCycle runs the Closing continuation when applicable and reports
// whether the worker should now exit.
func finishCycle(ctx context.Context, closing bool, q *queue, tx *transmitter) bool {
	if !closing {
		return false
	}
	finalDrainAndSubmit(ctx, q, tx)
	return true
}

// finalDrainAndSubmit implements the Closing state's last step: one more
// drain of whatever accumulated while the prior batch was in flight or
// retrying, submitted once with no retry, regardless of the outcome
// (spec.md §4.4).
func finalDrainAndSubmit(ctx context.Context, q *queue, tx *transmitter) {
	batch := q.drainAll()
	if len(batch) == 0 {
		return
	}
	o := tx.send(ctx, batch)
	if o.kind != outcomeSuccess {
		ctxlog.FromContext(ctx).WithField("size", len(batch)).Warn("channel: final submission on close did not succeed, dropping (no retry while closing)")
	}
}
