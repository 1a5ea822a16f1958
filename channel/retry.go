package channel

import "time"

// DefaultRetrySchedule is the default fixed backoff schedule: 8 attempts
// at roughly geometric intervals, as suggested by spec.md §3.
var DefaultRetrySchedule = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	1 * time.Hour,
	2 * time.Hour,
}

// throttleCeiling bounds how long a server-dictated Retry-After may push
// the next attempt out to, regardless of what the header says.
const throttleCeiling = 24 * time.Hour

// retryPolicy hands out delays from a fixed schedule, in order, until
// exhausted. reset() rewinds it to the start; this happens after every
// Success outcome (spec.md §8, invariant 3).
type retryPolicy struct {
	schedule []time.Duration
	index    int
}

func newRetryPolicy(schedule []time.Duration) *retryPolicy {
	return &retryPolicy{schedule: schedule}
}

// nextDelay returns the next scheduled delay and true, or false once the
// schedule is exhausted. An empty schedule disables retries entirely: the
// very first call reports exhaustion.
func (r *retryPolicy) nextDelay() (time.Duration, bool) {
	if r.index >= len(r.schedule) {
		return 0, false
	}
	d := r.schedule[r.index]
	r.index++
	return d, true
}

// reset rewinds the schedule to its first delay.
func (r *retryPolicy) reset() {
	r.index = 0
}

// consume records that a retry attempt was made without drawing from the
// schedule — used for Throttled outcomes, which are timed by the server's
// Retry-After rather than the fixed schedule but still count against the
// attempt budget (spec.md §9, open question resolved in favor of bounding
// worst-case latency).
func (r *retryPolicy) consume() bool {
	if r.index >= len(r.schedule) {
		return false
	}
	r.index++
	return true
}

// clampThrottle bounds a server-specified retry time to throttleCeiling
// from now, so a misbehaving or malicious Retry-After header cannot park a
// batch indefinitely.
func clampThrottle(now, until time.Time) time.Time {
	ceiling := now.Add(throttleCeiling)
	if until.After(ceiling) {
		return ceiling
	}
	return until
}
