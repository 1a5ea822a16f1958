package channel

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"time"

	"github.com/distribution/ingest/contracts"
)

// outcomeKind tags the variant of an outcome, mirroring the Rust source's
// enum (spec.md §3, "Outcome").
type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeRetry
	outcomeThrottled
	outcomeNoRetry
)

// outcome is the transmitter's classification of a single send attempt.
// remaining is only meaningful for outcomeRetry/outcomeThrottled; until is
// only meaningful for outcomeThrottled.
type outcome struct {
	kind      outcomeKind
	remaining []*contracts.Envelope
	until     time.Time
}

func success() outcome { return outcome{kind: outcomeSuccess} }
func noRetry() outcome { return outcome{kind: outcomeNoRetry} }

func retry(remaining []*contracts.Envelope) outcome {
	if len(remaining) == 0 {
		return noRetry()
	}
	return outcome{kind: outcomeRetry, remaining: remaining}
}

func throttled(until time.Time, remaining []*contracts.Envelope) outcome {
	if len(remaining) == 0 {
		return noRetry()
	}
	return outcome{kind: outcomeThrottled, remaining: remaining, until: until}
}

// backendError is the documented 206/4xx/5xx response body: which items
// were accepted and, for the rest, why.
type backendError struct {
	ItemsAccepted int             `json:"itemsAccepted"`
	ItemsReceived int             `json:"itemsReceived"`
	Errors        []responseError `json:"errors"`
}

type responseError struct {
	Index      int    `json:"index"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

// retryableStatus reports whether an item-level status code, as reported
// in a partial-batch response body, should be retried.
func retryableStatus(code int) bool {
	switch code {
	case 206, 408, 500, 503, 429:
		return true
	default:
		return false
	}
}

// reconcile implements the index-reconciliation algorithm of spec.md §4.2:
// walk errs in ascending index, and for each retryable one, pull the
// envelope out of batch at its original position (adjusted for items
// already removed) into the result, preserving order.
func reconcile(batch []*contracts.Envelope, errs []responseError) []*contracts.Envelope {
	var remaining []*contracts.Envelope
	removed := 0
	for _, e := range errs {
		if !retryableStatus(e.StatusCode) {
			continue
		}
		pos := e.Index - removed
		if pos < 0 || pos >= len(batch) {
			continue
		}
		remaining = append(remaining, batch[pos])
		batch = append(batch[:pos], batch[pos+1:]...)
		removed++
	}
	return remaining
}

// interpretResponse turns an HTTP response (already read into status/body)
// into an Outcome, per the table in spec.md §4.2.
func interpretResponse(batch []*contracts.Envelope, status int, body []byte, retryAfter string, now time.Time) outcome {
	switch status {
	case http.StatusOK:
		return success()

	case http.StatusPartialContent: // 206
		var be backendError
		if err := json.Unmarshal(body, &be); err != nil {
			// Can't parse what the server claims is a partial success;
			// don't loop on it (spec.md §7, "malformed 206 response").
			return success()
		}
		if be.ItemsAccepted == be.ItemsReceived {
			return success()
		}
		return retry(reconcile(batch, be.Errors))

	case http.StatusRequestTimeout, http.StatusTooManyRequests: // 408, 429
		remaining := batch
		if be, ok := tryParse(body); ok {
			remaining = reconcile(batch, be.Errors)
		}
		if until, ok := parseRetryAfter(retryAfter, now); ok {
			return throttled(until, remaining)
		}
		return retry(remaining)

	case http.StatusInternalServerError: // 500
		be, ok := tryParse(body)
		if !ok {
			return retry(batch)
		}
		return retry(reconcile(batch, be.Errors))

	case http.StatusServiceUnavailable: // 503
		return retry(batch)

	default:
		return noRetry()
	}
}

func tryParse(body []byte) (backendError, bool) {
	var be backendError
	if err := json.Unmarshal(body, &be); err != nil {
		return backendError{}, false
	}
	return be, true
}

// parseRetryAfter parses an RFC 2822 Retry-After header value, clamping it
// to throttleCeiling from now. A malformed or absent header falls back to
// schedule-driven retry (spec.md §6).
func parseRetryAfter(header string, now time.Time) (time.Time, bool) {
	if header == "" {
		return time.Time{}, false
	}
	t, err := mail.ParseDate(header)
	if err != nil {
		return time.Time{}, false
	}
	return clampThrottle(now, t), true
}
