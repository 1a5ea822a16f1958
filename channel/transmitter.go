package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/sirupsen/logrus"

	"github.com/distribution/ingest/contracts"
	"github.com/distribution/ingest/internal/ctxlog"
)

// DefaultRequestTimeout is the per-HTTP-call deadline applied when a
// Config does not set one (spec.md §6).
const DefaultRequestTimeout = 30 * time.Second

// transmitter is a stateless HTTP sender: it converts an envelope batch
// plus the server's response into an outcome. It never retains state
// between calls to send and is safe to call from a single worker
// repeatedly, though the worker never issues concurrent requests against
// it (spec.md §5).
//
// Grounded on the pooled http.Client POST-and-classify shape used
// throughout notifications/sinks.go and exercised by
// notifications/http_test.go, generalized here from single-event delivery
// to a batch body with index-keyed partial-failure reconciliation
// (spec.md §4.2, §7).
//
// send keeps its own logger field rather than pulling one out of ctx via
// internal/ctxlog: transmitter is constructed once by NewChannel and
// called with whatever ctx the caller (the worker) happens to be carrying,
// and tests call send directly with a bare context.Background(), so the
// logger travels with the transmitter itself rather than through ctx.
type transmitter struct {
	url      string
	client   *http.Client
	timeout  time.Duration
	logger   ctxlog.Logger
	metrics  *safeMetrics
	observer func(err error)
}

func newTransmitter(url string, timeout time.Duration, logger ctxlog.Logger, metrics *safeMetrics) *transmitter {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &transmitter{
		url: url,
		client: &http.Client{
			Transport: cleanhttp.DefaultPooledTransport(),
		},
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// send POSTs batch as a JSON array and classifies the response into an
// Outcome. Network errors, body-read errors and unparseable 408/429/500
// bodies are conservatively treated as a full-batch Retry (spec.md §4.2,
// §7): transient failures are assumed transient. An unparseable 206 body
// is the exception and counts as Success.
func (t *transmitter) send(ctx context.Context, batch []*contracts.Envelope) outcome {
	if len(batch) == 0 {
		return success()
	}

	body, err := json.Marshal(batch)
	if err != nil {
		t.logger.WithError(err).Error("channel: failed to encode envelope batch, dropping")
		t.notify(err)
		return noRetry()
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		t.logger.WithError(err).Error("channel: failed to build submission request, dropping")
		t.notify(err)
		return noRetry()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.WithError(err).Warn("channel: submission request failed, will retry")
		t.notify(err)
		return retry(batch)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.logger.WithError(err).Warn("channel: failed reading submission response, will retry")
		t.notify(err)
		return retry(batch)
	}

	if t.metrics != nil {
		t.metrics.status(resp.StatusCode)
	}

	o := interpretResponse(batch, resp.StatusCode, respBody, resp.Header.Get("Retry-After"), time.Now())
	t.logger.WithField("status", resp.StatusCode).WithFields(logrus.Fields{
		"sent": len(batch),
		"kind": outcomeKindString(o.kind),
	}).Debug("channel: submission completed")

	if t.metrics != nil {
		settled := len(batch) - len(o.remaining)
		t.metrics.outcome(o.kind, settled)
	}

	if o.kind == outcomeSuccess {
		t.notify(nil)
	} else {
		t.notify(fmt.Errorf("channel: collector returned status %d", resp.StatusCode))
	}

	return o
}

// notify reports the outcome of one submission attempt to the configured
// Observer, if any. Nil-safe: no-op when no observer is wired.
func (t *transmitter) notify(err error) {
	if t.observer != nil {
		t.observer(err)
	}
}

func outcomeKindString(k outcomeKind) string {
	switch k {
	case outcomeSuccess:
		return "success"
	case outcomeRetry:
		return "retry"
	case outcomeThrottled:
		return "throttled"
	case outcomeNoRetry:
		return "no-retry"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}
