// Package ingest is the client-facing entry point: it wires a Config into
// a channel.Channel and exposes one Track method per telemetry kind, each
// building the matching contracts.Envelope and handing it to the channel.
//
// Grounded on the original_source/appinsights TelemetryClient surface
// (track_*.rs helpers), adapted into idiomatic Go: a struct with Track*
// methods rather than free functions, errors returned rather than logged
// and swallowed, and the queue/worker/retry plumbing supplied by channel.
package ingest

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/distribution/ingest/channel"
	"github.com/distribution/ingest/contracts"
	"github.com/distribution/ingest/health"
	"github.com/distribution/ingest/internal/ctxlog"
)

// Client submits telemetry envelopes asynchronously. It is safe for
// concurrent use by multiple goroutines.
type Client struct {
	ikey   string
	ch     *channel.Channel
	health *health.Checker
	logger ctxlog.Logger
}

// NewClient constructs a Client from cfg and starts its background
// submission worker.
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := logrus.WithField("component", "ingest")

	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 3
	}
	checker := health.NewChecker(threshold)

	if !cfg.enabled() {
		logger.Info("ingest: client disabled by config, Track* calls are no-ops")
		return &Client{
			ikey:   cfg.InstrumentationKey,
			health: checker,
			logger: logger,
		}, nil
	}

	opts := cfg.channelOptions()
	opts.Logger = logger
	opts.Observer = checker.Update

	ch, err := channel.NewChannel(opts)
	if err != nil {
		return nil, fmt.Errorf("ingest: starting channel: %w", err)
	}

	return &Client{
		ikey:   cfg.InstrumentationKey,
		ch:     ch,
		health: checker,
		logger: logger,
	}, nil
}

// Health reports the client's degraded/healthy status, driven by
// consecutive submission failures rather than queue depth.
func (c *Client) Health() *health.Checker {
	return c.health
}

// Flush asks the channel to submit whatever is queued right away. See
// channel.Channel.Flush for its non-blocking, best-effort semantics. A
// no-op when the client was constructed with `enabled: false`.
func (c *Client) Flush() {
	if c.ch != nil {
		c.ch.Flush()
	}
}

// Close drains the queue and stops the background worker, blocking until
// it has fully stopped. A no-op when the client was constructed with
// `enabled: false`.
func (c *Client) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
}

// Terminate stops the background worker immediately, discarding anything
// queued or in flight. A no-op when the client was constructed with
// `enabled: false`.
func (c *Client) Terminate() {
	if c.ch != nil {
		c.ch.Terminate()
	}
}

// send hands e to the channel, or silently drops it if the client is
// disabled (cfg.Enabled == false): ch is nil in that case.
func (c *Client) send(e *contracts.Envelope) {
	if c.ch != nil {
		c.ch.Send(e)
	}
}

// TrackEvent records a named application event, optionally with free-form
// properties and numeric measurements.
func (c *Client) TrackEvent(name string, properties map[string]string, measurements map[string]float64) {
	c.send(contracts.NewEventEnvelope(c.ikey, name, properties, measurements))
}

// TrackTrace records a free-form log line at the given severity.
func (c *Client) TrackTrace(message string, severity contracts.SeverityLevel, properties map[string]string) {
	c.send(contracts.NewTraceEnvelope(c.ikey, message, severity, properties))
}

// TrackMetric records a single numeric sample under name.
func (c *Client) TrackMetric(name string, value float64) {
	c.send(contracts.NewMetricEnvelope(c.ikey, name, value))
}

// TrackRequest records an inbound request's outcome.
func (c *Client) TrackRequest(req *contracts.RequestData) {
	c.send(contracts.NewRequestEnvelope(c.ikey, req))
}

// TrackRemoteDependency records an outbound call's outcome (a database
// query, an HTTP call to another service, and so on).
func (c *Client) TrackRemoteDependency(dep *contracts.RemoteDependencyData) {
	c.send(contracts.NewRemoteDependencyEnvelope(c.ikey, dep))
}

// TrackAvailability records a synthetic availability probe's outcome.
func (c *Client) TrackAvailability(av *contracts.AvailabilityData) {
	c.send(contracts.NewAvailabilityEnvelope(c.ikey, av))
}

// TrackException records err, capturing a stack trace rooted at its
// caller. skip lets wrapper functions add to the default skip count of 1
// (this frame) to keep the reported top frame meaningful.
func (c *Client) TrackException(err error, severity contracts.SeverityLevel, skip int) {
	c.send(contracts.NewExceptionEnvelope(c.ikey, err, severity, skip+1))
}
