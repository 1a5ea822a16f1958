package ingest

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/distribution/ingest/channel"
)

// Config is a client configuration, intended to be provided as a yaml file
// and optionally overridden by the application embedding this client.
// Field names and defaults follow spec.md §6's recognized options.
//
// Grounded on configuration.Endpoint (configuration/configuration.go): the
// same field set (endpoint URL, timeout, threshold, backoff) simplified to
// a single endpoint, since a telemetry client has one collector, not a list
// of webhook targets.
type Config struct {
	// InstrumentationKey identifies the caller to the collector and is
	// stamped onto every envelope (contracts.Envelope.IKey).
	InstrumentationKey string `yaml:"instrumentation_key"`

	// Endpoint is the collector URL batches are POSTed to.
	Endpoint string `yaml:"endpoint"`

	// Interval overrides channel.DefaultCycleInterval.
	Interval time.Duration `yaml:"interval,omitempty"`

	// RequestTimeout overrides channel.DefaultRequestTimeout.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`

	// RetrySchedule overrides channel.DefaultRetrySchedule. An explicit
	// empty list (as opposed to an absent key) disables retries entirely.
	RetrySchedule []time.Duration `yaml:"retry_schedule,omitempty"`

	// Enabled is the master switch (spec.md §6, "out of core scope" but
	// still a recognized option): a pointer so an absent key defaults to
	// enabled, distinct from an explicit `enabled: false`. When disabled,
	// NewClient returns a Client whose Track*/Flush/Close/Terminate
	// methods are all no-ops rather than starting a channel.Channel.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Threshold is the number of consecutive submission failures after
	// which the client's health check reports unhealthy (health.Checker).
	Threshold int `yaml:"threshold,omitempty"`
}

// enabled reports whether the client should start its channel at all. The
// zero value (nil) means the option was not set in yaml, which defaults to
// enabled.
func (c *Config) enabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Parse reads a yaml-encoded Config from rd.
func Parse(rd io.Reader) (*Config, error) {
	body, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("ingest: reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("ingest: parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if !c.enabled() {
		return nil
	}
	if c.InstrumentationKey == "" {
		return fmt.Errorf("ingest: instrumentation_key is required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("ingest: endpoint is required")
	}
	return nil
}

// channelOptions translates a Config into the channel package's Options.
func (c *Config) channelOptions() channel.Options {
	return channel.Options{
		Endpoint:       c.Endpoint,
		CycleInterval:  c.Interval,
		RequestTimeout: c.RequestTimeout,
		RetrySchedule:  c.RetrySchedule,
	}
}
