// Package metrics declares the prometheus/expvar namespaces shared across
// the module, mirroring docker/distribution's metrics package
// (metrics/prometheus.go): a single place that owns the namespace prefix so
// individual packages only need to declare their own counters/gauges
// against it.
package metrics

import "github.com/docker/go-metrics"

const (
	// NamespacePrefix is the namespace all of this module's metrics are
	// registered under.
	NamespacePrefix = "ingest"
)

var (
	// ChannelNamespace is the namespace of queue/submission related
	// metrics exported by the channel package.
	ChannelNamespace = metrics.NewNamespace(NamespacePrefix, "channel", nil)
)

func init() {
	metrics.Register(ChannelNamespace)
}
