package channel

import (
	"expvar"
	"fmt"
	"net/http"
	"sync"

	dmetrics "github.com/docker/go-metrics"

	"github.com/distribution/ingest/internal/metrics"
)

var (
	// pendingGauge measures the number of envelopes currently sitting in
	// the queue, per channel endpoint.
	pendingGauge = metrics.ChannelNamespace.NewLabeledGauge("pending", "envelopes waiting in the queue", dmetrics.Total, "endpoint")
	// eventsCounter counts envelopes by what ultimately happened to them.
	eventsCounter = metrics.ChannelNamespace.NewLabeledCounter("events", "total envelopes by outcome", "outcome", "endpoint")
	// statusCounter counts submission attempts by collector HTTP status.
	statusCounter = metrics.ChannelNamespace.NewLabeledCounter("status", "submission attempts by HTTP status", "code", "endpoint")
)

// ChannelMetrics is the expvar-visible snapshot of a single Channel's
// counters, mirroring notifications.EndpointMetrics (notifications/metrics.go).
type ChannelMetrics struct {
	Pending   int
	Enqueued  int
	Succeeded int
	Retried   int
	Throttled int
	Dropped   int
	Statuses  map[string]int
}

// safeMetrics guards ChannelMetrics with a lock and feeds the prometheus/
// expvar counters declared above. Grounded on notifications.safeMetrics.
type safeMetrics struct {
	sync.Mutex
	endpoint string
	ChannelMetrics
}

func newSafeMetrics(endpoint string) *safeMetrics {
	return &safeMetrics{
		endpoint:       endpoint,
		ChannelMetrics: ChannelMetrics{Statuses: make(map[string]int)},
	}
}

func (sm *safeMetrics) enqueued(n int) {
	sm.Lock()
	defer sm.Unlock()
	sm.Enqueued += n
	sm.Pending += n
	pendingGauge.WithValues(sm.endpoint).Set(float64(sm.Pending))
}

func (sm *safeMetrics) dequeued(n int) {
	sm.Lock()
	defer sm.Unlock()
	sm.Pending -= n
	if sm.Pending < 0 {
		sm.Pending = 0
	}
	pendingGauge.WithValues(sm.endpoint).Set(float64(sm.Pending))
}

func (sm *safeMetrics) outcome(kind outcomeKind, n int) {
	if n == 0 {
		return
	}
	sm.Lock()
	defer sm.Unlock()
	var label string
	switch kind {
	case outcomeSuccess:
		label, sm.Succeeded = "success", sm.Succeeded+n
	case outcomeRetry:
		label, sm.Retried = "retry", sm.Retried+n
	case outcomeThrottled:
		label, sm.Throttled = "throttled", sm.Throttled+n
	case outcomeNoRetry:
		label, sm.Dropped = "dropped", sm.Dropped+n
	default:
		label = outcomeKindString(kind)
	}
	eventsCounter.WithValues(label, sm.endpoint).Inc(float64(n))
}

func (sm *safeMetrics) status(code int) {
	sm.Lock()
	defer sm.Unlock()
	key := fmt.Sprintf("%d %s", code, http.StatusText(code))
	sm.Statuses[key]++
	statusCounter.WithValues(key, sm.endpoint).Inc(1)
}

// registerExpvar publishes this channel's metrics under expvar's
// "ingest_channels" map, keyed by endpoint, the same way notifications
// publishes an "notifications" expvar map of endpoint metrics.
func (sm *safeMetrics) registerExpvar() {
	registry := expvarRegistry()
	registry.Set(sm.endpoint, expvar.Func(func() interface{} {
		sm.Lock()
		defer sm.Unlock()
		return sm.ChannelMetrics
	}))
}

var (
	expvarOnce sync.Once
	expvarMap  *expvar.Map
)

func expvarRegistry() *expvar.Map {
	expvarOnce.Do(func() {
		expvarMap = expvar.NewMap("ingest_channels")
	})
	return expvarMap
}
