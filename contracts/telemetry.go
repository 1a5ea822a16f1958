package contracts

import "github.com/gofrs/uuid"

// EventData is a custom event telemetry item: a named occurrence with
// optional properties and measurements.
type EventData struct {
	Name         string             `json:"name"`
	Properties   map[string]string  `json:"properties,omitempty"`
	Measurements map[string]float64 `json:"measurements,omitempty"`
}

// NewEventEnvelope builds an Envelope carrying EventData.
func NewEventEnvelope(ikey, name string, properties map[string]string, measurements map[string]float64) *Envelope {
	e := NewEnvelope("Microsoft.ApplicationInsights.Event", ikey)
	e.Data = &Data{
		BaseType: "EventData",
		BaseData: &EventData{Name: name, Properties: properties, Measurements: measurements},
	}
	return e
}

// TraceData is a free-form trace/log message with a severity level.
// Ported from original_source/appinsights/src/telemetry/trace.rs.
type TraceData struct {
	Message       string            `json:"message"`
	SeverityLevel SeverityLevel     `json:"severityLevel"`
	Properties    map[string]string `json:"properties,omitempty"`
}

// NewTraceEnvelope builds an Envelope carrying TraceData.
func NewTraceEnvelope(ikey, message string, severity SeverityLevel, properties map[string]string) *Envelope {
	e := NewEnvelope("Microsoft.ApplicationInsights.Message", ikey)
	e.Data = &Data{
		BaseType: "MessageData",
		BaseData: &TraceData{Message: message, SeverityLevel: severity, Properties: properties},
	}
	return e
}

// MetricData is a single named numeric measurement.
type MetricData struct {
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Count      int               `json:"count,omitempty"`
	Min        float64           `json:"min,omitempty"`
	Max        float64           `json:"max,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// NewMetricEnvelope builds an Envelope carrying a single MetricData point.
func NewMetricEnvelope(ikey, name string, value float64) *Envelope {
	e := NewEnvelope("Microsoft.ApplicationInsights.Metric", ikey)
	e.Data = &Data{
		BaseType: "MetricData",
		BaseData: &MetricData{Name: name, Value: value, Count: 1},
	}
	return e
}

// RequestData describes a server-side request that was handled.
type RequestData struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Duration     string            `json:"duration"`
	ResponseCode string            `json:"responseCode"`
	Success      bool              `json:"success"`
	URL          string            `json:"url,omitempty"`
	Properties   map[string]string `json:"properties,omitempty"`
}

// NewRequestEnvelope builds an Envelope carrying RequestData. If req.ID is
// unset, a uuid is generated for it, mirroring the request-id stamping
// distribution's registry does for every inbound request (registry/handlers
// uses a context-scoped id; here there's no request context to draw one
// from, so we mint one directly).
func NewRequestEnvelope(ikey string, req *RequestData) *Envelope {
	if req.ID == "" {
		req.ID = newID()
	}
	e := NewEnvelope("Microsoft.ApplicationInsights.Request", ikey)
	e.Data = &Data{BaseType: "RequestData", BaseData: req}
	return e
}

// RemoteDependencyData describes a call this application made to an
// external dependency (database, HTTP API, etc).
type RemoteDependencyData struct {
	Name         string            `json:"name"`
	Type         string            `json:"type,omitempty"`
	Target       string            `json:"target,omitempty"`
	Duration     string            `json:"duration"`
	ResultCode   string            `json:"resultCode,omitempty"`
	Success      bool              `json:"success"`
	Data         string            `json:"data,omitempty"`
	Properties   map[string]string `json:"properties,omitempty"`
}

// NewRemoteDependencyEnvelope builds an Envelope carrying
// RemoteDependencyData.
func NewRemoteDependencyEnvelope(ikey string, dep *RemoteDependencyData) *Envelope {
	e := NewEnvelope("Microsoft.ApplicationInsights.RemoteDependency", ikey)
	e.Data = &Data{BaseType: "RemoteDependencyData", BaseData: dep}
	return e
}

// AvailabilityData describes the result of an availability/synthetic test.
type AvailabilityData struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Duration    string            `json:"duration"`
	Success     bool              `json:"success"`
	RunLocation string            `json:"runLocation,omitempty"`
	Message     string            `json:"message,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// NewAvailabilityEnvelope builds an Envelope carrying AvailabilityData,
// stamping an id if av.ID is unset.
func NewAvailabilityEnvelope(ikey string, av *AvailabilityData) *Envelope {
	if av.ID == "" {
		av.ID = newID()
	}
	e := NewEnvelope("Microsoft.ApplicationInsights.Availability", ikey)
	e.Data = &Data{BaseType: "AvailabilityData", BaseData: av}
	return e
}

// newID mints a random identifier for telemetry items that need one but
// weren't given one explicitly.
func newID() string {
	return uuid.Must(uuid.NewV4()).String()
}
