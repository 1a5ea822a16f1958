// Package contracts defines the public, out-of-core telemetry-builder
// surface consumed by the channel package: an opaque, JSON-serializable
// Envelope plus the per-telemetry-type Data payloads used to build one.
//
// The channel package never inspects these types beyond calling
// json.Marshal on an Envelope; they exist so that callers (and this
// module's own tests) have something realistic to enqueue.
package contracts

import "time"

// Envelope is the system-level envelope of telemetry data. It wraps the
// telemetry-type-specific Data payload with the fields the ingestion
// endpoint needs to route and correlate it: {name, time,
// instrumentation_key, tags, data}.
type Envelope struct {
	// Name is the fully qualified type name of this envelope's payload,
	// e.g. "Microsoft.ApplicationInsights.Event".
	Name string `json:"name"`

	// Time is the event timestamp, RFC3339 with millisecond precision.
	Time string `json:"time"`

	// IKey identifies the component that generated this telemetry.
	IKey string `json:"iKey,omitempty"`

	// Tags carry context that doesn't belong to any one telemetry type:
	// operation id, cloud role, device, and so on.
	Tags map[string]string `json:"tags,omitempty"`

	// Data is the telemetry-type-specific payload, wrapped in its
	// baseType/baseData envelope per the wire protocol.
	Data *Data `json:"data,omitempty"`
}

// Data wraps a telemetry payload with the base-type discriminator the
// ingestion endpoint uses to pick a deserializer.
type Data struct {
	BaseType string      `json:"baseType"`
	BaseData interface{} `json:"baseData"`
}

// NewEnvelope returns an Envelope stamped with the current time, ready to
// have its Data populated by one of the telemetry constructors.
func NewEnvelope(name, ikey string) *Envelope {
	return &Envelope{
		Name: name,
		Time: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		IKey: ikey,
		Tags: make(map[string]string),
	}
}
