package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/c360/schemagate/errors"
)

// Kind classifies what a subscribed topic carries.
type Kind int

const (
	// KindSensor is telemetry from a sensor source topic.
	KindSensor Kind = iota
	// KindActuatorCommand is a command sent to an actuator.
	KindActuatorCommand
	// KindActuatorStatus is a status report published by an actuator.
	KindActuatorStatus
)

// String returns the kind name used in logs and conflict errors.
func (k Kind) String() string {
	switch k {
	case KindSensor:
		return "sensor"
	case KindActuatorCommand:
		return "actuator-command"
	case KindActuatorStatus:
		return "actuator-status"
	default:
		return "unknown"
	}
}

// Route resolves one subscribed topic: its classification plus the mapping
// it came from. Exactly one of Sensor and Actuator is set, matching Kind.
type Route struct {
	Kind     Kind
	Sensor   *SensorMapping
	Actuator *ActuatorMapping
}

// SchemaPath returns the schema reference for this route, empty when the
// mapping declares none.
func (r *Route) SchemaPath() string {
	switch r.Kind {
	case KindSensor:
		return r.Sensor.Schema
	case KindActuatorCommand:
		return r.Actuator.CommandSchema
	case KindActuatorStatus:
		return r.Actuator.StatusSchema
	default:
		return ""
	}
}

// ValidatedTopic returns where conforming payloads are republished.
func (r *Route) ValidatedTopic() string {
	switch r.Kind {
	case KindSensor:
		return r.Sensor.Validated
	case KindActuatorCommand:
		return r.Actuator.CommandValidatedTopic
	case KindActuatorStatus:
		return r.Actuator.StatusValidatedTopic
	default:
		return ""
	}
}

// FailedTopic returns where failure envelopes are published.
func (r *Route) FailedTopic() string {
	switch r.Kind {
	case KindSensor:
		return r.Sensor.Failed
	case KindActuatorCommand:
		return r.Actuator.CommandFailedTopic
	case KindActuatorStatus:
		return r.Actuator.StatusFailedTopic
	default:
		return ""
	}
}

// Subject identifies the route in envelopes and metrics: the trimmed
// source topic for sensors, the actuator id otherwise.
func (r *Route) Subject() string {
	if r.Kind == KindSensor {
		return strings.Trim(r.Sensor.Source, "/")
	}
	return r.Actuator.ActuatorID
}

// FailOpen reports the schema-unavailable policy for this route: sensor
// telemetry flows on without a validator, actuator traffic never does.
func (r *Route) FailOpen() bool {
	return r.Kind == KindSensor
}

// EnvelopeKey returns the JSON key naming the subject in failure
// envelopes published on this route's failed topic.
func (r *Route) EnvelopeKey() string {
	if r.Kind == KindSensor {
		return "sensor"
	}
	return "actuator"
}

// Index is the precomputed union lookup over both mapping classes, built
// once per session and read-only afterwards.
type Index struct {
	routes map[string]*Route
}

// BuildIndex merges both mapping tables into one topic index. A duplicate
// source topic within the sensor class keeps the last mapping (a
// configuration-validation concern, not a routing one); any topic claimed
// by two classifications is a hard error.
func BuildIndex(sensors []SensorMapping, actuators []ActuatorMapping) (*Index, error) {
	idx := &Index{routes: make(map[string]*Route, len(sensors)+2*len(actuators))}

	for i := range sensors {
		m := sensors[i]
		idx.routes[m.Source] = &Route{Kind: KindSensor, Sensor: &m}
	}

	// Sensors are indexed first, so claiming detects every cross-class
	// collision as well as actuator-vs-actuator ones.
	for i := range actuators {
		m := actuators[i]
		if err := idx.claim(m.CommandTopic, &Route{Kind: KindActuatorCommand, Actuator: &m}); err != nil {
			return nil, err
		}
		if err := idx.claim(m.StatusTopic, &Route{Kind: KindActuatorStatus, Actuator: &m}); err != nil {
			return nil, err
		}
	}

	return idx, nil
}

func (idx *Index) claim(topic string, route *Route) error {
	if existing, ok := idx.routes[topic]; ok {
		return conflict(topic, existing.Kind, route.Kind)
	}
	idx.routes[topic] = route
	return nil
}

func conflict(topic string, a, b Kind) error {
	return fmt.Errorf("%w: topic %q claimed as both %s and %s",
		errors.ErrTopicConflict, topic, a, b)
}

// Lookup resolves an inbound topic. Unmapped topics are expected noise
// from unrelated publishers; the miss is not an error.
func (idx *Index) Lookup(topic string) (*Route, bool) {
	route, ok := idx.routes[topic]
	return route, ok
}

// Topics returns every subscribed topic, sorted.
func (idx *Index) Topics() []string {
	topics := make([]string, 0, len(idx.routes))
	for topic := range idx.routes {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// SchemaPaths returns the distinct non-empty schema references across all
// routes, sorted. The session loads each exactly once.
func (idx *Index) SchemaPaths() []string {
	seen := make(map[string]struct{})
	for _, route := range idx.routes {
		if path := route.SchemaPath(); path != "" {
			seen[path] = struct{}{}
		}
	}

	paths := make([]string, 0, len(seen))
	for path := range seen {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Len reports how many topics the index routes.
func (idx *Index) Len() int {
	return len(idx.routes)
}
