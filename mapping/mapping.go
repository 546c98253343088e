package mapping

import (
	"fmt"
	"strings"

	"github.com/c360/schemagate/errors"
)

// SensorMapping binds one telemetry source topic to its validated and
// failed target topics, with an optional schema reference. A mapping
// without a schema forwards everything that decodes (fail-open).
type SensorMapping struct {
	Source    string `json:"source"`
	Validated string `json:"validated"`
	Failed    string `json:"failed"`
	Schema    string `json:"schema,omitempty"`
}

// Validate checks the mapping is complete enough to route.
func (m *SensorMapping) Validate() error {
	if strings.TrimSpace(m.Source) == "" {
		return fmt.Errorf("%w: sensor mapping needs a source topic", errors.ErrInvalidConfig)
	}
	if strings.TrimSpace(m.Validated) == "" || strings.TrimSpace(m.Failed) == "" {
		return fmt.Errorf("%w: sensor mapping %q needs validated and failed topics",
			errors.ErrInvalidConfig, m.Source)
	}
	return nil
}

// ActuatorMapping binds one actuator to its command and status sub-flows.
// Each sub-flow has its own source, target, and schema; commands and
// status reports are validated independently.
type ActuatorMapping struct {
	ActuatorID            string `json:"actuator_id"`
	CommandTopic          string `json:"command_topic"`
	CommandValidatedTopic string `json:"command_validated_topic"`
	CommandFailedTopic    string `json:"command_failed_topic"`
	CommandSchema         string `json:"command_schema,omitempty"`
	StatusTopic           string `json:"status_topic"`
	StatusValidatedTopic  string `json:"status_validated_topic"`
	StatusFailedTopic     string `json:"status_failed_topic"`
	StatusSchema          string `json:"status_schema,omitempty"`
}

// Validate checks the mapping is complete enough to route both sub-flows.
func (m *ActuatorMapping) Validate() error {
	if strings.TrimSpace(m.ActuatorID) == "" {
		return fmt.Errorf("%w: actuator mapping needs an actuator_id", errors.ErrInvalidConfig)
	}
	for _, t := range []struct{ name, topic string }{
		{"command_topic", m.CommandTopic},
		{"command_validated_topic", m.CommandValidatedTopic},
		{"command_failed_topic", m.CommandFailedTopic},
		{"status_topic", m.StatusTopic},
		{"status_validated_topic", m.StatusValidatedTopic},
		{"status_failed_topic", m.StatusFailedTopic},
	} {
		if strings.TrimSpace(t.topic) == "" {
			return fmt.Errorf("%w: actuator %q needs %s",
				errors.ErrInvalidConfig, m.ActuatorID, t.name)
		}
	}
	return nil
}
