package session

import (
	"fmt"
	"log/slog"

	"github.com/c360/schemagate/errors"
	"github.com/c360/schemagate/metric"
	"github.com/c360/schemagate/pkg/tlsutil"
	"github.com/c360/schemagate/transport"
	"github.com/c360/schemagate/transport/mqtt"
	"github.com/c360/schemagate/transport/nats"
)

// Transport names accepted in broker settings.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

// BrokerSettings selects and configures the transport for one session.
// An empty Transport means MQTT, matching the deployed fleet.
type BrokerSettings struct {
	Transport string
	Host      string
	Port      int
	Username  string
	Password  string
	TLS       tlsutil.ClientTLSConfig
}

// Configured reports whether the settings name a broker at all.
func (b BrokerSettings) Configured() bool {
	return b.Host != ""
}

// TransportName returns the effective transport, resolving the default.
func (b BrokerSettings) TransportName() string {
	if b.Transport == "" {
		return TransportMQTT
	}
	return b.Transport
}

// newBrokerClient builds the transport client for one session, wiring
// its health and reconnect callbacks to the platform broker metrics.
func newBrokerClient(settings BrokerSettings, core *metric.Metrics, logger *slog.Logger) (transport.Client, error) {
	onHealth := func(healthy bool) { core.RecordBrokerStatus(healthy) }
	onLost := func(error) { core.RecordBrokerReconnect() }

	switch settings.TransportName() {
	case TransportMQTT:
		opts := []mqtt.ClientOption{
			mqtt.WithLogger(logger),
			mqtt.WithTLS(settings.TLS),
			mqtt.WithHealthChangeCallback(onHealth),
			mqtt.WithConnectionLostCallback(onLost),
		}
		if settings.Username != "" {
			opts = append(opts, mqtt.WithCredentials(settings.Username, settings.Password))
		}
		return mqtt.NewClient(settings.Host, settings.Port, opts...)

	case TransportNATS:
		url := fmt.Sprintf("nats://%s:%d", settings.Host, settings.Port)
		opts := []nats.ClientOption{
			nats.WithName("schemagate"),
			nats.WithLogger(logger),
			nats.WithTLS(settings.TLS),
			nats.WithHealthChangeCallback(onHealth),
			nats.WithConnectionLostCallback(onLost),
		}
		if settings.Username != "" {
			opts = append(opts, nats.WithCredentials(settings.Username, settings.Password))
		}
		return nats.NewClient(url, opts...)

	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "SessionManager", "newBrokerClient",
			fmt.Sprintf("unknown transport %q", settings.Transport))
	}
}
