// Package metric provides Prometheus-based metrics collection and an HTTP
// exposition server for monitoring the validation gateway.
//
// The package offers a centralized metrics registry managing both core
// platform metrics (session lifecycle, broker connectivity, schema cache,
// sink health) and component-specific metrics registered by the router. It
// includes an HTTP server exposing metrics in Prometheus format.
//
// # Architecture
//
// The package follows a three-layer design:
//
//  1. Core Metrics: platform-level metrics automatically registered (Metrics type)
//  2. Component Registry: extensible registration for component-specific metrics (MetricsRegistrar interface)
//  3. HTTP Server: metrics endpoint with health check (Server type)
//
// # Basic Usage
//
// Setting up metrics collection and the HTTP server:
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        log.Printf("metrics server error: %v", err)
//	    }
//	}()
//
//	// Record core platform metrics
//	core := registry.CoreMetrics()
//	core.RecordSessionStatus(2) // running
//	core.RecordBrokerStatus(true)
//	core.RecordSchemaCache(4, 1)
//
// The server exposes Prometheus-formatted metrics at
// http://localhost:9090/metrics and a health check at
// http://localhost:9090/health.
//
// # Component-Specific Metrics
//
// Components register their own metrics through the MetricsRegistrar
// interface. Registration is tracked per component.metric key, so a
// duplicate registration fails fast instead of silently double-counting:
//
//	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
//	    Namespace: "schemagate",
//	    Subsystem: "router",
//	    Name:      "messages_processed_total",
//	    Help:      "Messages processed by validation outcome",
//	}, []string{"status", "subject", "error_type"})
//
//	if err := registry.RegisterCounterVec("router", "messages_processed", counter); err != nil {
//	    return err
//	}
//
// A nil registry disables metrics throughout: component constructors
// accept *MetricsRegistry and treat nil as "metrics off", which keeps
// unit tests free of global registry state.
package metric
