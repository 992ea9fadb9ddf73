// Package observability wires structured logging, Prometheus metrics and
// OpenTelemetry tracing for the agent runtime.
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler redacts API keys, bearer
// tokens and other secrets from messages and attributes before they reach
// the output:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "text"})
//	logger.Info("provider request", "provider", "anthropic", "api_key", key) // api_key is redacted
//
// # Metrics
//
// Metrics are registered on a caller supplied prometheus.Registerer so tests
// and embedders can use isolated registries. All recording methods are safe
// on a nil *Metrics.
//
// # Tracing
//
// NewTracer exports spans over OTLP gRPC when an endpoint is configured and
// falls back to the global no-op tracer otherwise. Spans:
//   - agent.run      one execution loop run
//   - llm.request    one provider call (single-shot or streaming)
//   - tool.execute   one tool invocation
package observability
