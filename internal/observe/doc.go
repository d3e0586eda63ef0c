// Package observe wires OpenTelemetry tracing for the recorder: provider
// setup, span helpers and trace-aware loggers.
package observe
