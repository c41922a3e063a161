// Package otel publishes engine counters as OpenTelemetry observable
// instruments on a caller-supplied Meter. One callback reads the engine
// snapshot per collection.
package otel
