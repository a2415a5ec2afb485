// Package telemetry installs the OpenTelemetry tracer provider used by the
// engine, the resolution loop and the HTTP surface.
package telemetry
