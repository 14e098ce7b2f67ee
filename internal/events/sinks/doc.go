// Package sinks implements event consumers for structured logging and
// Prometheus. Each sink satisfies events.Sink.
package sinks
