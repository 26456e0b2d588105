// Package sinks holds the progress.Sink implementations: run counters in the
// run store, Prometheus series, and log lines.
package sinks
