// Package progress carries live crawl telemetry from the orchestrators to
// observers. Orchestrators emit Events without blocking; a Hub batches them
// and hands each batch to every registered Sink.
package progress
