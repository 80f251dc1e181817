// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces that pipeline actors use to report discovery, fetch,
// and persistence progress. It batches events on a background goroutine and
// fans them out to pluggable sinks such as Prometheus metrics or structured
// logging, so emitting an event never blocks the actor that raised it.
package progress
