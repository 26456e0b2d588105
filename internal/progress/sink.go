package progress

import "context"

// Sink receives batches from a Hub. A Hub calls Consume for different sinks
// concurrently, but never overlaps two calls on the same sink.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events. *Hub implements it; a nil Emitter is
// treated as disabled by callers.
type Emitter interface {
	Emit(evt Event)
}
