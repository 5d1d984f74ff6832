package emit

import "context"

// Emitter receives observability events from the saga engines. Implementations
// must be non-blocking and safe for concurrent use: a slow or failing backend
// must never stall a merge or reorder in progress.
type Emitter interface {
	// Emit sends a single event. Must not panic or block.
	Emit(event Event)

	// EmitBatch sends events in order, maintaining happened-before
	// relationships. Returns an error only on catastrophic (e.g.
	// configuration) failure; individual event failures should be logged
	// internally and not returned.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until buffered events are delivered or ctx is done. Safe
	// to call more than once.
	Flush(ctx context.Context) error
}
