package progress

import "context"

// Sink consumes batches of telemetry records. Implementations must honor ctx
// deadlines and tolerate repeated Consume calls.
type Sink interface {
	Consume(ctx context.Context, batch []Record) error
	Close(ctx context.Context) error
}

// Emitter publishes individual records; Hub satisfies this interface so the
// tracker stays agnostic about buffering and delivery.
type Emitter interface {
	Emit(rec Record) bool
}
