// Package events fans lifecycle events out to interested sinks: the webhook
// dispatcher and the live WebSocket feed.
package events

import "context"

// Sink receives lifecycle events. Implementations must not block the caller.
type Sink interface {
	Emit(ctx context.Context, event string, payload map[string]interface{})
}

// Fanout forwards each event to every registered sink in order.
type Fanout []Sink

// Emit implements Sink.
func (f Fanout) Emit(ctx context.Context, event string, payload map[string]interface{}) {
	for _, s := range f {
		s.Emit(ctx, event, payload)
	}
}

// Discard is a no-op sink for tests and tooling that runs without delivery.
type Discard struct{}

// Emit implements Sink.
func (Discard) Emit(context.Context, string, map[string]interface{}) {}
