// Package eventbus defines the optional, lossy event-emission port used to
// forward bus events to an external UI channel. A failed publish must never
// fail the operation that produced the event.
package eventbus

import "context"

// Publisher is the event-emission port. Implementations are best-effort:
// Publish returning an error only means the emission was dropped, never
// that the caller's write should be rolled back.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}
