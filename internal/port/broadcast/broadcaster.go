// Package broadcast defines the port for fanning out task events to
// connected observers.
package broadcast

import "context"

// Broadcaster delivers a typed event to its observers.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Multi fans an event out to several broadcasters.
type Multi []Broadcaster

// BroadcastEvent forwards the event to every member.
func (m Multi) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	for _, b := range m {
		if b != nil {
			b.BroadcastEvent(ctx, eventType, payload)
		}
	}
}
