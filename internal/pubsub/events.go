// Package pubsub provides a small generic publish/subscribe broker used to
// surface out-of-band notifications from a transform run.
package pubsub

import (
	"context"
	"time"
)

// EventType names the kind of notification carried by an Event.
type EventType string

// Event is a published notification with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher publishes events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
