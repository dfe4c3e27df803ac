// Package publisher delivers domain events to an event bus.
//
// Publishers are fire-and-forget from the caller's point of view: the event
// store is the source of truth, and a publish failure never rolls back a
// successful append. Deployments that need at-least-once delivery enable the
// store's outbox and run a Relay instead of publishing inline.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrPartialPublish is returned when a bus accepted only part of a batch.
var ErrPartialPublish = errors.New("some events were not published")

// Envelope pairs an event with its type name.
type Envelope struct {
	Event     any
	EventType string
}

// Publisher publishes domain events.
type Publisher interface {
	Publish(ctx context.Context, event any, eventType string) error
	PublishBatch(ctx context.Context, envelopes []Envelope) error
}

// Pinger is implemented by publishers that can check their bus connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Discard accepts and drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, any, string) error  { return nil }
func (discard) PublishBatch(context.Context, []Envelope) error { return nil }

// Detail serializes an event as a JSON object. Values that do not encode to
// an object are wrapped as {"data": value}.
func Detail(event any) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("serialize event: %w", err)
	}
	if len(data) > 0 && data[0] == '{' {
		return data, nil
	}
	wrapped, err := json.Marshal(map[string]json.RawMessage{"data": data})
	if err != nil {
		return nil, fmt.Errorf("serialize event: %w", err)
	}
	return wrapped, nil
}

// eventID returns the event's id when it has one.
func eventID(event any) string {
	if ev, ok := event.(interface{ EventID() string }); ok {
		return ev.EventID()
	}
	return ""
}
