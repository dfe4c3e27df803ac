package publisher

import (
	"context"
	"log"
)

// LogPublisher writes one log line per event. Payloads are not logged.
type LogPublisher struct{}

// Publish logs the event type and id.
func (LogPublisher) Publish(ctx context.Context, event any, eventType string) error {
	if id := eventID(event); id != "" {
		log.Printf("[publisher] %s %s", eventType, id)
	} else {
		log.Printf("[publisher] %s", eventType)
	}
	return nil
}

// PublishBatch logs each event.
func (p LogPublisher) PublishBatch(ctx context.Context, envelopes []Envelope) error {
	for _, env := range envelopes {
		_ = p.Publish(ctx, env.Event, env.EventType)
	}
	return nil
}
