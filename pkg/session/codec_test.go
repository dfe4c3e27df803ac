package session

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/agentcore-lab/agentcore/pkg/eventstore"
)

func TestToStored(t *testing.T) {
	s := Start("agent-1", "user-1")
	ev := s.DomainEvents()[0]

	stored, err := ToStored(ev, 1)
	if err != nil {
		t.Fatalf("ToStored failed: %v", err)
	}
	if stored.EventType != EventTypeSessionStarted || stored.AggregateID != string(s.ID()) {
		t.Errorf("unexpected header: %+v", stored)
	}
	if stored.Metadata["event_id"] != ev.EventID() {
		t.Errorf("event_id not carried in metadata: %v", stored.Metadata)
	}
	if !stored.Timestamp.Equal(ev.OccurredAt()) {
		t.Error("stored timestamp differs from occurred_at")
	}

	var payload map[string]any
	if err := json.Unmarshal(stored.EventData, &payload); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"session_id", "agent_id", "user_id", "timestamp"} {
		if _, ok := payload[key]; !ok {
			t.Errorf("payload missing %q: %s", key, stored.EventData)
		}
	}
}

func TestDecodeEventRoundTrip(t *testing.T) {
	s := Start("agent-1", "user-1")
	_ = s.AddMessage(NewAssistantMessage(mustText(t, "done"),
		[]ToolCall{{ToolID: "t1", Name: "search", Params: map[string]any{"q": "go"}}}, nil))
	_ = s.End("")

	for i, ev := range s.DomainEvents() {
		stored, err := ToStored(ev, int64(i+1))
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := DecodeEvent(stored)
		if err != nil {
			t.Fatalf("DecodeEvent(%s) failed: %v", stored.EventType, err)
		}
		if decoded.EventID() != ev.EventID() || decoded.EventType() != ev.EventType() {
			t.Errorf("event %d: identity differs", i)
		}
		if !decoded.OccurredAt().Equal(ev.OccurredAt()) {
			t.Errorf("event %d: occurred_at differs", i)
		}
		if _, ok := decoded.Metadata()["event_id"]; ok {
			t.Errorf("event %d: event_id leaked into metadata", i)
		}
	}
}

func TestDecodeLegacyMessagePayload(t *testing.T) {
	stored := eventstore.StoredEvent{
		AggregateID:   "sess-1",
		AggregateType: AggregateType,
		EventType:     EventTypeMessageAdded,
		EventData: json.RawMessage(`{"session_id":"sess-1","message_id":"m1","role":"user",` +
			`"content":"Hello","timestamp":"2025-01-02T03:04:05.123456"}`),
		Version:   2,
		Timestamp: time.Now(),
	}

	ev, err := DecodeEvent(stored)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	added, ok := ev.(MessageAdded)
	if !ok {
		t.Fatalf("expected MessageAdded, got %T", ev)
	}
	if added.Message.Content().Text() != "Hello" || added.Message.Content().Type() != ContentTypeText {
		t.Errorf("unexpected content: %+v", added.Message.Content())
	}
	if added.Message.Role() != RoleUser {
		t.Errorf("unexpected role %s", added.Message.Role())
	}
	want := time.Date(2025, 1, 2, 3, 4, 5, 123456000, time.UTC)
	if !added.OccurredAt().Equal(want) {
		t.Errorf("expected zone-less timestamp read as UTC, got %v", added.OccurredAt())
	}
}

func TestDecodeEventErrors(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		data      string
		wantErr   error
	}{
		{name: "unknown type", eventType: "SessionRenamed", data: `{}`, wantErr: ErrUnknownEventType},
		{name: "bad json", eventType: EventTypeSessionStarted, data: `{`},
		{name: "bad timestamp", eventType: EventTypeSessionEnded, data: `{"timestamp":"yesterday"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent(eventstore.StoredEvent{
				AggregateID: "sess-1",
				EventType:   tt.eventType,
				EventData:   json.RawMessage(tt.data),
				Version:     1,
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRebuildRejectsCorruptStreams(t *testing.T) {
	s := Start("agent-1", "user-1")
	_ = s.AddMessage(NewUserMessage(mustText(t, "hi"), nil))
	pending := s.DomainEvents()

	started, _ := ToStored(pending[0], 1)
	added, _ := ToStored(pending[1], 2)
	gapped, _ := ToStored(pending[1], 3)
	startedAgain, _ := ToStored(pending[0], 2)

	tests := []struct {
		name   string
		events []eventstore.StoredEvent
	}{
		{name: "gap", events: []eventstore.StoredEvent{started, gapped}},
		{name: "missing start", events: []eventstore.StoredEvent{{AggregateID: added.AggregateID, EventType: added.EventType, EventData: added.EventData, Version: 1}}},
		{name: "second start", events: []eventstore.StoredEvent{started, startedAgain}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Rebuild(tt.events); !errors.Is(err, ErrCorruptStream) {
				t.Errorf("expected ErrCorruptStream, got %v", err)
			}
		})
	}

	// Out-of-order input is sorted by version before replay.
	rebuilt, err := Rebuild([]eventstore.StoredEvent{added, started})
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if rebuilt.Version() != 2 || rebuilt.MessageCount() != 1 {
		t.Errorf("unexpected rebuild: version %d, %d messages", rebuilt.Version(), rebuilt.MessageCount())
	}
}

func TestEncodeEventRejectsForeignEvents(t *testing.T) {
	if _, _, err := EncodeEvent(foreignEvent{}); !errors.Is(err, ErrUnknownEventType) {
		t.Errorf("expected ErrUnknownEventType, got %v", err)
	}
}

type foreignEvent struct{ eventHeader }

func (foreignEvent) EventType() string { return "Foreign" }
