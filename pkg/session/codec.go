package session

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/agentcore-lab/agentcore/pkg/eventstore"
)

// Persisted payloads. MessageAdded keeps the flat "content" string, so
// streams written before the structured fields existed still decode.
type sessionStartedPayload struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
}

type messageAddedPayload struct {
	SessionID       string         `json:"session_id"`
	MessageID       string         `json:"message_id"`
	Role            string         `json:"role"`
	Content         string         `json:"content"`
	ContentType     string         `json:"content_type,omitempty"`
	ContentMetadata map[string]any `json:"content_metadata,omitempty"`
	ToolCalls       []ToolCall     `json:"tool_calls,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Timestamp       string         `json:"timestamp"`
}

type sessionEndedPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// MarshalJSON renders the persisted payload.
func (e SessionStarted) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionStartedPayload{
		SessionID: string(e.sessionID),
		AgentID:   string(e.AgentID),
		UserID:    string(e.UserID),
		Timestamp: formatTimestamp(e.occurredAt),
	})
}

// MarshalJSON renders the persisted payload.
func (e MessageAdded) MarshalJSON() ([]byte, error) {
	m := e.Message
	return json.Marshal(messageAddedPayload{
		SessionID:       string(e.sessionID),
		MessageID:       string(m.id),
		Role:            string(m.role),
		Content:         m.content.text,
		ContentType:     string(m.content.kind),
		ContentMetadata: m.content.metadata,
		ToolCalls:       m.toolCalls,
		Metadata:        m.metadata,
		Timestamp:       formatTimestamp(e.occurredAt),
	})
}

// MarshalJSON renders the persisted payload.
func (e SessionEnded) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionEndedPayload{
		SessionID: string(e.sessionID),
		Reason:    e.Reason,
		Timestamp: formatTimestamp(e.occurredAt),
	})
}

// EncodeEvent returns the event type name and JSON payload for ev.
func EncodeEvent(ev DomainEvent) (string, json.RawMessage, error) {
	switch ev.(type) {
	case SessionStarted, MessageAdded, SessionEnded:
	default:
		return "", nil, fmt.Errorf("%w: %T", ErrUnknownEventType, ev)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s: %w", ev.EventType(), err)
	}
	return ev.EventType(), data, nil
}

// ToStored converts ev into a StoredEvent at the given version. The event id
// travels in the metadata under "event_id".
func ToStored(ev DomainEvent, version int64) (eventstore.StoredEvent, error) {
	eventType, data, err := EncodeEvent(ev)
	if err != nil {
		return eventstore.StoredEvent{}, err
	}
	meta := ev.Metadata()
	if meta == nil {
		meta = make(map[string]any, 1)
	}
	meta["event_id"] = ev.EventID()

	return eventstore.StoredEvent{
		AggregateID:   string(ev.SessionID()),
		AggregateType: AggregateType,
		EventType:     eventType,
		EventData:     data,
		Version:       version,
		Timestamp:     ev.OccurredAt(),
		Metadata:      meta,
	}, nil
}

// DecodeEvent rebuilds a domain event from its stored form.
func DecodeEvent(stored eventstore.StoredEvent) (DomainEvent, error) {
	header := eventHeader{
		sessionID:  SessionID(stored.AggregateID),
		occurredAt: stored.Timestamp,
	}
	if len(stored.Metadata) > 0 {
		header.metadata = maps.Clone(stored.Metadata)
		if id, ok := header.metadata["event_id"].(string); ok {
			header.eventID = id
		}
		delete(header.metadata, "event_id")
		if len(header.metadata) == 0 {
			header.metadata = nil
		}
	}

	applyTimestamp := func(sessionID, ts string) error {
		if sessionID != "" {
			header.sessionID = SessionID(sessionID)
		}
		if ts == "" {
			return nil
		}
		t, err := parseTimestamp(ts)
		if err != nil {
			return fmt.Errorf("%s v%d: %w", stored.EventType, stored.Version, err)
		}
		header.occurredAt = t
		return nil
	}

	switch stored.EventType {
	case EventTypeSessionStarted:
		var p sessionStartedPayload
		if err := json.Unmarshal(stored.EventData, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", stored.EventType, err)
		}
		if err := applyTimestamp(p.SessionID, p.Timestamp); err != nil {
			return nil, err
		}
		return SessionStarted{eventHeader: header, AgentID: AgentID(p.AgentID), UserID: UserID(p.UserID)}, nil

	case EventTypeMessageAdded:
		var p messageAddedPayload
		if err := json.Unmarshal(stored.EventData, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", stored.EventType, err)
		}
		if err := applyTimestamp(p.SessionID, p.Timestamp); err != nil {
			return nil, err
		}
		msg := Message{
			id:        MessageID(p.MessageID),
			role:      Role(p.Role),
			content:   restoreContent(p.Content, ContentType(p.ContentType), p.ContentMetadata),
			toolCalls: p.ToolCalls,
			metadata:  p.Metadata,
			createdAt: header.occurredAt,
		}
		return MessageAdded{eventHeader: header, Message: msg}, nil

	case EventTypeSessionEnded:
		var p sessionEndedPayload
		if err := json.Unmarshal(stored.EventData, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", stored.EventType, err)
		}
		if err := applyTimestamp(p.SessionID, p.Timestamp); err != nil {
			return nil, err
		}
		return SessionEnded{eventHeader: header, Reason: p.Reason}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, stored.EventType)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp accepts RFC 3339 and zone-less ISO-8601 (read as UTC).
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
