package session

import "errors"

// Common errors for session operations.
var (
	// ErrSessionNotFound is returned when no event stream exists for a session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotActive is returned when mutating a session that has ended.
	ErrSessionNotActive = errors.New("session is not active")
	// ErrEmptyContent is returned when building text content from blank text.
	ErrEmptyContent = errors.New("content cannot be empty")
	// ErrInvalidContentType is returned for an unknown content type tag.
	ErrInvalidContentType = errors.New("invalid content type")
	// ErrUnknownEventType is returned when decoding an unrecognized event.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrCorruptStream is returned when a persisted stream cannot be replayed.
	ErrCorruptStream = errors.New("corrupt event stream")
)
