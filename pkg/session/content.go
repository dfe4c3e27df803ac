package session

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ContentType tags the kind of a message body.
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypeAudio ContentType = "audio"
)

// Content is an immutable message body.
type Content struct {
	text     string
	kind     ContentType
	metadata map[string]any
}

// NewTextContent builds text content. Blank text fails with ErrEmptyContent.
func NewTextContent(text string) (Content, error) {
	if strings.TrimSpace(text) == "" {
		return Content{}, ErrEmptyContent
	}
	return Content{text: text, kind: ContentTypeText}, nil
}

// NewContent builds content of any type. Text content must not be blank;
// image and audio content may carry an empty text (for example a bare URL
// kept in metadata).
func NewContent(text string, kind ContentType, metadata map[string]any) (Content, error) {
	switch kind {
	case "", ContentTypeText:
		if strings.TrimSpace(text) == "" {
			return Content{}, ErrEmptyContent
		}
		kind = ContentTypeText
	case ContentTypeImage, ContentTypeAudio:
	default:
		return Content{}, fmt.Errorf("%w: %q", ErrInvalidContentType, kind)
	}
	return Content{text: text, kind: kind, metadata: cloneMap(metadata)}, nil
}

// restoreContent rebuilds content from a persisted event without validation:
// streams written before validation existed may hold blank text.
func restoreContent(text string, kind ContentType, metadata map[string]any) Content {
	if kind == "" {
		kind = ContentTypeText
	}
	return Content{text: text, kind: kind, metadata: cloneMap(metadata)}
}

// Text returns the content text.
func (c Content) Text() string { return c.text }

// Type returns the content type tag.
func (c Content) Type() ContentType { return c.kind }

// Metadata returns a copy of the content metadata (nil if none).
func (c Content) Metadata() map[string]any { return cloneMap(c.metadata) }

// Truncate returns content cut to maxLength runes plus "..." when the text
// is longer than maxLength; otherwise it returns c unchanged.
func (c Content) Truncate(maxLength int) Content {
	if maxLength < 0 {
		maxLength = 0
	}
	if utf8.RuneCountInString(c.text) <= maxLength {
		return c
	}
	runes := []rune(c.text)
	return Content{
		text:     string(runes[:maxLength]) + "...",
		kind:     c.kind,
		metadata: cloneMap(c.metadata),
	}
}

func (c Content) String() string { return c.text }
