package eventstore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInvalidPathComponent is returned when an id contains unsafe characters.
var ErrInvalidPathComponent = errors.New("invalid path component: contains path separator or traversal sequence")

// validatePathComponent checks that a string is safe to use as a path component.
func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("path component cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidPathComponent
	}
	return nil
}

// FileStore implements Store using JSONL files. It serializes appends with
// a process-local lock, so it is only safe for a single process.
// Storage layout:
//
//	~/.agentcore/events/
//	  ├── streams/
//	  │   └── <aggregate-id>.jsonl   # one StoredEvent per line, by version
//	  └── types/
//	      └── <event-type>.jsonl     # {aggregate_id, version, timestamp} refs
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

type typeRef struct {
	AggregateID string    `json:"aggregate_id"`
	Version     int64     `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewFileStore creates a file-based event store.
// If baseDir is empty, uses ~/.agentcore/events.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".agentcore", "events")
	}

	for _, dir := range []string{"streams", "types"} {
		if err := os.MkdirAll(filepath.Join(baseDir, dir), 0700); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", dir, err)
		}
	}

	return &FileStore{baseDir: baseDir}, nil
}

func (f *FileStore) streamPath(aggregateID string) string {
	return filepath.Join(f.baseDir, "streams", aggregateID+".jsonl")
}

func (f *FileStore) typePath(eventType string) string {
	return filepath.Join(f.baseDir, "types", eventType+".jsonl")
}

// Append adds a batch of events for one aggregate.
func (f *FileStore) Append(ctx context.Context, aggregateID string, events []StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := ValidateBatch(aggregateID, events); err != nil {
		return err
	}
	if err := validatePathComponent(aggregateID); err != nil {
		return fmt.Errorf("invalid aggregate ID: %w", err)
	}
	for _, ev := range events {
		if err := validatePathComponent(ev.EventType); err != nil {
			return fmt.Errorf("invalid event type: %w", err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}

	current, err := f.readStreamUnlocked(aggregateID)
	if err != nil {
		return err
	}
	if err := CheckExpected(aggregateID, events, int64(len(current))); err != nil {
		return err
	}

	var buf []byte
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	if err := appendFile(f.streamPath(aggregateID), buf); err != nil {
		return fmt.Errorf("write events: %w", err)
	}

	for _, ev := range events {
		ref, err := json.Marshal(typeRef{AggregateID: aggregateID, Version: ev.Version, Timestamp: ev.Timestamp})
		if err != nil {
			return fmt.Errorf("marshal type ref: %w", err)
		}
		if err := appendFile(f.typePath(ev.EventType), append(ref, '\n')); err != nil {
			return fmt.Errorf("write type index: %w", err)
		}
	}
	return nil
}

// Events returns the aggregate's events with Version >= fromVersion.
func (f *FileStore) Events(ctx context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error) {
	if err := validatePathComponent(aggregateID); err != nil {
		return nil, fmt.Errorf("invalid aggregate ID: %w", err)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}

	stream, err := f.readStreamUnlocked(aggregateID)
	if err != nil {
		return nil, err
	}
	out := make([]StoredEvent, 0, len(stream))
	for _, ev := range stream {
		if ev.Version >= fromVersion {
			out = append(out, ev)
		}
	}
	return out, nil
}

// LatestVersion returns the aggregate's latest version.
func (f *FileStore) LatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	events, err := f.Events(ctx, aggregateID, 0)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	return events[len(events)-1].Version, nil
}

// EventsByType returns events of one type ordered by timestamp.
func (f *FileStore) EventsByType(ctx context.Context, eventType string, q TypeQuery) ([]StoredEvent, error) {
	if err := validatePathComponent(eventType); err != nil {
		return nil, fmt.Errorf("invalid event type: %w", err)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}

	var refs []typeRef
	err := scanLines(f.typePath(eventType), func(line []byte) error {
		var ref typeRef
		if err := json.Unmarshal(line, &ref); err != nil {
			return fmt.Errorf("parse type ref: %w", err)
		}
		if q.From.IsZero() || !ref.Timestamp.Before(q.From) {
			refs = append(refs, ref)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.AggregateID != b.AggregateID {
			return a.AggregateID < b.AggregateID
		}
		return a.Version < b.Version
	})
	if limit := q.EffectiveLimit(); len(refs) > limit {
		refs = refs[:limit]
	}

	streams := make(map[string][]StoredEvent)
	out := make([]StoredEvent, 0, len(refs))
	for _, ref := range refs {
		stream, ok := streams[ref.AggregateID]
		if !ok {
			stream, err = f.readStreamUnlocked(ref.AggregateID)
			if err != nil {
				return nil, err
			}
			streams[ref.AggregateID] = stream
		}
		if ref.Version >= 1 && ref.Version <= int64(len(stream)) {
			out = append(out, stream[ref.Version-1])
		}
	}
	return out, nil
}

// Close releases any resources held by the store.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

// readStreamUnlocked loads one aggregate's stream. Caller must hold a lock.
func (f *FileStore) readStreamUnlocked(aggregateID string) ([]StoredEvent, error) {
	events := make([]StoredEvent, 0)
	err := scanLines(f.streamPath(aggregateID), func(line []byte) error {
		var ev StoredEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("parse event: %w", err)
		}
		events = append(events, ev)
		return nil
	})
	return events, err
}

func appendFile(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 - path components validated to prevent traversal
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func scanLines(path string, fn func([]byte) error) error {
	file, err := os.Open(path) // #nosec G304 - path components validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", filepath.Base(path), err)
	}
	return nil
}
