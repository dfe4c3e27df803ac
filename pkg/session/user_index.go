package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// UserIndex is a read-side projection from user to the sessions they started.
// It is maintained by the repository after each successful save.
type UserIndex interface {
	// Add records that userID owns sessionID. Adding twice is harmless.
	Add(ctx context.Context, userID UserID, sessionID SessionID) error
	// SessionIDs returns the user's session ids in a stable order.
	SessionIDs(ctx context.Context, userID UserID) ([]SessionID, error)
}

// MemoryUserIndex implements UserIndex in process memory.
type MemoryUserIndex struct {
	mu    sync.RWMutex
	users map[UserID]map[SessionID]struct{}
}

// NewMemoryUserIndex creates an empty in-memory index.
func NewMemoryUserIndex() *MemoryUserIndex {
	return &MemoryUserIndex{users: make(map[UserID]map[SessionID]struct{})}
}

// Add implements UserIndex.
func (m *MemoryUserIndex) Add(ctx context.Context, userID UserID, sessionID SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.users[userID]
	if !ok {
		set = make(map[SessionID]struct{})
		m.users[userID] = set
	}
	set[sessionID] = struct{}{}
	return nil
}

// SessionIDs implements UserIndex.
func (m *MemoryUserIndex) SessionIDs(ctx context.Context, userID UserID) ([]SessionID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]SessionID, 0, len(m.users[userID]))
	for id := range m.users[userID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// RedisUserIndex implements UserIndex with one Redis set per user.
type RedisUserIndex struct {
	client *redis.Client
	prefix string
}

const defaultUserIndexPrefix = "agentcore:index:"

// NewRedisUserIndex creates an index on an existing client.
func NewRedisUserIndex(client *redis.Client, prefix string) *RedisUserIndex {
	if prefix == "" {
		prefix = defaultUserIndexPrefix
	}
	return &RedisUserIndex{client: client, prefix: prefix}
}

func (r *RedisUserIndex) userIndexKey(userID UserID) string {
	return r.prefix + "user:" + string(userID)
}

// Add implements UserIndex.
func (r *RedisUserIndex) Add(ctx context.Context, userID UserID, sessionID SessionID) error {
	if err := r.client.SAdd(ctx, r.userIndexKey(userID), string(sessionID)).Err(); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

// SessionIDs implements UserIndex.
func (r *RedisUserIndex) SessionIDs(ctx context.Context, userID UserID) ([]SessionID, error) {
	members, err := r.client.SMembers(ctx, r.userIndexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}

	// Sort for deterministic results (Redis sets are unordered)
	sort.Strings(members)

	ids := make([]SessionID, len(members))
	for i, m := range members {
		ids[i] = SessionID(m)
	}
	return ids, nil
}
