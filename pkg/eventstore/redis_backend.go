package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using Redis.
// Storage layout (all keys carry the configured prefix):
//
//	stream:<aggregate-id>   LIST of JSON events, index i holds version i+1
//	type:<event-type>       ZSET of "<aggregate-id>:<version>" scored by timestamp (µs)
//	outbox:ids              LIST of pending outbox ids, oldest first
//	outbox:records          HASH of outbox id -> JSON record
//
// Appends run under WATCH on the stream key, so a concurrent writer aborts
// the transaction and the loser sees a *ConcurrencyError.
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   options
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all event keys (default: "agentcore:events:").
	Prefix string
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

const defaultRedisPrefix = "agentcore:events:"

// NewRedisStore creates a new Redis event store.
func NewRedisStore(cfg RedisConfig, opts ...Option) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.Prefix, opts...), nil
}

// NewRedisStoreFromClient creates a Redis store from an existing client.
// This is useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, opts ...Option) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		opts:   applyOptions(opts),
	}
}

// Key helpers
func (b *RedisStore) streamKey(aggregateID string) string {
	return b.prefix + "stream:" + aggregateID
}

func (b *RedisStore) typeKey(eventType string) string {
	return b.prefix + "type:" + eventType
}

func (b *RedisStore) outboxIDsKey() string {
	return b.prefix + "outbox:ids"
}

func (b *RedisStore) outboxRecordsKey() string {
	return b.prefix + "outbox:records"
}

func (b *RedisStore) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// Append adds a batch of events for one aggregate.
func (b *RedisStore) Append(ctx context.Context, aggregateID string, events []StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := ValidateBatch(aggregateID, events); err != nil {
		return err
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	payloads := make([][]byte, len(events))
	records := make([][]byte, len(events))
	for i, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		payloads[i] = data

		if b.opts.outbox {
			rec, err := json.Marshal(OutboxRecord{ID: OutboxID(ev), Event: ev})
			if err != nil {
				return fmt.Errorf("marshal outbox record: %w", err)
			}
			records[i] = rec
		}
	}

	key := b.streamKey(aggregateID)
	txf := func(tx *redis.Tx) error {
		current, err := tx.LLen(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("read latest version: %w", err)
		}
		if err := CheckExpected(aggregateID, events, current); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, ev := range events {
				pipe.RPush(ctx, key, payloads[i])
				pipe.ZAdd(ctx, b.typeKey(ev.EventType), redis.Z{
					Score:  float64(ev.Timestamp.UnixMicro()),
					Member: typeMember(aggregateID, ev.Version),
				})
				if b.opts.outbox {
					id := OutboxID(ev)
					pipe.HSet(ctx, b.outboxRecordsKey(), id, records[i])
					pipe.RPush(ctx, b.outboxIDsKey(), id)
				}
			}
			return nil
		})
		return err
	}

	err := b.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		actual, lerr := b.client.LLen(ctx, key).Result()
		if lerr != nil {
			actual = -1
		}
		return &ConcurrencyError{AggregateID: aggregateID, Expected: events[0].Version - 1, Actual: actual}
	}
	if err != nil {
		var conflict *ConcurrencyError
		if errors.As(err, &conflict) {
			return err
		}
		return fmt.Errorf("append events: %w", err)
	}
	return nil
}

// Events returns the aggregate's events with Version >= fromVersion.
func (b *RedisStore) Events(ctx context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	start := fromVersion - 1
	if start < 0 {
		start = 0
	}

	data, err := b.client.LRange(ctx, b.streamKey(aggregateID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	events := make([]StoredEvent, 0, len(data))
	for _, d := range data {
		var ev StoredEvent
		if err := json.Unmarshal([]byte(d), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// LatestVersion returns the aggregate's latest version.
// Versions are dense from 1, so the stream length is the latest version.
func (b *RedisStore) LatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}

	n, err := b.client.LLen(ctx, b.streamKey(aggregateID)).Result()
	if err != nil {
		return 0, fmt.Errorf("read latest version: %w", err)
	}
	return n, nil
}

// EventsByType returns events of one type ordered by timestamp.
func (b *RedisStore) EventsByType(ctx context.Context, eventType string, q TypeQuery) ([]StoredEvent, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	minScore := "-inf"
	if !q.From.IsZero() {
		minScore = strconv.FormatInt(q.From.UnixMicro(), 10)
	}

	members, err := b.client.ZRangeByScore(ctx, b.typeKey(eventType), &redis.ZRangeBy{
		Min:   minScore,
		Max:   "+inf",
		Count: int64(q.EffectiveLimit()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan event type: %w", err)
	}

	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(members))
	for _, m := range members {
		aggregateID, version, err := parseTypeMember(m)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, pipe.LIndex(ctx, b.streamKey(aggregateID), version-1))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load typed events: %w", err)
	}

	events := make([]StoredEvent, 0, len(cmds))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load typed event: %w", err)
		}
		var ev StoredEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// PendingOutbox returns up to limit unacknowledged records.
func (b *RedisStore) PendingOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := b.client.LRange(ctx, b.outboxIDsKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	if len(ids) == 0 {
		return []OutboxRecord{}, nil
	}

	values, err := b.client.HMGet(ctx, b.outboxRecordsKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load outbox records: %w", err)
	}

	records := make([]OutboxRecord, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec OutboxRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal outbox record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// AckOutbox removes delivered records.
func (b *RedisStore) AckOutbox(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	pipe := b.client.TxPipeline()
	pipe.HDel(ctx, b.outboxRecordsKey(), ids...)
	for _, id := range ids {
		pipe.LRem(ctx, b.outboxIDsKey(), 1, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack outbox: %w", err)
	}
	return nil
}

// Close releases resources held by the store.
func (b *RedisStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.client.Close()
}

// Ping checks if the Redis connection is alive.
func (b *RedisStore) Ping(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.client.Ping(ctx).Err()
}

func typeMember(aggregateID string, version int64) string {
	return aggregateID + ":" + strconv.FormatInt(version, 10)
}

func parseTypeMember(member string) (string, int64, error) {
	i := strings.LastIndexByte(member, ':')
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed type index member %q", member)
	}
	version, err := strconv.ParseInt(member[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed type index member %q: %w", member, err)
	}
	return member[:i], version, nil
}
