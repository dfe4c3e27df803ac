package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on SQLite.
// (aggregate_id, version) is the primary key, so even two writers that both
// pass the version check cannot persist the same version twice.
type SQLiteStore struct {
	db     *sql.DB
	opts   options
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) a SQLite database and migrates the schema.
func NewSQLiteStore(dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db, opts: applyOptions(opts)}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

// sqliteDSN adds the connection parameters the store relies on. Write
// transactions take the lock up front (BEGIN IMMEDIATE) so two appenders
// serialize on the busy timeout instead of failing a lock upgrade.
func sqliteDSN(dsn string) string {
	params := []string{"_txlock=immediate", "_busy_timeout=5000"}
	if dsn != ":memory:" && !strings.Contains(dsn, "mode=memory") {
		params = append(params, "_journal_mode=WAL")
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range params {
		name := p[:strings.IndexByte(p, '=')+1]
		if strings.Contains(dsn, name) {
			continue
		}
		dsn += sep + p
		sep = "&"
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" && !strings.HasPrefix(dsn, ":memory:?") {
		dsn = "file:" + dsn
	}
	return dsn
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			aggregate_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			aggregate_type TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_data TEXT NOT NULL,
			ts INTEGER NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (aggregate_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(event_type, ts)`,
		`CREATE TABLE IF NOT EXISTS outbox (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			record TEXT NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStorageClosed
	}
	return nil
}

// Append adds a batch of events for one aggregate inside one transaction.
func (s *SQLiteStore) Append(ctx context.Context, aggregateID string, events []StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := ValidateBatch(aggregateID, events); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`, aggregateID,
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("read latest version: %w", err)
	}
	if err := CheckExpected(aggregateID, events, current); err != nil {
		return err
	}

	for _, ev := range events {
		meta, err := json.Marshal(nonNilMeta(ev.Metadata))
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (aggregate_id, version, aggregate_type, event_type, event_data, ts, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			aggregateID, ev.Version, ev.AggregateType, ev.EventType, string(ev.EventData),
			ev.Timestamp.UnixNano(), string(meta),
		)
		if err != nil {
			if isConstraintErr(err) {
				return &ConcurrencyError{AggregateID: aggregateID, Expected: events[0].Version - 1, Actual: ev.Version}
			}
			return fmt.Errorf("insert event: %w", err)
		}

		if s.opts.outbox {
			rec, err := json.Marshal(OutboxRecord{ID: OutboxID(ev), Event: ev})
			if err != nil {
				return fmt.Errorf("marshal outbox record: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO outbox (id, record) VALUES (?, ?)`, OutboxID(ev), string(rec),
			); err != nil {
				return fmt.Errorf("insert outbox record: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		if isConstraintErr(err) {
			return &ConcurrencyError{AggregateID: aggregateID, Expected: events[0].Version - 1, Actual: current}
		}
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// Events returns the aggregate's events with Version >= fromVersion.
func (s *SQLiteStore) Events(ctx context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT aggregate_id, version, aggregate_type, event_type, event_data, ts, metadata
		 FROM events WHERE aggregate_id = ? AND version >= ? ORDER BY version ASC`,
		aggregateID, fromVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LatestVersion returns the aggregate's latest version.
func (s *SQLiteStore) LatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`, aggregateID,
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read latest version: %w", err)
	}
	return v, nil
}

// EventsByType returns events of one type ordered by timestamp.
func (s *SQLiteStore) EventsByType(ctx context.Context, eventType string, q TypeQuery) ([]StoredEvent, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var from int64
	if !q.From.IsZero() {
		from = q.From.UnixNano()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT aggregate_id, version, aggregate_type, event_type, event_data, ts, metadata
		 FROM events WHERE event_type = ? AND ts >= ?
		 ORDER BY ts ASC, aggregate_id ASC, version ASC LIMIT ?`,
		eventType, from, q.EffectiveLimit(),
	)
	if err != nil {
		return nil, fmt.Errorf("query events by type: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// PendingOutbox returns up to limit unacknowledged records.
func (s *SQLiteStore) PendingOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `SELECT record FROM outbox ORDER BY seq ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	records := make([]OutboxRecord, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}
		var rec OutboxRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal outbox record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AckOutbox removes delivered records.
func (s *SQLiteStore) AckOutbox(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("ack outbox: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanEvents(rows *sql.Rows) ([]StoredEvent, error) {
	events := make([]StoredEvent, 0)
	for rows.Next() {
		var (
			ev         StoredEvent
			data, meta string
			ts         int64
		)
		if err := rows.Scan(&ev.AggregateID, &ev.Version, &ev.AggregateType, &ev.EventType, &data, &ts, &meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.EventData = json.RawMessage(data)
		ev.Timestamp = time.Unix(0, ts).UTC()
		if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func nonNilMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
