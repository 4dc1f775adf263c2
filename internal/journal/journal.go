// Package journal provides the SQLite-backed append-only event journal.
//
// Every state transition of the savings engine appends its events here.
// The journal assigns a monotonically increasing sequence number and a
// content hash to each event. Appends are idempotent by event key: the same
// key with the same content is accepted as a no-op, the same key with
// different content is rejected.
package journal

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgo/somi/api/internal/journal/migrations"
	"github.com/forgo/somi/api/internal/model"
	"golang.org/x/crypto/blake2b"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// ErrKeyConflict is returned when an event key is reused with other content
var ErrKeyConflict = errors.New("event key already recorded with different content")

// MaxPageSize caps a single ListEvents call
const MaxPageSize = 1000

// Store persists events in SQLite
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite journal and applies embedded migrations
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	dsn += "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps sequence assignment strictly ordered.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append records events in one transaction, in order
func (s *Store) Append(ctx context.Context, events ...model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("journal is not configured")
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	recordedAt := toMillis(s.now())
	for _, evt := range events {
		if strings.TrimSpace(evt.Key) == "" {
			return fmt.Errorf("event key is required")
		}
		if evt.Type == "" {
			return fmt.Errorf("event %s: type is required", evt.Key)
		}
		hash := ContentHash(evt)

		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (event_key, event_type, occurred_at, payload, hash, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			evt.Key,
			string(evt.Type),
			toMillis(evt.OccurredAt),
			[]byte(evt.Payload),
			hash,
			recordedAt,
		)
		if err == nil {
			continue
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("insert event %s: %w", evt.Key, err)
		}

		var existing string
		if err := tx.QueryRowContext(ctx, `SELECT hash FROM events WHERE event_key = ?`, evt.Key).Scan(&existing); err != nil {
			return fmt.Errorf("load event %s: %w", evt.Key, err)
		}
		if existing != hash {
			return fmt.Errorf("%w: %s", ErrKeyConflict, evt.Key)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// ListEvents returns up to limit events with seq greater than afterSeq
func (s *Store) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT seq, event_key, event_type, occurred_at, payload, hash
		 FROM events WHERE seq > ? ORDER BY seq ASC LIMIT ?`,
		int64(afterSeq), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]model.Event, 0, limit)
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// GetEvent returns an event by key, or nil when it is not recorded
func (s *Store) GetEvent(ctx context.Context, key string) (*model.Event, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT seq, event_key, event_type, occurred_at, payload, hash FROM events WHERE event_key = ?`,
		key,
	)
	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &evt, nil
}

// LastSeq returns the highest assigned sequence, 0 for an empty journal
func (s *Store) LastSeq(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// ContentHash is the hex BLAKE2b-256 digest of type, key, and payload
func ContentHash(evt model.Event) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(evt.Type))
	h.Write([]byte{0})
	h.Write([]byte(evt.Key))
	h.Write([]byte{0})
	h.Write(evt.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (model.Event, error) {
	var (
		seq        int64
		key        string
		eventType  string
		occurredAt int64
		payload    []byte
		hash       string
	)
	if err := row.Scan(&seq, &key, &eventType, &occurredAt, &payload, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Event{}, err
		}
		return model.Event{}, fmt.Errorf("scan event: %w", err)
	}
	return model.Event{
		Key:        key,
		Seq:        uint64(seq),
		Type:       model.EventType(eventType),
		OccurredAt: fromMillis(occurredAt),
		Payload:    payload,
		Hash:       hash,
	}, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
