// Package store persists delivered engagement events for the collector in
// a SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/large-farva/sightline/internal/telemetry"
)

// ErrInvalidEvent is returned when a batch fails validation. Nothing from
// the batch is stored.
var ErrInvalidEvent = errors.New("invalid event")

// Store is the collector's event table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Stats summarises the stored events.
type Stats struct {
	Events       int64            `json:"events"`
	Sessions     int64            `json:"sessions"`
	Sites        int64            `json:"sites"`
	ByType       map[string]int64 `json:"by_type"`
	LastReceived string           `json:"last_received,omitempty"`
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", cleanPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS engagement_events(
	  id          INTEGER PRIMARY KEY,
	  site        TEXT    NOT NULL,
	  session_id  TEXT    NOT NULL,
	  event_type  TEXT    NOT NULL CHECK (event_type IN ('view','view-end','interaction','scroll-depth','dwell')),
	  target      TEXT    NOT NULL,
	  occurred_at TEXT    NOT NULL,
	  occurred_ms INTEGER NOT NULL,
	  meta        TEXT    NOT NULL CHECK (json_valid(meta)),
	  received_at TEXT    NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_engagement_occurred ON engagement_events(occurred_ms);
	CREATE INDEX IF NOT EXISTS idx_engagement_session  ON engagement_events(session_id);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// Validate checks a batch without storing it.
func Validate(b telemetry.Batch) error {
	if b.Site == "" {
		return fmt.Errorf("%w: missing site", ErrInvalidEvent)
	}
	if b.SessionID == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidEvent)
	}
	if len(b.Events) == 0 {
		return fmt.Errorf("%w: events must be a non-empty list", ErrInvalidEvent)
	}
	for i, ev := range b.Events {
		if !ev.Type.Valid() {
			return fmt.Errorf("%w: event #%d has unknown type %q", ErrInvalidEvent, i, ev.Type)
		}
		if ev.Target == "" {
			return fmt.Errorf("%w: missing target in event #%d", ErrInvalidEvent, i)
		}
		if ev.At != "" {
			if _, err := telemetry.ParseTS(ev.At); err != nil {
				return fmt.Errorf("%w: event #%d timestamp %q", ErrInvalidEvent, i, ev.At)
			}
		}
	}
	return nil
}

// InsertBatch stores every event of b in one transaction and returns the
// stored rows in order. Events without a timestamp are stamped with the
// receive time.
func (s *Store) InsertBatch(ctx context.Context, b telemetry.Batch) ([]telemetry.StoredEvent, error) {
	if err := Validate(b); err != nil {
		return nil, err
	}

	received := s.now().UTC()
	receivedAt := telemetry.FormatTS(received)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO engagement_events(
	  site, session_id, event_type, target, occurred_at, occurred_ms, meta, received_at
	) VALUES (?,?,?,?,?,?,json(?),?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	out := make([]telemetry.StoredEvent, 0, len(b.Events))
	for _, ev := range b.Events {
		occurred := received
		if ev.At != "" {
			occurred, _ = telemetry.ParseTS(ev.At)
		}
		meta := ev.Meta
		if meta == nil {
			meta = telemetry.Meta{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshal meta: %w", err)
		}

		occurredAt := telemetry.FormatTS(occurred)
		res, err := stmt.ExecContext(ctx,
			b.Site, b.SessionID, string(ev.Type), ev.Target,
			occurredAt, occurred.UnixMilli(), string(metaJSON), receivedAt)
		if err != nil {
			return nil, fmt.Errorf("insert event: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert event: %w", err)
		}
		out = append(out, telemetry.StoredEvent{
			ID:         id,
			EventType:  ev.Type,
			Target:     ev.Target,
			Meta:       meta,
			Site:       b.Site,
			SessionID:  b.SessionID,
			OccurredAt: occurredAt,
			ReceivedAt: receivedAt,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return out, nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]telemetry.StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
	  id, event_type, target, meta, site, session_id, occurred_at, received_at
	FROM engagement_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	out := []telemetry.StoredEvent{}
	for rows.Next() {
		var ev telemetry.StoredEvent
		var typ, metaJSON string
		if err := rows.Scan(&ev.ID, &typ, &ev.Target, &metaJSON,
			&ev.Site, &ev.SessionID, &ev.OccurredAt, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.EventType = telemetry.EventType(typ)
		if err := json.Unmarshal([]byte(metaJSON), &ev.Meta); err != nil {
			return nil, fmt.Errorf("decode meta of event %d: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Stats counts stored events, sessions and sites.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByType: map[string]int64{}}

	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT
	  COUNT(*), COUNT(DISTINCT session_id), COUNT(DISTINCT site), MAX(received_at)
	FROM engagement_events`).Scan(&st.Events, &st.Sessions, &st.Sites, &last)
	if err != nil {
		return st, fmt.Errorf("query stats: %w", err)
	}
	st.LastReceived = last.String

	rows, err := s.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM engagement_events GROUP BY event_type`)
	if err != nil {
		return st, fmt.Errorf("query stats by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return st, fmt.Errorf("scan stats: %w", err)
		}
		st.ByType[typ] = n
	}
	return st, rows.Err()
}
