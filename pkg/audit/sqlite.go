// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jllopis/tempo/pkg/errors"
	"github.com/jllopis/tempo/pkg/resilience"
)

// SQLiteStore persists audit events in SQLite.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

// NewSQLiteStore creates a SQLite-backed audit store on db and ensures the
// schema. The caller keeps ownership of db.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New(errors.CodeInvalidInput, "db is nil", nil)
	}
	if err := ensureSchema(ctx, db); err != nil {
		return nil, errors.New(errors.CodeStorage, "create audit schema", err).WithRecoverable(true)
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLite opens dsn with the pure-Go SQLite driver and prepares the schema,
// retrying while the database is busy.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "sqlite audit store needs a dsn", nil)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "open sqlite", err).WithContext("dsn", dsn)
	}

	var store *SQLiteStore
	err = resilience.DefaultRetryConfig().Do(ctx, func() error {
		if err := db.PingContext(ctx); err != nil {
			return errors.New(errors.CodeStorage, "ping sqlite", err).WithRecoverable(true)
		}
		s, err := NewSQLiteStore(ctx, db)
		store = s
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// Close releases the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Record stores a single audit event.
func (s *SQLiteStore) Record(ctx context.Context, event Event) error {
	detail, err := encodeDetail(event.Detail)
	if err != nil {
		return errors.New(errors.CodeInvalidInput, "encode audit detail", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tempo_audit_events (
			session_id, tick, game_time, kind, from_intention, to_intention, score, weight, detail_json, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.SessionID,
		int64(event.Tick),
		event.Time,
		string(event.Kind),
		event.From,
		event.To,
		event.Score,
		event.Weight,
		string(detail),
		normalizeTime(event.RecordedAt).UnixNano(),
	)
	if err != nil {
		return errors.New(errors.CodeStorage, "insert audit event", err).WithRecoverable(true)
	}
	return nil
}

// List returns audit events matching the filter in recording order.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT session_id, tick, game_time, kind, from_intention, to_intention, score, weight, detail_json, recorded_at
		FROM tempo_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, values ...any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, values...)
	}
	if filter.SessionID != "" {
		addFilter("session_id = ?", filter.SessionID)
	}
	if filter.Kind != "" {
		addFilter("kind = ?", string(filter.Kind))
	}
	if filter.Intention != "" {
		addFilter("(from_intention = ? OR to_intention = ?)", filter.Intention, filter.Intention)
	}
	query += where + " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "query audit events", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event      Event
			tick       int64
			kind       string
			detailJSON sql.NullString
			recorded   int64
		)
		if err := rows.Scan(
			&event.SessionID,
			&tick,
			&event.Time,
			&kind,
			&event.From,
			&event.To,
			&event.Score,
			&event.Weight,
			&detailJSON,
			&recorded,
		); err != nil {
			return nil, errors.New(errors.CodeStorage, "scan audit event", err)
		}
		event.Tick = uint64(tick)
		event.Kind = Kind(kind)
		if detailJSON.Valid {
			if detail, err := decodeDetail([]byte(detailJSON.String)); err == nil {
				event.Detail = detail
			}
		}
		event.RecordedAt = time.Unix(0, recorded).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeStorage, "read audit events", err)
	}
	return events, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tempo_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			game_time REAL NOT NULL,
			kind TEXT NOT NULL,
			from_intention TEXT NOT NULL DEFAULT '',
			to_intention TEXT NOT NULL DEFAULT '',
			score REAL NOT NULL DEFAULT 0,
			weight REAL NOT NULL DEFAULT 0,
			detail_json TEXT,
			recorded_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tempo_audit_session ON tempo_audit_events(session_id);
		CREATE INDEX IF NOT EXISTS idx_tempo_audit_kind ON tempo_audit_events(kind);
		CREATE INDEX IF NOT EXISTS idx_tempo_audit_from ON tempo_audit_events(from_intention);
		CREATE INDEX IF NOT EXISTS idx_tempo_audit_to ON tempo_audit_events(to_intention);
	`)
	return err
}
