// Package usage persists a per-request audit log (SQLite, pure-Go driver)
// feeding the admin stats surface. It is deliberately separate from the
// pool's own JSON-persisted per-day/per-model counters: the credentials
// file stays the single source of truth for pool state, while this store
// can grow, rotate, or be reset independently without touching it.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Kind distinguishes which surface a logged request came through.
type Kind string

const (
	KindMessages    Kind = "messages"
	KindCountTokens Kind = "count_tokens"
	KindBufferedCC  Kind = "cc_messages"
)

// Record is one logged request, written once the response (or failure) is
// final.
type Record struct {
	RequestID    string
	CredentialID int64
	UserID       string // pre-masked by the caller; never a raw API key
	Model        string
	Kind         Kind
	Success      bool
	ErrorKind    string // empty on success, else a retry.Kind string
	InputTokens  int64
	OutputTokens int64
	LatencyMS    int64
	CreatedAt    time.Time
}

// Store wraps the SQLite-backed audit log.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path and ensures the schema
// exists. Pass ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("usage: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("usage: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id    TEXT NOT NULL,
	credential_id INTEGER NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	kind          TEXT NOT NULL,
	success       INTEGER NOT NULL,
	error_kind    TEXT NOT NULL DEFAULT '',
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	latency_ms    INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests(created_at);
CREATE INDEX IF NOT EXISTS idx_requests_credential  ON requests(credential_id);
`

// RecordRequest appends one finished request to the log.
func (s *Store) RecordRequest(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (request_id, credential_id, user_id, model, kind, success, error_kind, input_tokens, output_tokens, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.CredentialID, r.UserID, r.Model, string(r.Kind), r.Success, r.ErrorKind,
		r.InputTokens, r.OutputTokens, r.LatencyMS, r.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// ModelTotals is one row of the per-model aggregate returned by Totals.
type ModelTotals struct {
	Model        string
	Requests     int64
	Failures     int64
	InputTokens  int64
	OutputTokens int64
}

// Totals aggregates request counts and token usage by model since the
// given time, for the admin stats surface.
func (s *Store) Totals(ctx context.Context, since time.Time) ([]ModelTotals, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model,
		       COUNT(*),
		       SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END),
		       SUM(input_tokens),
		       SUM(output_tokens)
		FROM requests
		WHERE created_at >= ?
		GROUP BY model
		ORDER BY model`,
		since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModelTotals
	for rows.Next() {
		var t ModelTotals
		if err := rows.Scan(&t.Model, &t.Requests, &t.Failures, &t.InputTokens, &t.OutputTokens); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CredentialTotals is one row of the per-credential aggregate.
type CredentialTotals struct {
	CredentialID int64
	Requests     int64
	Failures     int64
}

// ByCredential aggregates request counts by credential since the given
// time, for correlating pool-level failure counts with the audit log.
func (s *Store) ByCredential(ctx context.Context, since time.Time) ([]CredentialTotals, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT credential_id,
		       COUNT(*),
		       SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END)
		FROM requests
		WHERE created_at >= ?
		GROUP BY credential_id
		ORDER BY credential_id`,
		since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CredentialTotals
	for rows.Next() {
		var t CredentialTotals
		if err := rows.Scan(&t.CredentialID, &t.Requests, &t.Failures); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentFailures returns the most recent failed requests, newest first, for
// the admin dashboard's tail view.
func (s *Store) RecentFailures(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, credential_id, user_id, model, kind, success, error_kind, input_tokens, output_tokens, latency_ms, created_at
		FROM requests
		WHERE success = 0
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var createdAt string
		if err := rows.Scan(&r.RequestID, &r.CredentialID, &r.UserID, &r.Model, &r.Kind, &r.Success, &r.ErrorKind,
			&r.InputTokens, &r.OutputTokens, &r.LatencyMS, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Reset clears the entire audit log, implementing the admin stats/reset op.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM requests`)
	return err
}
