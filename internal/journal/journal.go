// Package journal keeps a local SQLite history of dispatch passes and
// handled commands for the status pages.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Dispatch outcomes.
const (
	OutcomeSent       = "sent"
	OutcomeNoData     = "no_data"
	OutcomeWifiFail   = "wifi_failed"
	OutcomeBrokerFail = "broker_failed"
	OutcomeAborted    = "aborted"
)

// Dispatch is one sync pass.
type Dispatch struct {
	ID       int64     `json:"id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Sent     int       `json:"sent"`
	Cursor   uint32    `json:"cursor"`
	Outcome  string    `json:"outcome"`
	Detail   string    `json:"detail,omitempty"`
}

// Command is one handled inbound message.
type Command struct {
	ID       int64     `json:"id"`
	At       time.Time `json:"at"`
	Topic    string    `json:"topic"`
	Payload  string    `json:"payload"`
	Response string    `json:"response,omitempty"`
	Err      string    `json:"error,omitempty"`
}

// Journal wraps the SQLite database.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dispatches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started DATETIME NOT NULL,
		finished DATETIME NOT NULL,
		sent INTEGER NOT NULL,
		cursor INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_dispatches_started ON dispatches(started);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at DATETIME NOT NULL,
		topic TEXT NOT NULL,
		payload TEXT NOT NULL,
		response TEXT,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_commands_at ON commands(at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// RecordDispatch appends a pass.
func (j *Journal) RecordDispatch(ctx context.Context, d Dispatch) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO dispatches (started, finished, sent, cursor, outcome, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		d.Started.UTC(), d.Finished.UTC(), d.Sent, d.Cursor, d.Outcome, d.Detail)
	if err != nil {
		return fmt.Errorf("journal: record dispatch: %w", err)
	}
	return nil
}

// RecordCommand appends a handled command.
func (j *Journal) RecordCommand(ctx context.Context, c Command) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO commands (at, topic, payload, response, error) VALUES (?, ?, ?, ?, ?)`,
		c.At.UTC(), c.Topic, c.Payload, c.Response, c.Err)
	if err != nil {
		return fmt.Errorf("journal: record command: %w", err)
	}
	return nil
}

// Dispatches returns the most recent passes, newest first.
func (j *Journal) Dispatches(ctx context.Context, limit int) ([]Dispatch, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, started, finished, sent, cursor, outcome, COALESCE(detail, '')
		 FROM dispatches ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query dispatches: %w", err)
	}
	defer rows.Close()

	var out []Dispatch
	for rows.Next() {
		var d Dispatch
		if err := rows.Scan(&d.ID, &d.Started, &d.Finished, &d.Sent, &d.Cursor, &d.Outcome, &d.Detail); err != nil {
			return nil, fmt.Errorf("journal: scan dispatch: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Commands returns the most recent commands, newest first.
func (j *Journal) Commands(ctx context.Context, limit int) ([]Command, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, at, topic, payload, COALESCE(response, ''), COALESCE(error, '')
		 FROM commands ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query commands: %w", err)
	}
	defer rows.Close()

	var out []Command
	for rows.Next() {
		var c Command
		if err := rows.Scan(&c.ID, &c.At, &c.Topic, &c.Payload, &c.Response, &c.Err); err != nil {
			return nil, fmt.Errorf("journal: scan command: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
