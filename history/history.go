// Package history keeps a SQLite log of poll cycles and dispatched
// notifications. It implements watch.Recorder; the admin API and MCP tools
// read it back with Recent.
//
// The log is advisory: a failed write is logged and never fails the cycle
// that produced it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/yu320/NBot/dbopen"
	"github.com/yu320/NBot/idgen"
	"github.com/yu320/NBot/watch"
)

// Schema is the DDL applied by Open.
const Schema = `
CREATE TABLE IF NOT EXISTS cycles (
    cycle_id      TEXT PRIMARY KEY,
    domain        TEXT NOT NULL,
    started       INTEGER NOT NULL,
    duration_ms   INTEGER NOT NULL,
    targets       INTEGER NOT NULL,
    checked       INTEGER NOT NULL,
    skipped       INTEGER NOT NULL,
    fetch_errors  INTEGER NOT NULL,
    changed       INTEGER NOT NULL,
    notify_errors INTEGER NOT NULL,
    saved         INTEGER NOT NULL,
    aborted       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycles_domain_time ON cycles(domain, started DESC);

CREATE TABLE IF NOT EXISTS notifications (
    notification_id TEXT PRIMARY KEY,
    domain          TEXT NOT NULL,
    target          TEXT NOT NULL,
    old_state       TEXT NOT NULL,
    new_state       TEXT NOT NULL,
    delivered       INTEGER NOT NULL,
    error           TEXT,
    at              INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_domain_time ON notifications(domain, at DESC);
`

// Cycle is one recorded poll cycle.
type Cycle struct {
	ID           string        `json:"id"`
	Domain       string        `json:"domain"`
	Started      time.Time     `json:"started"`
	Duration     time.Duration `json:"duration"`
	Targets      int           `json:"targets"`
	Checked      int           `json:"checked"`
	Skipped      int           `json:"skipped"`
	FetchErrors  int           `json:"fetch_errors"`
	Changed      int           `json:"changed"`
	NotifyErrors int           `json:"notify_errors"`
	Saved        bool          `json:"saved"`
	Aborted      bool          `json:"aborted"`
}

// Notification is one recorded state-change announcement.
type Notification struct {
	ID        string    `json:"id"`
	Domain    string    `json:"domain"`
	Target    string    `json:"target"`
	Old       string    `json:"old"`
	New       string    `json:"new"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Page is what Recent returns.
type Page struct {
	Cycles        []Cycle        `json:"cycles"`
	Notifications []Notification `json:"notifications"`
}

// Store is the history database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ watch.Recorder = (*Store)(nil)

// Open opens or creates the history database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an open database. The schema must already be applied.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// RecordCycle implements watch.Recorder.
func (s *Store) RecordCycle(ctx context.Context, r watch.Report) {
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO cycles (cycle_id, domain, started, duration_ms, targets, checked, skipped, fetch_errors, changed, notify_errors, saved, aborted)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		idgen.Cycle(), r.Domain, r.Started.UnixMilli(), r.Duration.Milliseconds(),
		r.Targets, r.Checked, r.Skipped, r.FetchErrors, r.Changed, r.NotifyErrors, r.Saved, r.Aborted)
	if err != nil {
		s.logger.Warn("history: record cycle", "domain", r.Domain, "error", err)
	}
}

// RecordNotification implements watch.Recorder.
func (s *Store) RecordNotification(ctx context.Context, n watch.Notification) {
	var errText sql.NullString
	if n.Err != nil {
		errText = sql.NullString{String: n.Err.Error(), Valid: true}
	}
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO notifications (notification_id, domain, target, old_state, new_state, delivered, error, at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		idgen.Notification(), n.Domain, n.Target, n.Old.String(), n.New.String(), n.Err == nil, errText, n.At.UnixMilli())
	if err != nil {
		s.logger.Warn("history: record notification", "domain", n.Domain, "target", n.Target, "error", err)
	}
}

// Recent returns the newest cycles and notifications, newest first. An
// empty domain means every domain. limit <= 0 means 50.
func (s *Store) Recent(ctx context.Context, domain string, limit int) (Page, error) {
	if limit <= 0 {
		limit = 50
	}
	var page Page

	rows, err := s.db.QueryContext(ctx,
		`SELECT cycle_id, domain, started, duration_ms, targets, checked, skipped, fetch_errors, changed, notify_errors, saved, aborted
		 FROM cycles WHERE (? = '' OR domain = ?) ORDER BY started DESC, cycle_id DESC LIMIT ?`, domain, domain, limit)
	if err != nil {
		return page, fmt.Errorf("history: query cycles: %w", err)
	}
	for rows.Next() {
		var (
			c           Cycle
			started, ms int64
		)
		if err := rows.Scan(&c.ID, &c.Domain, &started, &ms, &c.Targets, &c.Checked, &c.Skipped,
			&c.FetchErrors, &c.Changed, &c.NotifyErrors, &c.Saved, &c.Aborted); err != nil {
			rows.Close()
			return page, fmt.Errorf("history: scan cycle: %w", err)
		}
		c.Started = time.UnixMilli(started)
		c.Duration = time.Duration(ms) * time.Millisecond
		page.Cycles = append(page.Cycles, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return page, fmt.Errorf("history: cycles: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT notification_id, domain, target, old_state, new_state, delivered, error, at
		 FROM notifications WHERE (? = '' OR domain = ?) ORDER BY at DESC, notification_id DESC LIMIT ?`, domain, domain, limit)
	if err != nil {
		return page, fmt.Errorf("history: query notifications: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			n       Notification
			errText sql.NullString
			at      int64
		)
		if err := rows.Scan(&n.ID, &n.Domain, &n.Target, &n.Old, &n.New, &n.Delivered, &errText, &at); err != nil {
			return page, fmt.Errorf("history: scan notification: %w", err)
		}
		n.Error = errText.String
		n.At = time.UnixMilli(at)
		page.Notifications = append(page.Notifications, n)
	}
	return page, rows.Err()
}

// Cleanup deletes rows older than retentionDays and returns how many were
// removed.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	var total int64
	for _, q := range []string{
		`DELETE FROM cycles WHERE started < ?`,
		`DELETE FROM notifications WHERE at < ?`,
	} {
		res, err := dbopen.Exec(ctx, s.db, q, cutoff)
		if err != nil {
			return total, fmt.Errorf("history: cleanup: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
