// File: internal/journal/journal.go
// Brief: sqlite-backed run history fed by engine events.

// Package journal records every deployment run, its units and its events in a
// local sqlite database so past runs can be inspected with `mgnctl runs`.
// The checkpoint documents stay the source of truth for what is deployed.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/mgnctl/internal/engine"
)

const DefaultPath = ".mgnctl/state.sqlite"

const writeTimeout = 3 * time.Second

type Store struct {
	db       *sql.DB
	path     string
	readOnly bool

	mu sync.Mutex
	// runs with at least one failure event, reset when the run completes
	degraded map[string]bool
	err      error
}

// Open opens (creating when writable) the journal at path.
func Open(path string, readOnly bool) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if readOnly {
		if _, err := os.Stat(abs); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}

	dsn := abs
	if readOnly {
		u := url.URL{Scheme: "file", Path: abs}
		q := u.Query()
		q.Set("mode", "ro")
		q.Set("_busy_timeout", "5000")
		u.RawQuery = q.Encode()
		dsn = u.String()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, path: abs, readOnly: readOnly, degraded: map[string]bool{}}
	if !readOnly {
		if err := s.initSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Err returns the first write error seen by ObserveEvent.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS mgnctl_runs (
  run_id TEXT PRIMARY KEY,
  task TEXT NOT NULL,
  env TEXT NOT NULL,
  status TEXT NOT NULL,
  created_at_ns INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL,
  summary TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS mgnctl_units (
  run_id TEXT NOT NULL,
  unit TEXT NOT NULL,
  status TEXT NOT NULL,
  artifact_id TEXT NOT NULL,
  error TEXT NOT NULL,
  PRIMARY KEY (run_id, unit),
  FOREIGN KEY (run_id) REFERENCES mgnctl_runs(run_id) ON DELETE CASCADE
);`,
		`
CREATE TABLE IF NOT EXISTS mgnctl_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  ts_ns INTEGER NOT NULL,
  unit TEXT NOT NULL,
  action TEXT NOT NULL,
  type TEXT NOT NULL,
  message TEXT NOT NULL,
  artifact_id TEXT NOT NULL,
  error_class TEXT NOT NULL,
  error_message TEXT NOT NULL,
  FOREIGN KEY (run_id) REFERENCES mgnctl_runs(run_id) ON DELETE CASCADE
);`,
		`CREATE INDEX IF NOT EXISTS idx_mgnctl_events_run_id_id ON mgnctl_events(run_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// ObserveEvent implements engine.Observer. Write failures never interrupt a
// run; the first one is kept for Err.
func (s *Store) ObserveEvent(ev engine.Event) {
	if s == nil || s.readOnly {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.append(ctx, ev); err != nil {
		s.mu.Lock()
		if s.err == nil {
			s.err = fmt.Errorf("journal %s: %w", ev.Type, err)
		}
		s.mu.Unlock()
	}
}

func (s *Store) append(ctx context.Context, ev engine.Event) error {
	ts := ev.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	now := time.Now().UTC().UnixNano()

	if ev.Type == engine.RunStarted {
		if err := s.createRun(ctx, ev, ts); err != nil {
			return err
		}
	}

	errClass, errMsg := "", ""
	if ev.Error != nil {
		errClass = strings.TrimSpace(ev.Error.Class)
		errMsg = strings.TrimSpace(ev.Error.Message)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO mgnctl_events (run_id, ts_ns, unit, action, type, message, artifact_id, error_class, error_message)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, ev.RunID, ts.UnixNano(), ev.Unit, ev.Action, string(ev.Type), strings.TrimSpace(ev.Message), ev.ID, errClass, errMsg)
	if err != nil {
		return err
	}
	_, _ = s.db.ExecContext(ctx, `UPDATE mgnctl_runs SET updated_at_ns = ? WHERE run_id = ?`, now, ev.RunID)

	switch ev.Type {
	case engine.UnitDeployed, engine.UnitRehydrated:
		status := "deployed"
		if ev.Type == engine.UnitRehydrated {
			status = "recorded"
		}
		_, err = s.db.ExecContext(ctx, `
UPDATE mgnctl_units SET status = ?, artifact_id = ?, error = '' WHERE run_id = ? AND unit = ?
`, status, ev.ID, ev.RunID, ev.Unit)
	case engine.UnitFailed, engine.UnitSkipped:
		s.markDegraded(ev.RunID)
		status := "failed"
		if ev.Type == engine.UnitSkipped {
			status = "unresolved"
		}
		_, err = s.db.ExecContext(ctx, `
UPDATE mgnctl_units SET status = ?, error = ? WHERE run_id = ? AND unit = ?
`, status, errMsg, ev.RunID, ev.Unit)
	case engine.ActionFailed, engine.PersistFailed:
		s.markDegraded(ev.RunID)
	case engine.RunCompleted:
		status := "succeeded"
		if s.takeDegraded(ev.RunID) {
			status = "partial"
		}
		_, err = s.db.ExecContext(ctx, `UPDATE mgnctl_runs SET status = ?, summary = ?, updated_at_ns = ? WHERE run_id = ?`,
			status, strings.TrimSpace(ev.Message), now, ev.RunID)
	}
	return err
}

func (s *Store) createRun(ctx context.Context, ev engine.Event, ts time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO mgnctl_runs (run_id, task, env, status, created_at_ns, updated_at_ns, summary)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, ev.RunID, ev.Task, ev.Env, "running", ts.UnixNano(), ts.UnixNano(), "")
	if err != nil {
		return err
	}
	for _, unit := range strings.Split(ev.Message, ",") {
		unit = strings.TrimSpace(unit)
		if unit == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO mgnctl_units (run_id, unit, status, artifact_id, error) VALUES (?, ?, ?, ?, ?)
`, ev.RunID, unit, "planned", "", ""); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) markDegraded(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded[runID] = true
}

func (s *Store) takeDegraded(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.degraded[runID]
	delete(s.degraded, runID)
	return d
}

type RunEntry struct {
	RunID     string
	Task      string
	Env       string
	Status    string
	StartedAt time.Time
	UpdatedAt time.Time
	Summary   string
}

type UnitEntry struct {
	Unit       string
	Status     string
	ArtifactID string
	Error      string
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, task, env, status, created_at_ns, updated_at_ns, summary
FROM mgnctl_runs
ORDER BY created_at_ns DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunEntry
	for rows.Next() {
		var e RunEntry
		var created, updated int64
		if err := rows.Scan(&e.RunID, &e.Task, &e.Env, &e.Status, &created, &updated, &e.Summary); err != nil {
			return nil, err
		}
		e.StartedAt = time.Unix(0, created).UTC()
		e.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MostRecentRunID(ctx context.Context) (string, error) {
	var runID string
	err := s.db.QueryRowContext(ctx, `SELECT run_id FROM mgnctl_runs ORDER BY created_at_ns DESC LIMIT 1`).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no runs recorded in %s", s.path)
	}
	return runID, err
}

// Units returns the unit rows of a run in planned order.
func (s *Store) Units(ctx context.Context, runID string) ([]UnitEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT unit, status, artifact_id, error FROM mgnctl_units WHERE run_id = ? ORDER BY rowid
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UnitEntry
	for rows.Next() {
		var u UnitEntry
		if err := rows.Scan(&u.Unit, &u.Status, &u.ArtifactID, &u.Error); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) Events(ctx context.Context, runID string) ([]engine.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT r.task, r.env, e.ts_ns, e.unit, e.action, e.type, e.message, e.artifact_id, e.error_class, e.error_message
FROM mgnctl_events e JOIN mgnctl_runs r ON r.run_id = e.run_id
WHERE e.run_id = ?
ORDER BY e.id
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []engine.Event
	for rows.Next() {
		var ev engine.Event
		var ts int64
		var typ, errClass, errMsg string
		if err := rows.Scan(&ev.Task, &ev.Env, &ts, &ev.Unit, &ev.Action, &typ, &ev.Message, &ev.ID, &errClass, &errMsg); err != nil {
			return nil, err
		}
		ev.RunID = runID
		ev.TS = time.Unix(0, ts).UTC()
		ev.Type = engine.EventType(typ)
		if errClass != "" || errMsg != "" {
			ev.Error = &engine.EventError{Class: errClass, Message: errMsg}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
