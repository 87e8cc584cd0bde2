package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"

	"github.com/ashita-ai/skillcheck/internal/model"
)

// sqliteSchema mirrors migrations/001_run_journal.sql with SQLite types.
// Timestamps are fixed-width RFC 3339 text.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS journal_runs (
	run_id       TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	spec         TEXT NOT NULL,
	total        INTEGER NOT NULL,
	phase        TEXT NOT NULL,
	submitted_at TEXT NOT NULL,
	finished_at  TEXT
);

CREATE TABLE IF NOT EXISTS journal_events (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES journal_runs(run_id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	event_type  TEXT NOT NULL,
	payload     TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	UNIQUE (run_id, seq)
);

CREATE INDEX IF NOT EXISTS journal_runs_submitted_idx ON journal_runs (submitted_at DESC);
`

// SQLiteStore is the embedded journal store.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the journal database at path.
// ":memory:" gives a private in-memory journal.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	memory := path == ":memory:"
	if !memory {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("journal: create dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}
	// One writer at a time; an in-memory database also lives only as long as
	// its single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	if !memory {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("journal: %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run RunRecord) error {
	spec, err := json.Marshal(run.Spec)
	if err != nil {
		return fmt.Errorf("journal: encode spec: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO journal_runs (run_id, kind, spec, total, phase, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			kind = excluded.kind, spec = excluded.spec, total = excluded.total,
			phase = excluded.phase, submitted_at = excluded.submitted_at, finished_at = NULL`,
		run.RunID, string(run.Spec.Kind), string(spec), run.Total, run.Phase, formatTime(run.SubmittedAt),
	)
	if err != nil {
		return fmt.Errorf("journal: save run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID, phase string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE journal_runs SET phase = ?, finished_at = ? WHERE run_id = ?`,
		phase, formatTime(at), runID,
	)
	if err != nil {
		return fmt.Errorf("journal: finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendEvents(ctx context.Context, entries []Entry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("journal: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO journal_events (id, run_id, seq, event_type, payload, recorded_at)
		 SELECT ?, ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM journal_runs WHERE run_id = ?)
		 ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("journal: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var inserted int64
	for _, e := range entries {
		res, err := stmt.ExecContext(ctx,
			e.ID.String(), e.RunID, e.Seq, string(e.Type), string(e.Payload), formatTime(e.RecordedAt), e.RunID)
		if err != nil {
			return 0, fmt.Errorf("journal: insert event %s#%d: %w", e.RunID, e.Seq, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("journal: commit events: %w", err)
	}
	return inserted, nil
}

func (s *SQLiteStore) Events(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, seq, event_type, payload, recorded_at
		 FROM journal_events WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e                Entry
			id, typ, payload string
			recordedAt       string
		)
		if err := rows.Scan(&id, &e.RunID, &e.Seq, &typ, &payload, &recordedAt); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("journal: event id %q: %w", id, err)
		}
		if e.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		e.Type = model.EventType(typ)
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

const sqliteRunColumns = `r.run_id, r.spec, r.total, r.phase, r.submitted_at, r.finished_at,
	(SELECT COUNT(*) FROM journal_events e WHERE e.run_id = r.run_id)`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM journal_runs r WHERE r.run_id = ?`, runID)
	run, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	return run, err
}

func (s *SQLiteStore) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM journal_runs r
		 ORDER BY r.submitted_at DESC, r.run_id ASC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("journal: query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row rowScanner) (RunRecord, error) {
	var (
		run         RunRecord
		spec        string
		submittedAt string
		finishedAt  sql.NullString
	)
	if err := row.Scan(&run.RunID, &spec, &run.Total, &run.Phase, &submittedAt, &finishedAt, &run.EventCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, err
		}
		return RunRecord{}, fmt.Errorf("journal: scan run: %w", err)
	}
	if err := json.Unmarshal([]byte(spec), &run.Spec); err != nil {
		return RunRecord{}, fmt.Errorf("journal: decode spec of %s: %w", run.RunID, err)
	}
	var err error
	if run.SubmittedAt, err = parseTime(submittedAt); err != nil {
		return RunRecord{}, err
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return RunRecord{}, err
		}
		run.FinishedAt = &t
	}
	return run, nil
}

// timeLayout is fixed width so text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("journal: parse time %q: %w", s, err)
	}
	return t, nil
}
