package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the shared journal store.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects a pool to dsn and verifies it with a ping.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: parse DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping pool: %w", err)
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Pool exposes the connection pool.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// RunMigrations applies the .sql files in migrationsFS that are not yet
// recorded in schema_migrations, in name order. Forward only.
func (s *PostgresStore) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("journal: create schema_migrations: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("journal: load applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("journal: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") || applied[name] {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("journal: read migration %s: %w", name, err)
		}

		s.logger.Info("journal: running migration", "file", name)
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("journal: execute migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name,
		); err != nil {
			return fmt.Errorf("journal: record migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (s *PostgresStore) SaveRun(ctx context.Context, run RunRecord) error {
	spec, err := json.Marshal(run.Spec)
	if err != nil {
		return fmt.Errorf("journal: encode spec: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO journal_runs (run_id, kind, spec, total, phase, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (run_id) DO UPDATE SET
			kind = EXCLUDED.kind, spec = EXCLUDED.spec, total = EXCLUDED.total,
			phase = EXCLUDED.phase, submitted_at = EXCLUDED.submitted_at, finished_at = NULL`,
		run.RunID, string(run.Spec.Kind), spec, run.Total, run.Phase, run.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("journal: save run: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID, phase string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE journal_runs SET phase = $2, finished_at = $3 WHERE run_id = $1`,
		runID, phase, at,
	)
	if err != nil {
		return fmt.Errorf("journal: finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvents bulk-loads entries with COPY into a temp table and moves the
// ones with a saved run across with ON CONFLICT DO NOTHING.
func (s *PostgresStore) AppendEvents(ctx context.Context, entries []Entry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	copyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(copyCtx)
	if err != nil {
		return 0, fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback(copyCtx) //nolint:errcheck

	if _, err := tx.Exec(copyCtx,
		`CREATE TEMP TABLE _journal_batch (LIKE journal_events INCLUDING DEFAULTS) ON COMMIT DROP`,
	); err != nil {
		return 0, fmt.Errorf("journal: create batch table: %w", err)
	}

	columns := []string{"id", "run_id", "seq", "event_type", "payload", "recorded_at"}
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{e.ID, e.RunID, e.Seq, string(e.Type), e.Payload, e.RecordedAt}
	}
	if _, err := tx.CopyFrom(copyCtx, pgx.Identifier{"_journal_batch"}, columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, fmt.Errorf("journal: copy events: %w", err)
	}

	tag, err := tx.Exec(copyCtx,
		`INSERT INTO journal_events (id, run_id, seq, event_type, payload, recorded_at)
		 SELECT b.id, b.run_id, b.seq, b.event_type, b.payload, b.recorded_at
		 FROM _journal_batch b
		 WHERE EXISTS (SELECT 1 FROM journal_runs r WHERE r.run_id = b.run_id)
		 ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("journal: insert events: %w", err)
	}
	if err := tx.Commit(copyCtx); err != nil {
		return 0, fmt.Errorf("journal: commit events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Events(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, seq, event_type, payload, recorded_at
		 FROM journal_events WHERE run_id = $1 ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RunID, &e.Seq, &e.Type, &e.Payload, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const pgRunColumns = `r.run_id, r.spec, r.total, r.phase, r.submitted_at, r.finished_at,
	(SELECT COUNT(*) FROM journal_events e WHERE e.run_id = r.run_id)`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgRunColumns+` FROM journal_runs r WHERE r.run_id = $1`, runID)
	run, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	return run, err
}

func (s *PostgresStore) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgRunColumns+` FROM journal_runs r
		 ORDER BY r.submitted_at DESC, r.run_id ASC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("journal: query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		run, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPgRun(row pgx.Row) (RunRecord, error) {
	var (
		run   RunRecord
		spec  []byte
		count int64
	)
	if err := row.Scan(&run.RunID, &spec, &run.Total, &run.Phase, &run.SubmittedAt, &run.FinishedAt, &count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RunRecord{}, err
		}
		return RunRecord{}, fmt.Errorf("journal: scan run: %w", err)
	}
	if err := json.Unmarshal(spec, &run.Spec); err != nil {
		return RunRecord{}, fmt.Errorf("journal: decode spec of %s: %w", run.RunID, err)
	}
	run.EventCount = int(count)
	return run, nil
}
