package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashita-ai/skillcheck/internal/backend"
	"github.com/ashita-ai/skillcheck/internal/journal"
	"github.com/ashita-ai/skillcheck/internal/service/dashboard"
)

const drainTimeout = 10 * time.Second

// errJournalDisabled is returned by commands that only read the journal.
var errJournalDisabled = errors.New("the run journal is disabled (SKILLCHECK_JOURNAL_DRIVER=none)")

func (e *Env) backendClient() (*backend.Client, error) {
	return backend.NewClient(backend.Config{
		BaseURL: e.Config.BackendURL,
		Token:   e.Config.BackendToken,
		Timeout: e.Config.BackendTimeout,
	})
}

// dashboard returns an uncached read service; every CLI call is a fresh
// read.
func (e *Env) dashboard() (*dashboard.Service, error) {
	client, err := e.backendClient()
	if err != nil {
		return nil, err
	}
	return dashboard.New(client, nil, e.Logger), nil
}

// openJournal opens the configured journal and starts its flush loop. It
// returns a nil Journal when the journal is disabled. The returned close
// func drains and releases the store.
func (e *Env) openJournal(ctx context.Context) (*journal.Journal, func(), error) {
	store, err := journal.Open(ctx, journal.StoreConfig{
		Driver: e.Config.JournalDriver,
		Path:   e.Config.JournalPath,
		DSN:    e.Config.DatabaseURL,
	}, e.Logger)
	if errors.Is(err, journal.ErrDisabled) {
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}

	j := journal.New(store, e.Logger, journal.Options{
		BatchSize:     e.Config.JournalBatchSize,
		FlushInterval: e.Config.JournalFlushInterval,
	})
	flushCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j.Start(flushCtx)

	closeFn := func() {
		// Drain with a context that survives Ctrl-C so the tail of an
		// interrupted run is still written.
		drainCtx, drainCancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer drainCancel()
		j.Drain(drainCtx)
		cancel()
		if err := j.Close(); err != nil {
			e.Logger.Warn("close journal", "error", err)
		}
	}
	return j, closeFn, nil
}

// requireJournal is openJournal for commands that cannot work without one.
func (e *Env) requireJournal(ctx context.Context) (*journal.Journal, func(), error) {
	j, closeFn, err := e.openJournal(ctx)
	if err != nil {
		return nil, nil, err
	}
	if j == nil {
		return nil, nil, errJournalDisabled
	}
	return j, closeFn, nil
}
