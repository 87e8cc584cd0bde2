package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/skillcheck/internal/model"
	"github.com/ashita-ai/skillcheck/internal/telemetry"
)

// maxBufferCapacity bounds buffered entries. Append fails with ErrBufferFull
// past it.
const maxBufferCapacity = 50_000

// ErrBufferFull is returned by Append when the store has fallen too far
// behind.
var ErrBufferFull = errors.New("journal: buffer at capacity")

// Buffer accumulates entries in memory and flushes them to the store when
// the batch fills or the flush interval elapses.
type Buffer struct {
	store         Store
	logger        *slog.Logger
	maxSize       int
	flushInterval time.Duration

	// flushMu makes flushes sequential, so a caller's Flush returns only
	// after every entry queued before it has been written.
	flushMu sync.Mutex

	mu       sync.Mutex
	entries  []Entry
	seq      map[string]int64
	drainCtx context.Context // set by Drain for the final flush

	dropped atomic.Int64
	started atomic.Bool

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
}

// NewBuffer creates a buffer that writes batches of up to maxSize entries.
func NewBuffer(store Store, logger *slog.Logger, maxSize int, flushInterval time.Duration) *Buffer {
	if maxSize <= 0 {
		maxSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Buffer{
		store:         store,
		logger:        logger,
		maxSize:       maxSize,
		flushInterval: flushInterval,
		seq:           make(map[string]int64),
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start launches the flush loop. A second call is a no-op.
func (b *Buffer) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		b.logger.Warn("journal: buffer already started")
		return
	}
	b.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	go b.flushLoop(loopCtx)
}

// Append encodes ev and queues it with the next sequence number for runID.
func (b *Buffer) Append(runID string, ev model.Event) (Entry, error) {
	typ, payload, err := model.EncodeEvent(ev)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) >= maxBufferCapacity {
		b.dropped.Add(1)
		return Entry{}, ErrBufferFull
	}

	b.seq[runID]++
	e := Entry{
		ID:         uuid.New(),
		RunID:      runID,
		Seq:        b.seq[runID],
		Type:       typ,
		Payload:    payload,
		RecordedAt: time.Now().UTC(),
	}
	b.entries = append(b.entries, e)

	if len(b.entries) >= b.maxSize || model.IsTerminal(ev) {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return e, nil
}

func (b *Buffer) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			drainCtx := b.drainCtx
			b.mu.Unlock()
			if drainCtx != nil {
				_ = b.Flush(drainCtx)
			} else {
				fallback, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				_ = b.Flush(fallback)
				cancel()
			}
			close(b.done)
			return
		case <-ticker.C:
			_ = b.Flush(ctx)
		case <-b.flushCh:
			_ = b.Flush(ctx)
		}
	}
}

// Flush writes every buffered entry now. On failure the batch is put back
// for the next attempt unless that would exceed capacity, in which case it
// is dropped and counted.
func (b *Buffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.entries) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.entries
	b.entries = nil
	b.mu.Unlock()

	start := time.Now()
	n, err := b.store.AppendEvents(ctx, batch)
	if err != nil {
		b.logger.Error("journal: flush failed", "error", err, "batch_size", len(batch))
		b.mu.Lock()
		if len(b.entries)+len(batch) <= maxBufferCapacity {
			b.entries = append(batch, b.entries...)
		} else {
			b.dropped.Add(int64(len(batch)))
			b.logger.Error("journal: dropping entries, buffer at capacity after flush failure", "dropped", len(batch))
		}
		b.mu.Unlock()
		return err
	}

	for _, e := range batch {
		phase, ok := terminalPhase(e.Type)
		if !ok {
			continue
		}
		if err := b.store.FinishRun(ctx, e.RunID, phase, e.RecordedAt); err != nil {
			b.logger.Warn("journal: finish run", "run_id", e.RunID, "error", err)
		}
	}

	b.logger.Debug("journal: batch flushed",
		"batch_size", n,
		"flush_duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Drain stops the flush loop and waits for its final flush, bounded by ctx.
func (b *Buffer) Drain(ctx context.Context) {
	if !b.started.Load() {
		_ = b.Flush(ctx)
		return
	}
	b.mu.Lock()
	b.drainCtx = ctx
	b.mu.Unlock()
	b.cancelLoop()
	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("journal: drain timed out waiting for flush loop")
	}
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Dropped returns how many entries were lost to capacity limits.
func (b *Buffer) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Buffer) registerMetrics() {
	meter := telemetry.Meter("skillcheck/journal")

	_, _ = meter.Int64ObservableGauge("skillcheck.journal.depth",
		metric.WithDescription("Entries waiting in the journal buffer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.Len()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("skillcheck.journal.dropped_total",
		metric.WithDescription("Journal entries dropped at capacity"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.Dropped())
			return nil
		}),
	)
}
