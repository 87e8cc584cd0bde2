// Package coordinator submits runs and tracks the active one.
//
// It owns the single stream subscription, feeds every delivered event
// through progress.Apply, and moves the run through
// idle → submitting → running → completed | failed. Terminal transitions
// emit an Invalidation to registered listeners so caches can drop results
// the run may have changed.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/skillcheck/internal/backend"
	"github.com/ashita-ai/skillcheck/internal/model"
	"github.com/ashita-ai/skillcheck/internal/progress"
	"github.com/ashita-ai/skillcheck/internal/stream"
	"github.com/ashita-ai/skillcheck/internal/telemetry"
)

// Phase is the coordinator's run state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseRunning    Phase = "running"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Cache key prefixes a finished run invalidates.
const (
	KeyHeatmapPrefix = "heatmap:"
	KeyReports       = "reports"
)

// Submitter starts runs on the evaluation backend.
type Submitter interface {
	SubmitRun(ctx context.Context, spec model.RunSpec) (model.RunHandle, error)
}

// Recorder persists submitted runs and their events. Record must not block.
type Recorder interface {
	BeginRun(ctx context.Context, spec model.RunSpec, handle model.RunHandle) error
	Record(runID string, ev model.Event)
}

// Invalidation tells caches which keys a finished run may have changed.
// Keys are prefixes.
type Invalidation struct {
	RunID string
	Phase Phase
	Keys  []string
}

// Listener receives invalidations. It runs on the stream goroutine, so it
// must return quickly and must not call back into the Coordinator.
type Listener func(Invalidation)

// Config configures a Coordinator.
type Config struct {
	Backend  Submitter
	Stream   stream.Config
	Recorder Recorder
	Logger   *slog.Logger
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	backend  Submitter
	stream   *stream.Client
	recorder Recorder
	logger   *slog.Logger
	metrics  metrics

	// streamCtx outlives any single request; Close cancels it.
	streamCtx    context.Context
	cancelStream context.CancelFunc

	// submitMu serializes Submit so subscriptions connect in submit order.
	submitMu sync.Mutex

	mu        sync.Mutex
	phase     Phase
	spec      model.RunSpec
	handle    model.RunHandle
	state     progress.State
	live      bool
	submitErr error
	version   uint64
	listeners []Listener
	watchers  map[chan Snapshot]struct{}
}

// New creates an idle coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("coordinator: backend is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Stream.Logger == nil {
		cfg.Stream.Logger = logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		backend:      cfg.Backend,
		recorder:     cfg.Recorder,
		logger:       logger,
		metrics:      newMetrics(),
		streamCtx:    ctx,
		cancelStream: cancel,
		phase:        PhaseIdle,
		watchers:     make(map[chan Snapshot]struct{}),
	}
	sc, err := stream.NewClient(cfg.Stream, c.handleEvent)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	c.stream = sc
	return c, nil
}

// Submit validates spec, starts the run on the backend and subscribes to its
// stream with a fresh tracker state.
//
// A *model.ValidationError is returned before any network call and leaves
// the phase unchanged. A *model.BackendError moves the coordinator to
// failed. On either error no subscription is opened.
func (c *Coordinator) Submit(ctx context.Context, spec model.RunSpec) (model.RunHandle, error) {
	spec = spec.Normalized()
	if err := spec.Validate(); err != nil {
		return model.RunHandle{}, err
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	// Tear down the previous run's stream before touching state. This must
	// happen outside mu: Disconnect waits for an in-flight handleEvent.
	c.stream.Disconnect()

	c.mu.Lock()
	c.phase = PhaseSubmitting
	c.spec = spec
	c.handle = model.RunHandle{}
	c.state = progress.New(spec, 0)
	c.live = false
	c.submitErr = nil
	c.changedLocked()
	c.mu.Unlock()

	handle, err := c.backend.SubmitRun(ctx, spec)
	if err != nil {
		var berr *model.BackendError
		if !errors.As(err, &berr) {
			err = &model.BackendError{Op: "submit run", Err: err}
		}
		c.mu.Lock()
		c.phase = PhaseFailed
		c.submitErr = err
		c.changedLocked()
		c.mu.Unlock()

		c.metrics.submitted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(spec.Kind)), attribute.Bool("ok", false)))
		c.logger.Warn("coordinator: submit failed", "kind", spec.Kind, "error", err)
		return model.RunHandle{}, err
	}

	c.mu.Lock()
	c.phase = PhaseRunning
	c.handle = handle
	c.state = progress.New(spec, handle.Total)
	c.live = true
	c.changedLocked()
	c.mu.Unlock()

	if c.recorder != nil {
		if err := c.recorder.BeginRun(ctx, spec, handle); err != nil {
			c.logger.Error("coordinator: journal run", "run_id", handle.RunID, "error", err)
		}
	}

	c.stream.Connect(c.streamCtx, handle.RunID, backend.StreamPath(spec.Kind, handle.RunID))

	c.metrics.submitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(spec.Kind)), attribute.Bool("ok", true)))
	c.logger.Info("coordinator: run started",
		"run_id", handle.RunID, "kind", spec.Kind, "total", handle.Total,
		"models", spec.Models, "concurrency", spec.Concurrency)
	return handle, nil
}

// Disconnect stops watching the active run. The backend is not told; the
// run keeps going there. A running coordinator returns to idle.
func (c *Coordinator) Disconnect() {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	c.stream.Disconnect()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = false
	if c.phase == PhaseRunning {
		c.phase = PhaseIdle
		c.logger.Info("coordinator: detached from run", "run_id", c.handle.RunID)
	}
	c.changedLocked()
}

// Close disconnects, stops accepting stream events and closes every
// subscriber channel.
func (c *Coordinator) Close() {
	c.Disconnect()
	c.cancelStream()

	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.watchers {
		delete(c.watchers, ch)
		close(ch)
	}
}

// OnInvalidate registers l for terminal transitions.
func (c *Coordinator) OnInvalidate(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// handleEvent is the stream handler. Events for any run other than the
// current running one are dropped.
func (c *Coordinator) handleEvent(runID string, ev model.Event) {
	c.mu.Lock()
	if c.phase != PhaseRunning || runID != c.handle.RunID {
		c.mu.Unlock()
		c.logger.Debug("coordinator: dropped stale event", "run_id", runID, "event", ev.Type())
		return
	}

	c.state = progress.Apply(c.state, ev)
	var inv *Invalidation
	if c.state.Finished() {
		c.live = false
		switch c.state.Outcome {
		case progress.OutcomeCompleted:
			c.phase = PhaseCompleted
		default:
			c.phase = PhaseFailed
		}
		inv = &Invalidation{RunID: runID, Phase: c.phase, Keys: invalidationKeys(c.spec.Kind)}
	}
	c.changedLocked()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	ctx := context.Background()
	c.metrics.events.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(ev.Type()))))
	if c.recorder != nil {
		c.recorder.Record(runID, ev)
	}
	if inv == nil {
		return
	}

	c.metrics.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", string(inv.Phase))))
	c.logger.Info("coordinator: run finished", "run_id", runID, "phase", inv.Phase)
	for _, l := range listeners {
		l(*inv)
	}
}

func invalidationKeys(kind model.RunKind) []string {
	if kind == model.RunKindScored {
		return []string{KeyHeatmapPrefix, KeyReports}
	}
	return []string{KeyReports}
}

type metrics struct {
	submitted metric.Int64Counter
	events    metric.Int64Counter
	finished  metric.Int64Counter
}

func newMetrics() metrics {
	meter := telemetry.Meter("skillcheck/coordinator")
	submitted, _ := meter.Int64Counter("skillcheck.runs.submitted",
		metric.WithDescription("Runs submitted to the evaluation backend"))
	events, _ := meter.Int64Counter("skillcheck.stream.events",
		metric.WithDescription("Stream events applied to the active run"))
	finished, _ := meter.Int64Counter("skillcheck.runs.finished",
		metric.WithDescription("Runs that reached a terminal phase"))
	return metrics{submitted: submitted, events: events, finished: finished}
}
