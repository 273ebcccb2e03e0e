// Package tasks runs long operations in the background and reports their
// progress as a stream of events.
//
// Start hands back a task id at once; the work runs on its own goroutine,
// bounded by a worker pool, and its progress is published to an Emitter and
// optionally persisted to a Store.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mattjoyce/convert/internal/events"
	"github.com/mattjoyce/convert/internal/log"
	"github.com/mattjoyce/convert/internal/metrics"
)

const storeTimeout = 5 * time.Second

// Options configures a Supervisor.
type Options struct {
	// MaxConcurrent bounds running tasks. 0 means unbounded.
	MaxConcurrent int

	// KeepFinished caps finished tasks kept in memory, oldest evicted
	// first. 0 means DefaultKeepFinished.
	KeepFinished int

	IDPrefix string
	Metrics  *metrics.Collector
}

const DefaultKeepFinished = 256

type task struct {
	mu     sync.Mutex
	snap   Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *task) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Supervisor owns the registry of tasks started in this process.
type Supervisor struct {
	emitter Emitter
	store   Store
	opts    Options
	logger  *slog.Logger
	pool    *semaphore.Weighted

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	runners  map[string]Runner
	tasks    map[string]*task
	finished []string // ids in completion order
	closing  bool
}

// New creates a Supervisor. store may be nil to keep tasks in memory only.
func New(emitter Emitter, store Store, opts Options) *Supervisor {
	if emitter == nil {
		emitter = discard{}
	}
	if opts.IDPrefix == "" {
		opts.IDPrefix = DefaultIDPrefix
	}
	if opts.KeepFinished <= 0 {
		opts.KeepFinished = DefaultKeepFinished
	}
	s := &Supervisor{
		emitter: emitter,
		store:   store,
		opts:    opts,
		logger:  log.WithComponent("tasks"),
		runners: make(map[string]Runner),
		tasks:   make(map[string]*task),
	}
	if opts.MaxConcurrent > 0 {
		s.pool = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	s.baseCtx, s.stop = context.WithCancel(context.Background())
	return s
}

// Register binds a Runner to a task kind, replacing any previous binding.
func (s *Supervisor) Register(kind string, r Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runners[kind] = r
}

// Start launches a task of the given kind and returns its id without
// waiting for any of the work. Task lifetime is independent of ctx.
func (s *Supervisor) Start(ctx context.Context, kind string, params json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return "", ErrShuttingDown
	}
	runner, ok := s.runners[kind]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	id, err := NewID(s.opts.IDPrefix)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}

	tctx, cancel := context.WithCancel(s.baseCtx)
	t := &task{
		snap: Snapshot{
			ID:        id,
			Kind:      kind,
			Status:    StatusQueued,
			CreatedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.tasks[id] = t
	s.wg.Add(1)
	s.mu.Unlock()

	s.opts.Metrics.RecordTaskStarted(kind)
	s.logger.Info("task started", "task_id", id, "kind", kind)

	go s.run(tctx, t, runner, params)
	return id, nil
}

func (s *Supervisor) run(ctx context.Context, t *task, runner Runner, params json.RawMessage) {
	defer s.wg.Done()
	defer s.retire(t)
	defer close(t.done)
	defer t.cancel()

	snap := t.snapshot()
	logger := log.WithTask(snap.ID).With("component", "tasks", "kind", snap.Kind)
	s.persist(logger, func(sctx context.Context) error {
		return s.store.Create(sctx, snap, params)
	})

	rep := newReporter(func(u Update) { s.apply(logger, t, u) })

	if s.pool != nil {
		if err := s.pool.Acquire(ctx, 1); err != nil {
			s.finish(logger, t, rep, ctx, err)
			return
		}
		defer s.pool.Release(1)
	}

	s.opts.Metrics.TaskRunning(1)
	defer s.opts.Metrics.TaskRunning(-1)

	t.mu.Lock()
	now := time.Now().UTC()
	t.snap.Status = StatusRunning
	t.snap.StartedAt = &now
	snap = t.snap
	t.mu.Unlock()
	s.persist(logger, func(sctx context.Context) error {
		return s.store.Update(sctx, snap)
	})

	err := runSafely(ctx, runner, params, rep)
	s.finish(logger, t, rep, ctx, err)
}

func runSafely(ctx context.Context, runner Runner, params json.RawMessage, rep *Reporter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return runner.Run(ctx, params, rep)
}

func (s *Supervisor) finish(logger *slog.Logger, t *task, rep *Reporter, ctx context.Context, err error) {
	kind := t.snapshot().Kind
	switch {
	case err == nil:
		rep.finish(events.PhaseDone, "Task completed.")
		s.opts.Metrics.RecordTaskFinished(kind, metrics.OutcomeOK)
		logger.Info("task succeeded")
	case ctx.Err() != nil:
		rep.finish(events.PhaseCancelled, "Task cancelled.")
		s.opts.Metrics.RecordTaskFinished(kind, metrics.OutcomeCancelled)
		logger.Info("task cancelled")
	default:
		rep.finish(events.PhaseFailed, err.Error())
		s.opts.Metrics.RecordTaskFinished(kind, metrics.OutcomeFailed)
		logger.Error("task failed", "error", err)
	}
}

// apply records u on the task, publishes it and persists the new state.
// It runs under the Reporter's lock, so updates for one task are ordered.
func (s *Supervisor) apply(logger *slog.Logger, t *task, u Update) {
	t.mu.Lock()
	t.snap.Phase = u.Phase
	t.snap.Progress = u.Progress
	t.snap.Speed = u.Speed
	t.snap.ETA = u.ETA
	t.snap.Message = u.Message
	switch u.Phase {
	case events.PhaseDone:
		t.snap.Status = StatusSucceeded
	case events.PhaseFailed:
		t.snap.Status = StatusFailed
		t.snap.Error = u.Message
	case events.PhaseCancelled:
		t.snap.Status = StatusCancelled
	}
	if u.Phase.Terminal() {
		now := time.Now().UTC()
		t.snap.CompletedAt = &now
	}
	snap := t.snap
	t.mu.Unlock()

	s.emitter.Publish(events.ProgressEvent{
		TaskID:   snap.ID,
		Phase:    u.Phase,
		Progress: u.Progress,
		Speed:    u.Speed,
		ETA:      u.ETA,
		Message:  u.Message,
	})
	logger.Debug("task progress", "phase", u.Phase, "progress", u.Progress)

	s.persist(logger, func(sctx context.Context) error {
		return s.store.Update(sctx, snap)
	})
}

// retire queues a finished task for eviction and drops the oldest finished
// tasks beyond KeepFinished. Status falls back to the Store for those.
func (s *Supervisor) retire(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, t.snapshot().ID)
	for len(s.finished) > s.opts.KeepFinished {
		delete(s.tasks, s.finished[0])
		s.finished[0] = ""
		s.finished = s.finished[1:]
	}
}

// persist runs a store write if a store is configured. Failures are logged;
// they never fail the task.
func (s *Supervisor) persist(logger *slog.Logger, fn func(context.Context) error) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("task log write failed", "error", err)
	}
}

func (s *Supervisor) lookup(id string) (*task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Status returns the current state of a task. Tasks from earlier runs are
// read from the Store.
func (s *Supervisor) Status(ctx context.Context, id string) (Snapshot, error) {
	if t, ok := s.lookup(id); ok {
		return t.snapshot(), nil
	}
	if s.store == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	snap, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return Snapshot{}, fmt.Errorf("read task log: %w", err)
	}
	return *snap, nil
}

// List returns tasks started by this process, oldest first.
func (s *Supervisor) List() []Snapshot {
	s.mu.RLock()
	out := make([]Snapshot, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cancel asks a running or queued task to stop. The task reports a
// cancelled event once its runner returns.
func (s *Supervisor) Cancel(id string) error {
	t, ok := s.lookup(id)
	if !ok {
		// Evicted and earlier-run tasks are finished if the log knows them.
		if snap, err := s.Status(context.Background(), id); err == nil && snap.Status.Terminal() {
			return fmt.Errorf("%w: %s", ErrTaskFinished, id)
		}
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.snapshot().Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrTaskFinished, id)
	}
	t.cancel()
	s.logger.Info("task cancel requested", "task_id", id)
	return nil
}

// Wait blocks until the task finishes or ctx is done.
func (s *Supervisor) Wait(ctx context.Context, id string) (Snapshot, error) {
	t, ok := s.lookup(id)
	if !ok {
		snap, err := s.Status(ctx, id)
		if err != nil {
			return Snapshot{}, err
		}
		if !snap.Status.Terminal() {
			return snap, fmt.Errorf("task %s was not started by this process", id)
		}
		return snap, nil
	}
	select {
	case <-t.done:
		return t.snapshot(), nil
	case <-ctx.Done():
		return t.snapshot(), ctx.Err()
	}
}

// Shutdown cancels every task and waits for their workers to exit.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasks still running at shutdown: %w", ctx.Err())
	}
}

type discard struct{}

func (discard) Publish(events.ProgressEvent) {}
