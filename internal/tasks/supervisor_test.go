package tasks_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/convert/internal/events"
	"github.com/mattjoyce/convert/internal/tasks"
	"github.com/mattjoyce/convert/internal/tasks/mocks"
)

var fastCadence = tasks.Cadence{}

func newSupervisor(t *testing.T, store tasks.Store, opts tasks.Options) (*tasks.Supervisor, *events.Hub) {
	t.Helper()
	hub := events.NewHub(512)
	s := tasks.New(hub, store, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, hub
}

func drain(t *testing.T, ch <-chan events.ProgressEvent) []events.ProgressEvent {
	t.Helper()
	var out []events.ProgressEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
			if ev.Phase.Terminal() {
				return out
			}
		case <-timeout:
			t.Fatalf("no terminal event after %d events", len(out))
		}
	}
}

func waitFor(t *testing.T, s *tasks.Supervisor, id string) tasks.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := s.Wait(ctx, id)
	require.NoError(t, err)
	return snap
}

func TestSimulatedBackupEventSequence(t *testing.T) {
	s, hub := newSupervisor(t, nil, tasks.Options{})
	s.Register(tasks.KindBackup, tasks.SimulatedBackup{Cadence: fastCadence})

	ch, cancel := hub.Subscribe("")
	defer cancel()

	id, err := s.Start(context.Background(), tasks.KindBackup, json.RawMessage(`{"target_dir":"/tmp/x"}`))
	require.NoError(t, err)
	evs := drain(t, ch)

	require.Len(t, evs, 20)
	assert.Equal(t, events.PhaseInit, evs[0].Phase)
	assert.Equal(t, 0.0, evs[0].Progress)
	assert.Equal(t, "CALC...", evs[0].ETA)
	assert.Equal(t, events.PhaseSnapshot, evs[1].Phase)
	assert.Equal(t, 10.0, evs[1].Progress)
	assert.Equal(t, "15s", evs[1].ETA)

	assert.Equal(t, 15.0, evs[2].Progress)
	assert.Equal(t, "7-9s", evs[2].ETA)
	assert.Equal(t, "Encrypting chunk #15...", evs[2].Message)
	assert.Equal(t, 90.0, evs[17].Progress)
	assert.Equal(t, "0-0s", evs[17].ETA)

	assert.Equal(t, events.PhaseFinalizing, evs[18].Phase)
	assert.Equal(t, 95.0, evs[18].Progress)

	last := evs[19]
	assert.Equal(t, events.PhaseDone, last.Phase)
	assert.Equal(t, 100.0, last.Progress)
	assert.Equal(t, "0 MB/s", last.Speed)
	assert.Equal(t, "Backup secured successfully.", last.Message)

	prevRank, prevProgress := -1, -1.0
	for _, ev := range evs {
		assert.Equal(t, id, ev.TaskID)
		assert.GreaterOrEqual(t, ev.Phase.Rank(), prevRank)
		assert.GreaterOrEqual(t, ev.Progress, prevProgress)
		if ev.Progress < 100 {
			assert.Equal(t, "45 MB/s", ev.Speed)
		}
		prevRank, prevProgress = ev.Phase.Rank(), ev.Progress
	}

	snap := waitFor(t, s, id)
	assert.Equal(t, tasks.StatusSucceeded, snap.Status)
	assert.NotNil(t, snap.CompletedAt)
}

func TestStartReturnsImmediately(t *testing.T) {
	s, _ := newSupervisor(t, nil, tasks.Options{})
	s.Register(tasks.KindBackup, tasks.SimulatedBackup{Cadence: tasks.DefaultCadence()})

	start := time.Now()
	id, err := s.Start(context.Background(), tasks.KindBackup, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Regexp(t, `^OMEGA-`, id)

	require.NoError(t, s.Cancel(id))
	snap := waitFor(t, s, id)
	assert.Equal(t, tasks.StatusCancelled, snap.Status)
}

func TestStartUnknownKind(t *testing.T) {
	s, hub := newSupervisor(t, nil, tasks.Options{})

	_, err := s.Start(context.Background(), "restore", nil)
	assert.ErrorIs(t, err, tasks.ErrUnknownKind)
	assert.Empty(t, s.List())
	assert.Zero(t, hub.Stats().Published)
}

func TestConcurrentTasksHaveDistinctIDs(t *testing.T) {
	s, hub := newSupervisor(t, nil, tasks.Options{})
	s.Register(tasks.KindBackup, tasks.SimulatedBackup{Cadence: fastCadence})

	chAll, cancel := hub.Subscribe("")
	defer cancel()

	id1, err := s.Start(context.Background(), tasks.KindBackup, nil)
	require.NoError(t, err)
	id2, err := s.Start(context.Background(), tasks.KindBackup, nil)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	waitFor(t, s, id1)
	waitFor(t, s, id2)

	counts := map[string]int{}
	for len(chAll) > 0 {
		ev := <-chAll
		counts[ev.TaskID]++
	}
	assert.Equal(t, 20, counts[id1])
	assert.Equal(t, 20, counts[id2])
}

func TestCancelRunningTask(t *testing.T) {
	s, hub := newSupervisor(t, nil, tasks.Options{})
	started := make(chan struct{})
	s.Register("block", tasks.RunnerFunc(func(ctx context.Context, _ json.RawMessage, rep *tasks.Reporter) error {
		rep.Emit(tasks.Update{Phase: events.PhaseEncrypting, Progress: 40})
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	id, err := s.Start(context.Background(), "block", nil)
	require.NoError(t, err)
	ch, cancel := hub.Subscribe(id)
	defer cancel()
	<-started

	require.NoError(t, s.Cancel(id))
	evs := drain(t, ch)
	last := evs[len(evs)-1]
	assert.Equal(t, events.PhaseCancelled, last.Phase)
	assert.Equal(t, 40.0, last.Progress)

	snap := waitFor(t, s, id)
	assert.Equal(t, tasks.StatusCancelled, snap.Status)
	assert.ErrorIs(t, s.Cancel(id), tasks.ErrTaskFinished)
	assert.ErrorIs(t, s.Cancel("OMEGA-nope"), tasks.ErrTaskNotFound)
}

func TestFailingTaskReportsFailure(t *testing.T) {
	s, hub := newSupervisor(t, nil, tasks.Options{})
	s.Register("fail", tasks.RunnerFunc(func(ctx context.Context, _ json.RawMessage, rep *tasks.Reporter) error {
		rep.Emit(tasks.Update{Phase: events.PhaseSnapshot, Progress: 10})
		return errors.New("snapshot source missing")
	}))
	s.Register("panic", tasks.RunnerFunc(func(context.Context, json.RawMessage, *tasks.Reporter) error {
		panic("boom")
	}))

	ch, cancel := hub.Subscribe("")
	defer cancel()

	id, err := s.Start(context.Background(), "fail", nil)
	require.NoError(t, err)
	evs := drain(t, ch)
	last := evs[len(evs)-1]
	assert.Equal(t, events.PhaseFailed, last.Phase)
	assert.Equal(t, "snapshot source missing", last.Message)

	snap := waitFor(t, s, id)
	assert.Equal(t, tasks.StatusFailed, snap.Status)
	assert.Equal(t, "snapshot source missing", snap.Error)

	id, err = s.Start(context.Background(), "panic", nil)
	require.NoError(t, err)
	snap = waitFor(t, s, id)
	assert.Equal(t, tasks.StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "boom")
}

func TestPoolBoundsConcurrency(t *testing.T) {
	s, _ := newSupervisor(t, nil, tasks.Options{MaxConcurrent: 1})

	var running, peak atomic.Int32
	release := make(chan struct{})
	s.Register("hold", tasks.RunnerFunc(func(ctx context.Context, _ json.RawMessage, rep *tasks.Reporter) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	id1, err := s.Start(context.Background(), "hold", nil)
	require.NoError(t, err)
	id2, err := s.Start(context.Background(), "hold", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return running.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	queued := 0
	for _, id := range []string{id1, id2} {
		snap, err := s.Status(context.Background(), id)
		require.NoError(t, err)
		if snap.Status == tasks.StatusQueued {
			queued++
		}
	}
	assert.Equal(t, 1, queued, "second task should wait for a slot")

	close(release)
	waitFor(t, s, id1)
	waitFor(t, s, id2)
	assert.Equal(t, int32(1), peak.Load())
}

func TestStorePersistsLifecycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)

	var final tasks.Snapshot
	store.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, snap tasks.Snapshot, params json.RawMessage) error {
			assert.Equal(t, tasks.StatusQueued, snap.Status)
			assert.JSONEq(t, `{"target_dir":"/b"}`, string(params))
			return nil
		})
	store.EXPECT().Update(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, snap tasks.Snapshot) error {
			final = snap
			return nil
		}).MinTimes(2)

	s, _ := newSupervisor(t, store, tasks.Options{})
	s.Register(tasks.KindBackup, tasks.SimulatedBackup{Cadence: fastCadence})

	id, err := s.Start(context.Background(), tasks.KindBackup, json.RawMessage(`{"target_dir":"/b"}`))
	require.NoError(t, err)
	waitFor(t, s, id)

	assert.Equal(t, id, final.ID)
	assert.Equal(t, tasks.StatusSucceeded, final.Status)
	assert.Equal(t, 100.0, final.Progress)
}

func TestStoreFailuresDoNotFailTask(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("disk I/O error"))
	store.EXPECT().Update(gomock.Any(), gomock.Any()).Return(errors.New("disk I/O error")).AnyTimes()

	s, _ := newSupervisor(t, store, tasks.Options{})
	s.Register(tasks.KindBackup, tasks.SimulatedBackup{Cadence: fastCadence})

	id, err := s.Start(context.Background(), tasks.KindBackup, nil)
	require.NoError(t, err)
	snap := waitFor(t, s, id)
	assert.Equal(t, tasks.StatusSucceeded, snap.Status)
}

func TestStatusFallsBackToStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	old := &tasks.Snapshot{ID: "OMEGA-old", Kind: tasks.KindBackup, Status: tasks.StatusSucceeded, Progress: 100}
	store.EXPECT().Get(gomock.Any(), "OMEGA-old").Return(old, nil).Times(2)
	store.EXPECT().Get(gomock.Any(), "OMEGA-missing").Return(nil, tasks.ErrTaskNotFound)

	s, _ := newSupervisor(t, store, tasks.Options{})

	snap, err := s.Status(context.Background(), "OMEGA-old")
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusSucceeded, snap.Status)

	snap, err = s.Wait(context.Background(), "OMEGA-old")
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap.Progress)

	_, err = s.Status(context.Background(), "OMEGA-missing")
	assert.ErrorIs(t, err, tasks.ErrTaskNotFound)
}

func TestFinishedTasksAreEvicted(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	s, _ := newSupervisor(t, store, tasks.Options{KeepFinished: 2})
	s.Register(tasks.KindBackup, tasks.SimulatedBackup{Cadence: fastCadence})

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := s.Start(context.Background(), tasks.KindBackup, nil)
		require.NoError(t, err)
		waitFor(t, s, id)
		ids = append(ids, id)
	}

	// Eviction runs just after the done channel closes.
	require.Eventually(t, func() bool { return len(s.List()) == 2 }, 2*time.Second, 5*time.Millisecond)
	kept := s.List()
	assert.ElementsMatch(t, ids[2:], []string{kept[0].ID, kept[1].ID})

	old := &tasks.Snapshot{ID: ids[0], Kind: tasks.KindBackup, Status: tasks.StatusSucceeded, Progress: 100}
	store.EXPECT().Get(gomock.Any(), ids[0]).Return(old, nil).Times(2)

	snap, err := s.Status(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusSucceeded, snap.Status)
	assert.ErrorIs(t, s.Cancel(ids[0]), tasks.ErrTaskFinished)
}

func TestEvictedTaskWithoutStoreIsNotFound(t *testing.T) {
	s, _ := newSupervisor(t, nil, tasks.Options{KeepFinished: 1})
	s.Register(tasks.KindBackup, tasks.SimulatedBackup{Cadence: fastCadence})

	first, err := s.Start(context.Background(), tasks.KindBackup, nil)
	require.NoError(t, err)
	waitFor(t, s, first)
	second, err := s.Start(context.Background(), tasks.KindBackup, nil)
	require.NoError(t, err)
	waitFor(t, s, second)

	require.Eventually(t, func() bool {
		_, err := s.Status(context.Background(), first)
		return errors.Is(err, tasks.ErrTaskNotFound)
	}, 2*time.Second, 5*time.Millisecond)

	snap, err := s.Status(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusSucceeded, snap.Status)
}

func TestShutdownStopsTasks(t *testing.T) {
	hub := events.NewHub(64)
	s := tasks.New(hub, nil, tasks.Options{})
	s.Register(tasks.KindBackup, tasks.SimulatedBackup{Cadence: tasks.DefaultCadence()})

	id, err := s.Start(context.Background(), tasks.KindBackup, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	snap, err := s.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCancelled, snap.Status)

	_, err = s.Start(context.Background(), tasks.KindBackup, nil)
	assert.ErrorIs(t, err, tasks.ErrShuttingDown)
}
