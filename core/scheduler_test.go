package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting")
		var zero T
		return zero
	}
}

func TestSchedulerSoftStopLetsRunningTasksFinish(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctrl := NewRunController(nil)
	var (
		mu        sync.Mutex
		abandoned []string
		completed atomic.Int32
	)
	s := &Scheduler{
		Workers:    3,
		Controller: ctrl,
		OnDone:     func(Task, error) { completed.Add(1) },
		OnAbandon: func(task Task) {
			mu.Lock()
			defer mu.Unlock()
			abandoned = append(abandoned, task.ID)
		},
	}

	started := make(chan string, 13)
	release := make(chan struct{})
	done := make(chan ScheduleReport, 1)
	go func() {
		rep, err := s.Run(context.Background(), makeTasks(13), func(ctx context.Context, task Task) error {
			started <- task.ID
			<-release
			return nil
		})
		assert.NoError(t, err)
		done <- rep
	}()

	for i := 0; i < 3; i++ {
		waitFor(t, started)
	}
	require.True(t, ctrl.SoftStop("operator"))
	close(release)

	rep := waitFor(t, done)
	assert.Equal(t, ScheduleReport{Dispatched: 3, Completed: 3, Abandoned: 10}, rep)
	assert.Empty(t, started, "no task starts after the soft stop")
	assert.Equal(t, int32(3), completed.Load())
	assert.Len(t, abandoned, 10)

	snap := ctrl.Snapshot()
	assert.Equal(t, 3, snap.Counts[TaskDone])
	assert.Equal(t, 10, snap.Counts[TaskPending])
	assert.Equal(t, 10, snap.Abandoned)
}

func TestSchedulerHardStopAbortsInFlightCall(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctrl := NewRunController(nil)
	errs := make(chan error, 1)
	s := &Scheduler{
		Workers:    1,
		Controller: ctrl,
		OnDone:     func(_ Task, err error) { errs <- err },
	}

	inCall := make(chan struct{})
	done := make(chan ScheduleReport, 1)
	go func() {
		rep, _ := s.Run(context.Background(), makeTasks(1), func(ctx context.Context, task Task) error {
			close(inCall)
			// Stands in for a request bounded by its own response timeout.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(30 * time.Second):
				return nil
			}
		})
		done <- rep
	}()

	waitFor(t, inCall)
	start := time.Now()
	ctrl.HardStop("abort")

	assert.ErrorIs(t, waitFor(t, errs), context.Canceled)
	rep := waitFor(t, done)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, rep.Completed)
}

func TestSchedulerNoDuplicateDispatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctrl := NewRunController(nil)
	var seen sync.Map
	var dupes atomic.Int32
	s := &Scheduler{Workers: 8, Controller: ctrl}

	rep, err := s.Run(context.Background(), makeTasks(200), func(ctx context.Context, task Task) error {
		if _, loaded := seen.LoadOrStore(task.ID, true); loaded {
			dupes.Add(1)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ScheduleReport{Dispatched: 200, Completed: 200}, rep)
	assert.Zero(t, dupes.Load())
}

func TestSchedulerStoppedBeforeStart(t *testing.T) {
	ctrl := NewRunController(nil)
	ctrl.SoftStop("not today")

	var calls atomic.Int32
	s := &Scheduler{Workers: 2, Controller: ctrl}
	rep, err := s.Run(context.Background(), makeTasks(5), func(context.Context, Task) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Abandoned)
	assert.Zero(t, calls.Load())
}

func TestSchedulerCancelledParentAbandons(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &Scheduler{Workers: 2, Controller: NewRunController(nil)}
	rep, err := s.Run(ctx, makeTasks(4), func(context.Context, Task) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Abandoned)
	assert.Zero(t, rep.Dispatched)
}
