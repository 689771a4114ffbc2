package core

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TaskFunc performs one task. ctx is cancelled on hard stop.
type TaskFunc func(ctx context.Context, task Task) error

// Scheduler runs tasks on a fixed number of workers that pull from a shared
// cursor, so every task is claimed exactly once.
type Scheduler struct {
	Workers    int
	Controller *RunController
	// OnDone is called after a started task returns.
	OnDone func(task Task, err error)
	// OnAbandon is called for a task that was never started because the run
	// was stopped first.
	OnAbandon func(task Task)
	Logger    *zap.Logger
}

// ScheduleReport counts what happened to the task list.
type ScheduleReport struct {
	Dispatched int `json:"dispatched"`
	Completed  int `json:"completed"`
	Abandoned  int `json:"abandoned"`
}

// Run registers tasks with the controller and processes them. It returns
// once every task has either completed or been abandoned.
func (s *Scheduler) Run(ctx context.Context, tasks []Task, fn TaskFunc) (ScheduleReport, error) {
	if err := s.Controller.Register(tasks...); err != nil {
		return ScheduleReport{}, err
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := s.Workers
	if workers < 1 {
		workers = 1
	}
	workers = min(workers, max(len(tasks), 1))

	var (
		cursor     atomic.Int64
		dispatched atomic.Int64
		completed  atomic.Int64
		abandoned  atomic.Int64
	)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1) - 1)
				if i >= len(tasks) {
					return nil
				}
				task := tasks[i]

				taskCtx, cancel := context.WithCancel(ctx)
				if ctx.Err() != nil || !s.Controller.TryStart(task.ID, cancel) {
					cancel()
					s.Controller.Abandon(task.ID)
					abandoned.Add(1)
					if s.OnAbandon != nil {
						s.OnAbandon(task)
					}
					continue
				}
				dispatched.Add(1)

				err := fn(taskCtx, task)
				cancel()
				s.Controller.Finish(task.ID)
				completed.Add(1)
				if err != nil {
					logger.Debug("task failed", zap.String("task", task.ID), zap.Error(err))
				}
				if s.OnDone != nil {
					s.OnDone(task, err)
				}
			}
		})
	}
	err := g.Wait()

	return ScheduleReport{
		Dispatched: int(dispatched.Load()),
		Completed:  int(completed.Load()),
		Abandoned:  int(abandoned.Load()),
	}, err
}
