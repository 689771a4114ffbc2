package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RunController owns the stop level and the task registry of one run.
// Workers only read the stop level and change their own task through
// TryStart and Finish.
type RunController struct {
	mu      sync.RWMutex
	level   StopLevel
	reason  string
	tasks   map[string]*Task
	cancels map[string]context.CancelFunc
	hooks   []func(StopLevel, string)
	logger  *zap.Logger
	now     func() time.Time
}

// NewRunController creates a controller in the Running state.
func NewRunController(logger *zap.Logger) *RunController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunController{
		tasks:   make(map[string]*Task),
		cancels: make(map[string]context.CancelFunc),
		logger:  logger.With(zap.String("component", "controller")),
		now:     time.Now,
	}
}

// Register adds tasks in the Pending state.
func (c *RunController) Register(tasks ...Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tasks {
		if _, exists := c.tasks[t.ID]; exists {
			return fmt.Errorf("task %s already registered", t.ID)
		}
		t.State = TaskPending
		task := t
		c.tasks[t.ID] = &task
	}
	return nil
}

// Level returns the current stop level.
func (c *RunController) Level() StopLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.level
}

// Reason returns the reason given for the latest stop.
func (c *RunController) Reason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}

// TryStart moves a pending task to Running and registers its cancel
// callback, unless the run has been stopped. The check and the transition
// happen under one lock, so a task never starts after a stop is observed.
func (c *RunController) TryStart(id string, cancel context.CancelFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks[id]
	if !ok || task.State != TaskPending || c.level != Running {
		return false
	}
	task.State = TaskRunning
	task.StartedAt = c.now()
	if cancel != nil {
		c.cancels[id] = cancel
	}
	return true
}

// Finish marks a running task as done and drops its cancel callback.
func (c *RunController) Finish(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if task, ok := c.tasks[id]; ok && task.State == TaskRunning {
		task.State = TaskDone
		task.FinishedAt = c.now()
	}
	delete(c.cancels, id)
}

// Abandon flags a task that will never start. It stays Pending.
func (c *RunController) Abandon(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if task, ok := c.tasks[id]; ok && task.State == TaskPending {
		task.Abandoned = true
	}
}

// OnStop registers fn to run after every stop-level increase.
func (c *RunController) OnStop(fn func(level StopLevel, reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// SoftStop stops dispatch of new tasks. In-flight tasks run to completion.
// It reports whether the level changed.
func (c *RunController) SoftStop(reason string) bool {
	return c.raise(SoftStop, reason)
}

// HardStop stops dispatch and invokes the cancel callback of every running
// task. It reports whether the level changed.
func (c *RunController) HardStop(reason string) bool {
	return c.raise(HardStop, reason)
}

func (c *RunController) raise(level StopLevel, reason string) bool {
	c.mu.Lock()
	if level <= c.level {
		c.mu.Unlock()
		return false
	}
	c.level = level
	c.reason = reason

	var cancels []context.CancelFunc
	if level == HardStop {
		for id, cancel := range c.cancels {
			cancels = append(cancels, cancel)
			delete(c.cancels, id)
		}
	}
	hooks := append([]func(StopLevel, string){}, c.hooks...)
	c.mu.Unlock()

	c.logger.Info("run stop requested",
		zap.String("level", level.String()),
		zap.String("reason", reason),
		zap.Int("cancelled_in_flight", len(cancels)))

	for _, cancel := range cancels {
		cancel()
	}
	for _, fn := range hooks {
		fn(level, reason)
	}
	return true
}

// RunSnapshot is a point-in-time copy of the controller state.
type RunSnapshot struct {
	Level     string            `json:"level"`
	Reason    string            `json:"reason,omitempty"`
	Counts    map[TaskState]int `json:"counts"`
	Abandoned int               `json:"abandoned"`
	Tasks     []Task            `json:"tasks"`
}

// Snapshot copies the registry, ordered by task ID.
func (c *RunController) Snapshot() RunSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := RunSnapshot{
		Level:  c.level.String(),
		Reason: c.reason,
		Counts: map[TaskState]int{TaskPending: 0, TaskRunning: 0, TaskDone: 0},
		Tasks:  make([]Task, 0, len(c.tasks)),
	}
	for _, t := range c.tasks {
		snap.Counts[t.State]++
		if t.Abandoned {
			snap.Abandoned++
		}
		snap.Tasks = append(snap.Tasks, *t)
	}
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].ID < snap.Tasks[j].ID })
	return snap
}

// Task returns a copy of one task.
func (c *RunController) Task(id string) (Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// TasksByState returns copies of the tasks in state.
func (c *RunController) TasksByState(state TaskState) []Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Task
	for _, t := range c.tasks {
		if t.State == state {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
