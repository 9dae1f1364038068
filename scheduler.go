package atlas

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Task is a unit of background work run by the Scheduler.
type Task interface {
	ID() uuid.UUID
	Name() string
	Run(ctx context.Context) TaskResult
}

// TaskCompleter is implemented by tasks that want to receive their own
// result, including results produced by the scheduler on panic or
// cancellation before the task started.
type TaskCompleter interface {
	Complete(result TaskResult)
}

// Budgeted is implemented by tasks that carry a maximum runtime.
type Budgeted interface {
	MaxRuntime() time.Duration
}

type SlotState int32

const (
	SlotIdle SlotState = iota
	SlotScheduled
	SlotRunning
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotScheduled:
		return "scheduled"
	case SlotRunning:
		return "running"
	}
	return fmt.Sprintf("SlotState(%d)", int32(s))
}

type SchedulerOpts struct {
	// Delay is how long an accepted task waits before it starts.
	Delay time.Duration
	// HardTimeout cancels tasks that exceed their runtime budget instead of
	// only logging a warning.
	HardTimeout bool
}

// Scheduler runs at most one task at a time on a single worker goroutine.
// Submissions while a task is scheduled or running are rejected.
type Scheduler struct {
	opts SchedulerOpts

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32

	mu            sync.Mutex
	current       Task
	cancelCurrent context.CancelFunc
	done          chan struct{}
	last          TaskResult
	lastCompleted time.Time

	warn rate.Sometimes
}

func NewScheduler(opts SchedulerOpts) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		warn:   rate.Sometimes{First: 3, Interval: time.Minute},
	}
}

func (s *Scheduler) State() SlotState {
	return SlotState(s.state.Load())
}

// Submit accepts a task if the slot is idle and reports whether it did.
func (s *Scheduler) Submit(task Task) bool {
	if s.ctx.Err() != nil {
		return false
	}
	if !s.state.CompareAndSwap(int32(SlotIdle), int32(SlotScheduled)) {
		return false
	}

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.current = task
	s.cancelCurrent = cancel
	s.done = done
	s.mu.Unlock()

	go s.run(ctx, cancel, task, done)
	return true
}

func (s *Scheduler) run(ctx context.Context, cancel context.CancelFunc, task Task, done chan struct{}) {
	defer close(done)
	defer cancel()

	result := TaskResult{
		TaskID:  task.ID(),
		Name:    task.Name(),
		Status:  StatusCancelled,
		Started: time.Now(),
	}

	timer := time.NewTimer(s.opts.Delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		s.finish(task, stamp(task, result, result.Started))
		return
	case <-timer.C:
	}

	s.state.Store(int32(SlotRunning))
	start := time.Now()
	s.finish(task, stamp(task, s.execute(ctx, task), start))
}

// stamp fills in what a task left out of its own result.
func stamp(task Task, result TaskResult, start time.Time) TaskResult {
	if result.TaskID == uuid.Nil {
		result.TaskID = task.ID()
	}
	if result.Name == "" {
		result.Name = task.Name()
	}
	if result.Started.IsZero() {
		result.Started = start
	}
	if result.Elapsed == 0 {
		result.Elapsed = time.Since(start)
	}
	return result
}

func (s *Scheduler) execute(ctx context.Context, task Task) (result TaskResult) {
	start := time.Now()

	if b, ok := task.(Budgeted); ok && b.MaxRuntime() > 0 {
		budget := b.MaxRuntime()
		if s.opts.HardTimeout {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, budget)
			defer cancel()
		} else {
			t := time.AfterFunc(budget, func() {
				s.warn.Do(func() {
					log.Printf("[scheduler] task %s (%s) exceeded its runtime budget of %v", task.Name(), task.ID(), budget)
				})
			})
			defer t.Stop()
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[scheduler] task %s (%s) panicked: %v\n%s", task.Name(), task.ID(), r, debug.Stack())
			result = TaskResult{
				TaskID:  task.ID(),
				Name:    task.Name(),
				Status:  StatusFailed,
				Started: start,
				Elapsed: time.Since(start),
				Err:     fmt.Errorf("task panicked: %v", r),
			}
		}
	}()

	return task.Run(ctx)
}

func (s *Scheduler) finish(task Task, result TaskResult) {
	s.mu.Lock()
	s.last = result
	if result.Status == StatusCompleted {
		s.lastCompleted = time.Now()
	}
	s.current = nil
	s.cancelCurrent = nil
	s.mu.Unlock()

	// the slot stays held until the task has seen its result, so the next
	// poll observes whatever Complete recorded
	if c, ok := task.(TaskCompleter); ok {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[scheduler] completion of task %s panicked: %v", task.Name(), r)
				}
			}()
			c.Complete(result)
		}()
	}

	s.state.Store(int32(SlotIdle))
}

// Current returns the scheduled or running task, if any.
func (s *Scheduler) Current() Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Last returns the result of the most recently finished task.
func (s *Scheduler) Last() TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// LastCompleted returns when a task last finished with StatusCompleted.
func (s *Scheduler) LastCompleted() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCompleted
}

// Cancel signals the current task to stop. It returns a channel closed once
// the worker is done with it, or nil if nothing was running.
func (s *Scheduler) Cancel() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelCurrent == nil {
		return nil
	}
	s.cancelCurrent()
	return s.done
}

// CancelAndWait cancels the current task and waits for the worker to finish
// it, or for ctx to expire.
func (s *Scheduler) CancelAndWait(ctx context.Context) error {
	done := s.Cancel()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the current task, if any, has finished.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close cancels the current task, waits for it and rejects further
// submissions.
func (s *Scheduler) Close() {
	s.cancel()
	s.Wait()
}
