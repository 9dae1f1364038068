package atlas

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

type testTask struct {
	id         uuid.UUID
	budget     time.Duration
	run        func(ctx context.Context) TaskResult
	onComplete func(TaskResult)
	ran        atomic.Bool
	results    chan TaskResult
}

func newTestTask(run func(ctx context.Context) TaskResult) *testTask {
	return &testTask{
		id:      uuid.New(),
		run:     run,
		results: make(chan TaskResult, 1),
	}
}

func (t *testTask) ID() uuid.UUID { return t.id }

func (t *testTask) Name() string { return "test" }

func (t *testTask) MaxRuntime() time.Duration { return t.budget }

func (t *testTask) Run(ctx context.Context) TaskResult {
	t.ran.Store(true)
	return t.run(ctx)
}

func (t *testTask) Complete(result TaskResult) {
	if t.onComplete != nil {
		t.onComplete(result)
	}
	t.results <- result
}

func (t *testTask) wait(tb testing.TB) TaskResult {
	tb.Helper()
	select {
	case r := <-t.results:
		return r
	case <-time.After(5 * time.Second):
		tb.Fatalf("task %s never completed", t.id)
	}
	return TaskResult{}
}

func completed(ctx context.Context) TaskResult {
	return TaskResult{Status: StatusCompleted}
}

func TestSchedulerSingleFlight(t *testing.T) {
	s := NewScheduler(SchedulerOpts{})
	defer s.Close()

	release := make(chan struct{})
	blocking := newTestTask(func(ctx context.Context) TaskResult {
		<-release
		return TaskResult{Status: StatusCompleted, Chunks: 3}
	})

	if !s.Submit(blocking) {
		t.Fatalf("idle scheduler rejected a task")
	}
	if s.State() == SlotIdle {
		t.Errorf("slot is idle right after a submit")
	}
	if s.Current() != blocking {
		t.Errorf("Current() is not the submitted task")
	}

	other := newTestTask(completed)
	if s.Submit(other) {
		t.Fatalf("busy scheduler accepted a second task")
	}

	close(release)
	result := blocking.wait(t)
	s.Wait()

	if result.Status != StatusCompleted || result.Chunks != 3 {
		t.Errorf("unexpected result %+v", result)
	}
	if result.TaskID != blocking.ID() {
		t.Errorf("result carries task id %s, want %s", result.TaskID, blocking.ID())
	}
	if s.State() != SlotIdle {
		t.Errorf("State() = %v after completion, want idle", s.State())
	}
	if s.Last().TaskID != blocking.ID() {
		t.Errorf("Last() does not describe the finished task")
	}
	if s.LastCompleted().IsZero() {
		t.Errorf("LastCompleted() was not recorded")
	}
	if other.ran.Load() {
		t.Errorf("rejected task ran")
	}

	if !s.Submit(other) {
		t.Fatalf("idle scheduler rejected a task after completion")
	}
	other.wait(t)
}

func TestSchedulerFillsInResult(t *testing.T) {
	s := NewScheduler(SchedulerOpts{})
	defer s.Close()

	task := newTestTask(func(ctx context.Context) TaskResult {
		time.Sleep(5 * time.Millisecond)
		return TaskResult{Status: StatusCompleted, Chunks: 1}
	})
	before := time.Now()
	if !s.Submit(task) {
		t.Fatal("task rejected")
	}
	result := task.wait(t)
	s.Wait()

	if result.TaskID != task.ID() || result.Name != "test" {
		t.Errorf("result names %q (%s), want test (%s)", result.Name, result.TaskID, task.ID())
	}
	if result.Started.Before(before) {
		t.Errorf("Started = %v, before the submit at %v", result.Started, before)
	}
	if result.Elapsed < 5*time.Millisecond {
		t.Errorf("Elapsed = %v, want at least 5ms", result.Elapsed)
	}
	if last := s.Last(); last.TaskID != task.ID() || last.Chunks != 1 {
		t.Errorf("Last() = %+v", last)
	}

	cancelled := newTestTask(completed)
	delayed := NewScheduler(SchedulerOpts{Delay: time.Hour})
	defer delayed.Close()
	if !delayed.Submit(cancelled) {
		t.Fatal("task rejected")
	}
	delayed.Cancel()
	if result := cancelled.wait(t); result.TaskID != cancelled.ID() || result.Status != StatusCancelled {
		t.Errorf("cancelled result = %+v", result)
	}
}

func TestSchedulerHoldsSlotDuringComplete(t *testing.T) {
	s := NewScheduler(SchedulerOpts{})
	defer s.Close()

	var during SlotState
	var accepted bool
	task := newTestTask(completed)
	task.onComplete = func(TaskResult) {
		during = s.State()
		accepted = s.Submit(newTestTask(completed))
	}
	if !s.Submit(task) {
		t.Fatal("task rejected")
	}
	task.wait(t)
	s.Wait()

	if during == SlotIdle {
		t.Errorf("slot was released before the task saw its result")
	}
	if accepted {
		t.Errorf("a task was accepted while the previous one was completing")
	}
	if s.State() != SlotIdle {
		t.Errorf("State() = %v after completion, want idle", s.State())
	}
}

func TestSchedulerPanicFails(t *testing.T) {
	s := NewScheduler(SchedulerOpts{})
	defer s.Close()

	task := newTestTask(func(ctx context.Context) TaskResult {
		panic("boom")
	})
	if !s.Submit(task) {
		t.Fatal("task rejected")
	}

	result := task.wait(t)
	s.Wait()
	if result.Status != StatusFailed || result.Err == nil {
		t.Errorf("panicking task reported %+v, want failed", result)
	}
	if s.State() != SlotIdle {
		t.Errorf("slot not released after a panic")
	}
	if !s.LastCompleted().IsZero() {
		t.Errorf("a failed task must not count as completed")
	}
}

func TestSchedulerCancelDuringDelay(t *testing.T) {
	s := NewScheduler(SchedulerOpts{Delay: time.Hour})
	defer s.Close()

	task := newTestTask(completed)
	if !s.Submit(task) {
		t.Fatal("task rejected")
	}
	if s.State() != SlotScheduled {
		t.Errorf("State() = %v, want scheduled", s.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.CancelAndWait(ctx); err != nil {
		t.Fatal(err)
	}

	result := task.wait(t)
	if result.Status != StatusCancelled {
		t.Errorf("Status = %v, want cancelled", result.Status)
	}
	if task.ran.Load() {
		t.Errorf("task ran even though it was cancelled during its delay")
	}
	if s.State() != SlotIdle {
		t.Errorf("slot not released after cancellation")
	}

	if err := s.CancelAndWait(ctx); err != nil {
		t.Errorf("cancelling an idle scheduler failed: %v", err)
	}
}

func TestSchedulerHardTimeout(t *testing.T) {
	s := NewScheduler(SchedulerOpts{HardTimeout: true})
	defer s.Close()

	task := newTestTask(func(ctx context.Context) TaskResult {
		<-ctx.Done()
		return TaskResult{Status: StatusCancelled}
	})
	task.budget = 10 * time.Millisecond

	if !s.Submit(task) {
		t.Fatal("task rejected")
	}
	if result := task.wait(t); result.Status != StatusCancelled {
		t.Errorf("Status = %v, want cancelled", result.Status)
	}
}

func TestSchedulerSoftBudget(t *testing.T) {
	s := NewScheduler(SchedulerOpts{})
	defer s.Close()

	task := newTestTask(func(ctx context.Context) TaskResult {
		time.Sleep(30 * time.Millisecond)
		if ctx.Err() != nil {
			return TaskResult{Status: StatusCancelled}
		}
		return TaskResult{Status: StatusCompleted}
	})
	task.budget = time.Millisecond

	if !s.Submit(task) {
		t.Fatal("task rejected")
	}
	if result := task.wait(t); result.Status != StatusCompleted {
		t.Errorf("a soft budget must not cancel the task, got %v", result.Status)
	}
}

func TestSchedulerClose(t *testing.T) {
	s := NewScheduler(SchedulerOpts{})

	started := make(chan struct{})
	task := newTestTask(func(ctx context.Context) TaskResult {
		close(started)
		<-ctx.Done()
		return TaskResult{Status: StatusCancelled}
	})
	if !s.Submit(task) {
		t.Fatal("task rejected")
	}
	<-started

	s.Close()
	if result := task.wait(t); result.Status != StatusCancelled {
		t.Errorf("Status = %v, want cancelled", result.Status)
	}
	if s.Submit(newTestTask(completed)) {
		t.Errorf("closed scheduler accepted a task")
	}
}
