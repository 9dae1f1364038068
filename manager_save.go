package atlas

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const SaveManagerName = "save"

// ErrNoSaver is returned by SaveTask when it was created without a saver.
var ErrNoSaver = errors.New("no map saver")

// SaveTask runs a MapSaver on the scheduler's worker.
type SaveTask struct {
	id       uuid.UUID
	saver    *MapSaver
	notifier Notifier

	// Path is set once the task has written its file.
	Path string
}

func NewSaveTask(saver *MapSaver, notifier Notifier) *SaveTask {
	return &SaveTask{
		id:       uuid.New(),
		saver:    saver,
		notifier: notifier,
	}
}

func (t *SaveTask) ID() uuid.UUID { return t.id }

func (t *SaveTask) Name() string { return SaveManagerName }

func (t *SaveTask) Run(ctx context.Context) (result TaskResult) {
	result = TaskResult{
		TaskID:  t.id,
		Name:    t.Name(),
		Status:  StatusCompleted,
		Started: time.Now(),
	}
	defer func() {
		result.Elapsed = time.Since(result.Started)
	}()

	if t.saver == nil {
		result.Status = StatusFailed
		result.Err = ErrNoSaver
		return result
	}

	// the export and the tiles on disk should agree
	t.saver.cache.FlushToDisk(false)

	path, err := t.saver.Save(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		result.Status = StatusCancelled
		return result
	} else if err != nil {
		result.Status = StatusFailed
		result.Err = err
		return result
	}
	t.Path = path
	return result
}

func (t *SaveTask) Complete(result TaskResult) {
	if t.saver == nil {
		return
	}
	ev := Event{
		Dimension: t.saver.Dimension(),
		Variant:   t.saver.Variant().String(),
		Path:      t.Path,
	}
	switch result.Status {
	case StatusCompleted:
		ev.Kind = EventSaveFinished
		ev.Message = fmt.Sprintf("saved map to %s", t.Path)
	case StatusCancelled:
		ev.Kind = EventSaveFailed
		ev.Message = "map save was cancelled"
	default:
		ev.Kind = EventSaveFailed
		ev.Message = fmt.Sprintf("failed to save map: %v", result.Err)
		if result.Err != nil {
			ev.Err = result.Err.Error()
		}
	}
	notify(t.notifier, ev)
}

// SaveManager yields a single SaveTask once a saver is set. The saver is
// consumed as soon as the task is offered to the scheduler, whether it was
// accepted or not.
type SaveManager struct {
	notifier Notifier

	mu    sync.Mutex
	saver *MapSaver
}

func NewSaveManager(notifier Notifier) *SaveManager {
	return &SaveManager{notifier: notifier}
}

func (m *SaveManager) Name() string { return SaveManagerName }

// Enable sets the saver to run. params must be a *MapSaver.
func (m *SaveManager) Enable(params any) bool {
	saver, ok := params.(*MapSaver)
	if !ok || saver == nil {
		return m.IsEnabled()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saver = saver
	return true
}

func (m *SaveManager) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saver != nil
}

func (m *SaveManager) Poll(now time.Time) Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saver == nil {
		return nil
	}
	return NewSaveTask(m.saver, m.notifier)
}

func (m *SaveManager) OnAccepted(task Task, accepted bool) {
	m.Disable()
}

func (m *SaveManager) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saver = nil
}
