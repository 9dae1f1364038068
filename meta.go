package atlas

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TaskStatus int

const (
	StatusCompleted TaskStatus = iota
	StatusCancelled
	StatusFailed
)

func (s TaskStatus) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("TaskStatus(%d)", int(s))
}

func (s TaskStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TaskResult is what a finished task reports back to the manager that
// created it. Failures never escape a task as errors or panics, they end up
// here.
type TaskResult struct {
	TaskID  uuid.UUID     `json:"taskId"`
	Name    string        `json:"name"`
	Status  TaskStatus    `json:"status"`
	Chunks  int           `json:"chunks"`
	Errors  int           `json:"errors"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed"`
	Flushed int           `json:"flushed"`
	Jobs    []JobResult   `json:"jobs,omitempty"`
	Err     error         `json:"-"`
}

// JobResult breaks a render task's counters down per job.
type JobResult struct {
	Variants []MapVariant  `json:"-"`
	Chunks   int           `json:"chunks"`
	Errors   int           `json:"errors"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Message is a short human readable summary for logs and notifications.
func (r TaskResult) Message() string {
	msg := fmt.Sprintf("%s %s: %d chunks, %d errors in %dms", r.Name, r.Status, r.Chunks, r.Errors, r.Elapsed.Milliseconds())
	if r.Err != nil {
		msg += ": " + r.Err.Error()
	}
	return msg
}
