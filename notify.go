package atlas

import (
	"fmt"
	"log"
	"sync"
	"time"
)

type EventKind int

const (
	EventAutomapProgress EventKind = iota
	EventAutomapComplete
	EventRegionSkipped
	EventSaveFinished
	EventSaveFailed
	EventTaskFailed
)

func (k EventKind) String() string {
	switch k {
	case EventAutomapProgress:
		return "automap-progress"
	case EventAutomapComplete:
		return "automap-complete"
	case EventRegionSkipped:
		return "region-skipped"
	case EventSaveFinished:
		return "save-finished"
	case EventSaveFailed:
		return "save-failed"
	case EventTaskFailed:
		return "task-failed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event carries the status detail a user facing layer needs to tell the user
// what happened to background work.
type Event struct {
	Kind      EventKind    `json:"kind"`
	Time      time.Time    `json:"time"`
	Message   string       `json:"message"`
	Dimension int          `json:"dimension"`
	Variant   string       `json:"variant,omitempty"`
	Percent   float64      `json:"percent,omitempty"`
	Region    *RegionCoord `json:"region,omitempty"`
	Path      string       `json:"path,omitempty"`
	Err       string       `json:"error,omitempty"`
}

type Notifier interface {
	Notify(e Event)
}

type NotifierFunc func(e Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// LogNotifier writes events to the standard logger.
type LogNotifier struct{}

func (LogNotifier) Notify(e Event) {
	switch e.Kind {
	case EventAutomapProgress, EventAutomapComplete:
		log.Printf("[automap] %s", e.Message)
	case EventSaveFinished, EventSaveFailed:
		log.Printf("[save] %s", e.Message)
	default:
		log.Printf("[%s] %s", e.Kind, e.Message)
	}
}

// EventLog keeps the most recent events for status reporting and forwards
// each one to an optional next notifier.
type EventLog struct {
	mu     sync.Mutex
	size   int
	events []Event
	next   Notifier
}

func NewEventLog(size int, next Notifier) *EventLog {
	if size <= 0 {
		size = 32
	}
	return &EventLog{size: size, next: next}
}

func (l *EventLog) Notify(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, e)
	if len(l.events) > l.size {
		l.events = l.events[len(l.events)-l.size:]
	}
	l.mu.Unlock()

	if l.next != nil {
		l.next.Notify(e)
	}
}

// Recent returns the retained events, oldest first.
func (l *EventLog) Recent() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func notify(n Notifier, e Event) {
	if n == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	n.Notify(e)
}
