package atlas

import (
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Manager decides whether and what to render next. Managers are only called
// from the driving goroutine through a TaskController.
type Manager interface {
	Name() string
	// Enable turns the manager on. params is manager specific; the return
	// value reports whether the manager is enabled afterwards.
	Enable(params any) bool
	IsEnabled() bool
	// Poll returns the next task, or nil if there is nothing to do now.
	Poll(now time.Time) Task
	// OnAccepted is called with every task returned by Poll, reporting
	// whether the scheduler took it.
	OnAccepted(task Task, accepted bool)
	Disable()
}

// TaskController polls its managers in order and hands the first task it
// gets to the scheduler.
type TaskController struct {
	scheduler *Scheduler
	managers  []Manager

	mu   sync.Mutex
	warn rate.Sometimes
}

func NewTaskController(scheduler *Scheduler, managers ...Manager) *TaskController {
	return &TaskController{
		scheduler: scheduler,
		managers:  managers,
		warn:      rate.Sometimes{First: 1, Interval: 5 * time.Minute},
	}
}

func (c *TaskController) Scheduler() *Scheduler {
	return c.scheduler
}

func (c *TaskController) Manager(name string) Manager {
	for _, m := range c.managers {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

// EnableAll enables every manager with no parameters.
func (c *TaskController) EnableAll() {
	for _, m := range c.managers {
		if !m.Enable(nil) {
			log.Printf("[scheduler] %s not initially enabled", m.Name())
		}
	}
}

func (c *TaskController) DisableAll() {
	for _, m := range c.managers {
		if m.IsEnabled() {
			m.Disable()
		}
	}
}

func (c *TaskController) IsEnabled(name string) bool {
	m := c.Manager(name)
	return m != nil && m.IsEnabled()
}

// Toggle enables or disables a manager by name and reports whether it is
// enabled afterwards.
func (c *TaskController) Toggle(name string, enable bool, params any) bool {
	m := c.Manager(name)
	if m == nil {
		log.Printf("[scheduler] couldn't toggle %s: no such manager", name)
		return false
	}

	if m.IsEnabled() {
		if !enable {
			m.Disable()
		}
	} else if enable {
		m.Enable(params)
	}
	return m.IsEnabled()
}

func (c *TaskController) nextManager() Manager {
	for _, m := range c.managers {
		if m.IsEnabled() {
			return m
		}
	}
	return nil
}

// PerformTasks polls the first enabled manager if the scheduler slot is idle
// and submits its task. It returns the submitted task, if any.
func (c *TaskController) PerformTasks(now time.Time) Task {
	if !c.mu.TryLock() {
		log.Printf("[scheduler] tasks are already being performed")
		return nil
	}
	defer c.mu.Unlock()

	if c.scheduler.State() != SlotIdle {
		return nil
	}

	m := c.nextManager()
	if m == nil {
		c.warn.Do(func() {
			log.Printf("[scheduler] no task managers enabled")
		})
		return nil
	}

	task := m.Poll(now)
	if task == nil {
		return nil
	}

	accepted := c.scheduler.Submit(task)
	m.OnAccepted(task, accepted)
	if !accepted {
		return nil
	}
	return task
}
