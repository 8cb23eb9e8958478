// Package schedule runs fixed-delay callbacks for the chat and game engines.
package schedule

import (
	"sort"
	"sync"
	"time"
)

// Cancel stops a pending callback. It reports whether the callback was
// prevented from running.
type Cancel func() bool

// Scheduler runs fn once after d has elapsed.
type Scheduler interface {
	After(d time.Duration, fn func()) Cancel
}

// Real schedules callbacks on the runtime timer.
type Real struct{}

// After implements Scheduler.
func (Real) After(d time.Duration, fn func()) Cancel {
	t := time.AfterFunc(d, fn)
	return t.Stop
}

// Manual is a Scheduler driven by explicit calls to Advance. Callbacks run on
// the goroutine that calls Advance, in due-time order.
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	due      time.Duration
	seq      int
	fn       func()
	canceled bool
}

// NewManual returns a Manual scheduler at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

// After implements Scheduler.
func (m *Manual) After(d time.Duration, fn func()) Cancel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	task := &manualTask{due: m.now + d, seq: m.seq, fn: fn}
	m.tasks = append(m.tasks, task)

	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, t := range m.tasks {
			if t == task {
				task.canceled = true
				m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
				return true
			}
		}
		return false
	}
}

// Advance moves virtual time forward by d and runs every callback that falls
// due, including callbacks scheduled by callbacks within the window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		sort.SliceStable(m.tasks, func(i, j int) bool {
			if m.tasks[i].due == m.tasks[j].due {
				return m.tasks[i].seq < m.tasks[j].seq
			}
			return m.tasks[i].due < m.tasks[j].due
		})
		if len(m.tasks) == 0 || m.tasks[0].due > target {
			m.now = target
			m.mu.Unlock()
			return
		}
		task := m.tasks[0]
		m.tasks = m.tasks[1:]
		m.now = task.due
		m.mu.Unlock()

		task.fn()
	}
}

// Pending returns the number of callbacks still waiting to run.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}
