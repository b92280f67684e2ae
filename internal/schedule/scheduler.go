// Package schedule runs keyed, cancellable deferred tasks.
package schedule

import (
	"sync"
	"time"
)

// Runner executes a fired task inside its owner's serialized context,
// for example while holding a room lock.
type Runner func(task func())

// Scheduler keeps at most one pending task per key. Scheduling a key that is
// already pending replaces the earlier task. A task only runs if it is still the
// current task for its key when the runner gets to it, so a cancel or replace
// that wins the race always suppresses the stale task.
//
// Tasks should still re-check their own preconditions: the scheduler only knows
// about keys, not about the state the task acts on.
type Scheduler struct {
	mu      sync.Mutex
	run     Runner
	tasks   map[string]*task
	stopped bool
}

type task struct {
	timer *time.Timer
}

// New creates a Scheduler. A nil runner calls tasks directly on the timer goroutine.
func New(run Runner) *Scheduler {
	if run == nil {
		run = func(fn func()) { fn() }
	}
	return &Scheduler{
		run:   run,
		tasks: make(map[string]*task),
	}
}

// After schedules fn to run once after d under key, replacing any pending task for key.
// It is a no-op after Stop.
func (s *Scheduler) After(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if prev, ok := s.tasks[key]; ok {
		prev.timer.Stop()
	}

	t := &task{}
	t.timer = time.AfterFunc(d, func() {
		s.run(func() {
			if s.claim(key, t) {
				fn()
			}
		})
	})
	s.tasks[key] = t
}

// claim removes t from the pending set if it is still the task registered for key.
func (s *Scheduler) claim(key string, t *task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.tasks[key] != t {
		return false
	}
	delete(s.tasks, key)
	return true
}

// Cancel drops the pending task for key. It reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	return true
}

// Pending reports whether a task is waiting under key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every pending task and rejects new ones. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
}
