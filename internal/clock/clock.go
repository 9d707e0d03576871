// Package clock provides the scheduler the attempt controller uses for
// ticks and autosave triggers. The real scheduler wraps package time; the
// manual one is advanced explicitly by tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// CancelFunc stops a scheduled callback. Calling it more than once is safe.
type CancelFunc func()

// Scheduler schedules callbacks. Callbacks may run on any goroutine.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) CancelFunc
	Every(d time.Duration, f func()) CancelFunc
}

// Real returns a Scheduler backed by the system clock.
func Real() Scheduler { return realScheduler{} }

type realScheduler struct{}

func (realScheduler) Now() time.Time { return time.Now() }

func (realScheduler) AfterFunc(d time.Duration, f func()) CancelFunc {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

func (realScheduler) Every(d time.Duration, f func()) CancelFunc {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	var once sync.Once
	go func() {
		for {
			select {
			case <-ticker.C:
				f()
			case <-done:
				return
			}
		}
	}()
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// Manual is a deterministic Scheduler. Callbacks run synchronously inside
// Advance, in due-time order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers map[int]*manualTimer
}

type manualTimer struct {
	id     int
	due    time.Time
	period time.Duration
	f      func()
}

// NewManual starts a manual clock at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, timers: make(map[int]*manualTimer)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, f func()) CancelFunc {
	return m.schedule(d, 0, f)
}

func (m *Manual) Every(d time.Duration, f func()) CancelFunc {
	return m.schedule(d, d, f)
}

func (m *Manual) schedule(d, period time.Duration, f func()) CancelFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := m.seq
	m.timers[id] = &manualTimer{id: id, due: m.now.Add(d), period: period, f: f}
	return func() {
		m.mu.Lock()
		delete(m.timers, id)
		m.mu.Unlock()
	}
}

// Pending reports how many callbacks are scheduled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Advance moves the clock forward by d, firing every callback that falls
// due on the way. Periodic callbacks fire once per elapsed period.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = next.due
		if next.period > 0 {
			next.due = next.due.Add(next.period)
		} else {
			delete(m.timers, next.id)
		}
		f := next.f
		m.mu.Unlock()

		f()
	}
}

func (m *Manual) nextDueLocked(target time.Time) *manualTimer {
	due := make([]*manualTimer, 0, len(m.timers))
	for _, t := range m.timers {
		if !t.due.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].due.Equal(due[j].due) {
			return due[i].due.Before(due[j].due)
		}
		return due[i].id < due[j].id
	})
	return due[0]
}
