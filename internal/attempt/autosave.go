package attempt

import (
	"time"

	"quiz-attempt-service/internal/clock"
)

// SaveReason says which trigger started a draft save.
type SaveReason string

const (
	SaveDebounced SaveReason = "debounce"
	SavePeriodic  SaveReason = "periodic"
	SaveForced    SaveReason = "forced"
	SaveFollowUp  SaveReason = "follow_up"
)

// Autosave decides when draft answers are persisted. It never performs I/O
// itself: launch is asked to start a save for a mutation version, and the
// owner reports the outcome through Settle. At most one save is in flight.
//
// Autosave is not safe for concurrent use; scheduled callbacks are passed
// through wrap so the owner can serialize them with its other events.
type Autosave struct {
	sched    clock.Scheduler
	debounce time.Duration
	interval time.Duration
	wrap     func(func()) func()
	launch   func(version uint64, reason SaveReason)

	version     uint64
	dirty       bool
	inFlight    bool
	queued      bool
	debounceGen uint64
	debounceOff clock.CancelFunc
	periodicOff clock.CancelFunc
	stopped     bool

	lastSavedAt *time.Time
	lastErr     error
}

func NewAutosave(sched clock.Scheduler, debounce, interval time.Duration, wrap func(func()) func(), launch func(uint64, SaveReason)) *Autosave {
	if wrap == nil {
		wrap = func(f func()) func() { return f }
	}
	return &Autosave{
		sched:    sched,
		debounce: debounce,
		interval: interval,
		wrap:     wrap,
		launch:   launch,
	}
}

// Start arms the periodic safety-net trigger.
func (a *Autosave) Start() {
	if a.stopped || a.periodicOff != nil || a.interval <= 0 {
		return
	}
	a.periodicOff = a.sched.Every(a.interval, a.wrap(func() { a.trigger(SavePeriodic) }))
}

// MarkDirty records a mutation and restarts the debounce window.
func (a *Autosave) MarkDirty() {
	if a.stopped {
		return
	}
	a.version++
	a.dirty = true
	a.cancelDebounce()
	a.debounceGen++
	gen := a.debounceGen
	a.debounceOff = a.sched.AfterFunc(a.debounce, a.wrap(func() {
		if gen != a.debounceGen {
			return
		}
		a.debounceOff = nil
		a.trigger(SaveDebounced)
	}))
}

// ForceSave saves now if there is anything to save.
func (a *Autosave) ForceSave() {
	a.cancelDebounce()
	a.trigger(SaveForced)
}

func (a *Autosave) trigger(reason SaveReason) {
	if a.stopped || !a.dirty {
		return
	}
	if a.inFlight {
		a.queued = true
		return
	}
	a.inFlight = true
	a.launch(a.version, reason)
}

// Settle applies the result of the save launched for version. A success
// only clears the dirty flag when no mutation happened since the snapshot.
// A failure keeps the state dirty and leaves retrying to the next trigger.
func (a *Autosave) Settle(version uint64, savedAt time.Time, err error) {
	a.inFlight = false
	queued := a.queued
	a.queued = false
	if err != nil {
		a.lastErr = err
		return
	}
	a.lastErr = nil
	a.lastSavedAt = &savedAt
	if version == a.version {
		a.dirty = false
	}
	if queued && a.dirty {
		a.trigger(SaveFollowUp)
	}
}

// Stop cancels pending debounce and periodic triggers. A save already in
// flight is unaffected.
func (a *Autosave) Stop() {
	a.stopped = true
	a.cancelDebounce()
	if a.periodicOff != nil {
		a.periodicOff()
		a.periodicOff = nil
	}
}

func (a *Autosave) cancelDebounce() {
	a.debounceGen++
	if a.debounceOff != nil {
		a.debounceOff()
		a.debounceOff = nil
	}
}

func (a *Autosave) Dirty() bool    { return a.dirty }
func (a *Autosave) Saving() bool   { return a.inFlight }
func (a *Autosave) LastErr() error { return a.lastErr }

func (a *Autosave) LastSavedAt() *time.Time {
	if a.lastSavedAt == nil {
		return nil
	}
	t := *a.lastSavedAt
	return &t
}
