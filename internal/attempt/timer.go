package attempt

import (
	"fmt"

	"quiz-attempt-service/internal/domain"
)

// UrgencyTier classifies the remaining time for display and announcements.
type UrgencyTier string

const (
	TierNormal   UrgencyTier = "normal"
	TierWarning  UrgencyTier = "warning"
	TierCritical UrgencyTier = "critical"
)

// TierFor returns the tier for remaining seconds: critical at 60s or less,
// warning from 61s to 120s, normal above.
func TierFor(seconds int) UrgencyTier {
	switch {
	case seconds <= 60:
		return TierCritical
	case seconds <= 120:
		return TierWarning
	}
	return TierNormal
}

func tierRank(t UrgencyTier) int {
	switch t {
	case TierWarning:
		return 1
	case TierCritical:
		return 2
	}
	return 0
}

// FormatClock renders seconds as MM:SS. Minutes are not rolled into hours.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// TierAnnouncement is the accessibility text for entering a tier.
func TierAnnouncement(t UrgencyTier) string {
	switch t {
	case TierWarning:
		return "2 minutes remaining"
	case TierCritical:
		return "1 minute remaining"
	}
	return ""
}

// Timer is the countdown state machine:
// idle -> running <-> paused, running -> expired (terminal).
// An unlimited timer never leaves idle and never fires callbacks.
type Timer struct {
	limited   bool
	remaining int
	status    domain.TimerStatus
	tier      UrgencyTier

	onExpire func()
	onTier   func(UrgencyTier)
}

// NewTimer builds a timer. remaining == nil means no time limit.
func NewTimer(remaining *int, onExpire func(), onTier func(UrgencyTier)) *Timer {
	t := &Timer{status: domain.TimerIdle, tier: TierNormal, onExpire: onExpire, onTier: onTier}
	if remaining != nil {
		t.limited = true
		t.remaining = *remaining
		t.tier = TierFor(t.remaining)
	}
	return t
}

func (t *Timer) Limited() bool              { return t.limited }
func (t *Timer) Status() domain.TimerStatus { return t.status }
func (t *Timer) Tier() UrgencyTier          { return t.tier }

// Remaining returns the remaining seconds, or nil when unlimited.
func (t *Timer) Remaining() *int {
	if !t.limited {
		return nil
	}
	r := t.remaining
	return &r
}

func (t *Timer) State() domain.TimerState {
	return domain.TimerState{RemainingSeconds: t.Remaining(), Status: t.status}
}

// Start moves idle -> running. Starting at zero expires immediately. The
// tier a timer starts in is not announced; only crossings are.
func (t *Timer) Start(initialSeconds int) bool {
	if !t.limited || t.status != domain.TimerIdle {
		return false
	}
	if initialSeconds < 0 {
		initialSeconds = 0
	}
	t.remaining = initialSeconds
	t.tier = TierFor(initialSeconds)
	t.status = domain.TimerRunning
	if t.remaining == 0 {
		t.expire()
	}
	return true
}

// Tick decrements by one second while running.
func (t *Timer) Tick() {
	if t.status != domain.TimerRunning {
		return
	}
	t.set(t.remaining - 1)
}

func (t *Timer) Pause() bool {
	if t.status != domain.TimerRunning {
		return false
	}
	t.status = domain.TimerPaused
	return true
}

func (t *Timer) Resume() bool {
	if t.status != domain.TimerPaused {
		return false
	}
	t.status = domain.TimerRunning
	return true
}

// Expire forces the terminal state. It reports whether the transition happened.
func (t *Timer) Expire() bool {
	if !t.limited || t.status == domain.TimerExpired {
		return false
	}
	t.remaining = 0
	t.expire()
	return true
}

// Sync applies an authoritative remaining value. Only values lower than the
// local countdown are accepted so the countdown never moves backwards.
func (t *Timer) Sync(serverRemaining int) bool {
	if t.status != domain.TimerRunning && t.status != domain.TimerPaused {
		return false
	}
	if serverRemaining >= t.remaining {
		return false
	}
	t.set(serverRemaining)
	return true
}

func (t *Timer) set(seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	t.remaining = seconds
	if seconds > 0 {
		// A jump past both thresholds announces each one in order.
		target := tierRank(TierFor(seconds))
		for _, tier := range []UrgencyTier{TierWarning, TierCritical} {
			if tierRank(tier) <= tierRank(t.tier) || tierRank(tier) > target {
				continue
			}
			t.tier = tier
			if t.onTier != nil {
				t.onTier(tier)
			}
		}
	}
	if t.remaining == 0 {
		t.expire()
	}
}

func (t *Timer) expire() {
	t.status = domain.TimerExpired
	t.tier = TierCritical
	if t.onExpire != nil {
		t.onExpire()
	}
}
