package attempt

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-attempt-service/internal/clock"
	"quiz-attempt-service/internal/domain"
)

func TestTierFor(t *testing.T) {
	cases := map[int]UrgencyTier{
		0:    TierCritical,
		60:   TierCritical,
		61:   TierWarning,
		120:  TierWarning,
		121:  TierNormal,
		3600: TierNormal,
	}
	for seconds, want := range cases {
		assert.Equal(t, want, TierFor(seconds), "seconds=%d", seconds)
	}
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "00:00", FormatClock(0))
	assert.Equal(t, "01:05", FormatClock(65))
	assert.Equal(t, "30:00", FormatClock(1800))
	assert.Equal(t, "90:00", FormatClock(5400))
	assert.Equal(t, "00:00", FormatClock(-3))
}

func TestTimerExpiresOnce(t *testing.T) {
	expired := 0
	var tiers []UrgencyTier
	timer := NewTimer(intPtr(3), func() { expired++ }, func(tier UrgencyTier) { tiers = append(tiers, tier) })

	require.True(t, timer.Start(3))
	last := 3
	for i := 0; i < 10; i++ {
		timer.Tick()
		r := *timer.Remaining()
		assert.LessOrEqual(t, r, last)
		last = r
	}
	assert.Equal(t, 1, expired)
	assert.Equal(t, domain.TimerExpired, timer.Status())
	assert.False(t, timer.Expire())
	assert.Empty(t, tiers, "starting inside the critical tier is not a crossing")
}

func TestTimerStartAtZeroExpires(t *testing.T) {
	expired := 0
	timer := NewTimer(intPtr(0), func() { expired++ }, nil)
	require.True(t, timer.Start(0))
	assert.Equal(t, domain.TimerExpired, timer.Status())
	assert.Equal(t, 1, expired)
}

func TestTimerPauseAndSync(t *testing.T) {
	timer := NewTimer(intPtr(300), nil, nil)
	assert.False(t, timer.Pause(), "idle timer cannot pause")
	timer.Start(300)

	require.True(t, timer.Pause())
	timer.Tick()
	assert.Equal(t, 300, *timer.Remaining())
	assert.False(t, timer.Sync(400))
	assert.True(t, timer.Sync(250))
	require.True(t, timer.Resume())
	timer.Tick()
	assert.Equal(t, 249, *timer.Remaining())
}

func TestTimerSyncAnnouncesEachCrossedTier(t *testing.T) {
	var tiers []UrgencyTier
	timer := NewTimer(intPtr(600), nil, func(tier UrgencyTier) { tiers = append(tiers, tier) })
	timer.Start(600)
	timer.Sync(45)
	assert.Equal(t, []UrgencyTier{TierWarning, TierCritical}, tiers)
	assert.Equal(t, TierCritical, timer.Tier())

	// From warning only the remaining threshold is announced.
	tiers = nil
	timer = NewTimer(intPtr(600), nil, func(tier UrgencyTier) { tiers = append(tiers, tier) })
	timer.Start(600)
	timer.Sync(100)
	timer.Sync(30)
	assert.Equal(t, []UrgencyTier{TierWarning, TierCritical}, tiers)

	// A jump straight to zero expires without announcing.
	tiers = nil
	timer = NewTimer(intPtr(600), nil, func(tier UrgencyTier) { tiers = append(tiers, tier) })
	timer.Start(600)
	timer.Sync(0)
	assert.Empty(t, tiers)
	assert.Equal(t, domain.TimerExpired, timer.Status())
}

func TestUnlimitedTimerIsInert(t *testing.T) {
	timer := NewTimer(nil, func() { t.Fatal("unlimited timer expired") }, nil)
	assert.False(t, timer.Start(10))
	timer.Tick()
	assert.False(t, timer.Expire())
	assert.Nil(t, timer.Remaining())
}

type launch struct {
	version uint64
	reason  SaveReason
}

func TestAutosaveDebounceRestartsOnEdit(t *testing.T) {
	sched := clock.NewManual(t0)
	var launches []launch
	a := NewAutosave(sched, 3*time.Second, 30*time.Second, nil, func(v uint64, r SaveReason) {
		launches = append(launches, launch{v, r})
	})
	a.Start()

	a.MarkDirty()
	sched.Advance(2 * time.Second)
	a.MarkDirty()
	sched.Advance(2 * time.Second)
	assert.Empty(t, launches)
	sched.Advance(time.Second)
	require.Equal(t, []launch{{2, SaveDebounced}}, launches)
	assert.True(t, a.Saving())

	a.Settle(2, t0, nil)
	assert.False(t, a.Dirty())
	sched.Advance(30 * time.Second)
	assert.Len(t, launches, 1, "periodic trigger skips a clean state")
}

func TestAutosaveQueuesOneFollowUp(t *testing.T) {
	sched := clock.NewManual(t0)
	var launches []launch
	a := NewAutosave(sched, time.Second, 0, nil, func(v uint64, r SaveReason) {
		launches = append(launches, launch{v, r})
	})

	a.MarkDirty()
	a.ForceSave()
	for i := 0; i < 5; i++ {
		a.MarkDirty()
		a.ForceSave()
	}
	require.Len(t, launches, 1)

	a.Settle(1, t0, nil)
	require.Equal(t, launch{6, SaveFollowUp}, launches[1])
	a.Settle(6, t0, nil)
	assert.Len(t, launches, 2)
	assert.False(t, a.Dirty())
	assert.Equal(t, 0, sched.Pending())
}

func TestAutosaveFailureKeepsDirty(t *testing.T) {
	sched := clock.NewManual(t0)
	launched := 0
	a := NewAutosave(sched, time.Second, 0, nil, func(uint64, SaveReason) { launched++ })

	a.MarkDirty()
	a.ForceSave()
	a.MarkDirty()
	a.Settle(1, t0, errors.New("boom"))
	assert.Equal(t, 1, launched, "no immediate retry after a failure")
	assert.True(t, a.Dirty())
	assert.Error(t, a.LastErr())
	assert.Nil(t, a.LastSavedAt())

	sched.Advance(time.Second)
	assert.Equal(t, 2, launched)
}

func TestAutosaveStopCancelsTriggers(t *testing.T) {
	sched := clock.NewManual(t0)
	a := NewAutosave(sched, time.Second, 5*time.Second, nil, func(uint64, SaveReason) { t.Fatal("save after stop") })
	a.Start()
	a.MarkDirty()
	a.Stop()
	a.MarkDirty()
	sched.Advance(time.Minute)
	assert.Equal(t, 0, sched.Pending())
}

func TestFocusDetector(t *testing.T) {
	d := NewFocusDetector(true, 1)
	assert.False(t, d.OnVisibilityChange(true, true))
	assert.True(t, d.OnVisibilityChange(false, true))
	assert.False(t, d.OnVisibilityChange(false, true), "hidden -> hidden is not a transition")
	assert.Equal(t, 2, d.Count())
	assert.True(t, d.WarningOpen())
	assert.True(t, d.Acknowledge())
	assert.False(t, d.Acknowledge())

	d.OnVisibilityChange(true, false)
	assert.False(t, d.OnVisibilityChange(false, false), "inactive sessions are not counted")
	assert.Equal(t, 2, d.Count())

	disabled := NewFocusDetector(false, 0)
	assert.False(t, disabled.OnVisibilityChange(false, true))
	assert.Equal(t, 0, disabled.Count())
}

func TestSubmissionTransitions(t *testing.T) {
	s := NewSubmission()
	n, opened := s.OpenConfirm(5, 2)
	assert.Equal(t, 3, n)
	assert.True(t, opened)
	assert.True(t, s.dialogOpen())

	require.True(t, s.BeginManual())
	assert.False(t, s.BeginManual())
	assert.False(t, s.BeginAuto())
	assert.True(t, s.dialogOpen())

	assert.False(t, s.Settle(domain.SubmitResult{}, errors.New("timeout")))
	assert.Equal(t, PhaseConfirming, s.Phase())
	assert.ErrorIs(t, s.LastErr(), domain.ErrSubmitFailed)
	assert.True(t, s.retryable())

	require.True(t, s.BeginManual())
	assert.Nil(t, s.LastErr())
	assert.True(t, s.Settle(domain.SubmitResult{Score: 4, MaxScore: 5}, nil))
	assert.True(t, s.Terminal())
	assert.Equal(t, 4.0, s.Result().Score)
	assert.False(t, s.CancelConfirm())
	_, opened = s.OpenConfirm(5, 5)
	assert.False(t, opened)
}

func TestUnansweredWarning(t *testing.T) {
	assert.Empty(t, UnansweredWarning(0))
	assert.Equal(t, "You have 1 unanswered question.", UnansweredWarning(1))
	assert.Equal(t, "You have 4 unanswered questions.", UnansweredWarning(4))
}

func TestResolveShortcut(t *testing.T) {
	mc := &domain.Question{ID: "q", Type: domain.QuestionMultipleChoice, Options: []domain.Option{{ID: "x"}, {ID: "y"}}}
	short := &domain.Question{ID: "s", Type: domain.QuestionShortAnswer}

	assert.Equal(t, actionAnswer, resolveShortcut(KeyEvent{Key: "1"}, mc, false).action)
	assert.Equal(t, domain.MultipleChoiceAnswer{SelectedOptionID: "y"}, resolveShortcut(KeyEvent{Key: "2"}, mc, false).answer)
	assert.Equal(t, actionNone, resolveShortcut(KeyEvent{Key: "3"}, mc, false).action)
	assert.Equal(t, actionNone, resolveShortcut(KeyEvent{Key: "1"}, mc, true).action)
	assert.Equal(t, actionNone, resolveShortcut(KeyEvent{Key: "t"}, short, false).action)
	assert.Equal(t, actionCloseModals, resolveShortcut(KeyEvent{Key: KeyEscape, InTextField: true}, short, true).action)
	assert.Equal(t, actionNext, resolveShortcut(KeyEvent{Key: KeyArrowRight}, nil, false).action)
}

func TestClampIndex(t *testing.T) {
	assert.Equal(t, -1, clampIndex(3, 0))
	assert.Equal(t, 0, clampIndex(-5, 4))
	assert.Equal(t, 3, clampIndex(9, 4))
	assert.Equal(t, 2, clampIndex(2, 4))
}
