// Package attempt drives one student through a timed quiz attempt: the
// countdown, draft autosave, navigation and shortcuts, focus-loss
// detection and the confirm/submit flow. Controller is the only type the
// rendering layer talks to.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quiz-attempt-service/internal/clock"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/events"
)

// Store is the persistence API used by the controller.
type Store interface {
	// LoadAttempt fails with domain.ErrAttemptNotFound or domain.ErrForbidden.
	LoadAttempt(ctx context.Context, attemptID string) (domain.Quiz, domain.AttemptSession, error)
	// SaveDraft is an idempotent upsert of the full answer set.
	SaveDraft(ctx context.Context, attemptID string, answers domain.Answers) (time.Time, error)
	// SubmitAttempt fails with domain.ErrAlreadySubmitted for terminal attempts.
	SubmitAttempt(ctx context.Context, attemptID string, answers domain.Answers) (domain.SubmitResult, error)
}

// ClockSource is implemented by stores that know the authoritative deadline.
type ClockSource interface {
	RemainingSeconds(ctx context.Context, attemptID string) (int, error)
}

// Options tune a controller. Zero values fall back to defaults.
type Options struct {
	Scheduler         clock.Scheduler
	Logger            *slog.Logger
	Publisher         events.Publisher
	AutosaveDebounce  time.Duration
	AutosaveInterval  time.Duration
	ClockSyncInterval time.Duration // negative disables resync
	RequestTimeout    time.Duration
	// Announcer receives accessibility announcements. It is called with the
	// controller locked and must not call back into it.
	Announcer func(tier UrgencyTier, text string)
}

const (
	DefaultAutosaveDebounce  = 3 * time.Second
	DefaultAutosaveInterval  = 30 * time.Second
	DefaultClockSyncInterval = time.Minute
	DefaultRequestTimeout    = 10 * time.Second

	tickInterval = time.Second
)

func (o Options) withDefaults() Options {
	if o.Scheduler == nil {
		o.Scheduler = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.AutosaveDebounce <= 0 {
		o.AutosaveDebounce = DefaultAutosaveDebounce
	}
	if o.AutosaveInterval <= 0 {
		o.AutosaveInterval = DefaultAutosaveInterval
	}
	if o.ClockSyncInterval == 0 {
		o.ClockSyncInterval = DefaultClockSyncInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	return o
}

// Controller owns one AttemptSession. All events are serialized through its
// mutex; persistence calls run on their own goroutines and report back.
type Controller struct {
	store Store
	opts  Options
	log   *slog.Logger

	mu         sync.Mutex
	quiz       domain.Quiz
	session    domain.AttemptSession
	timer      *Timer
	autosave   *Autosave
	focus      *FocusDetector
	submission *Submission

	tickGen    uint64
	cancelTick clock.CancelFunc
	cancelSync clock.CancelFunc
	syncing    bool

	started      bool
	closed       bool
	announcement string
	subscribers  map[chan Update]struct{}

	pending sync.WaitGroup
}

// Open loads an attempt and builds its controller. The session does not
// run until Start is called.
func Open(ctx context.Context, store Store, attemptID string, opts Options) (*Controller, error) {
	quiz, session, err := store.LoadAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("open attempt %s: %w", attemptID, err)
	}
	return New(quiz, session, store, opts), nil
}

// New builds a controller around an already loaded session.
func New(quiz domain.Quiz, session domain.AttemptSession, store Store, opts Options) *Controller {
	opts = opts.withDefaults()
	c := &Controller{
		store:       store,
		opts:        opts,
		log:         opts.Logger.With("attempt_id", session.AttemptID, "quiz_id", session.QuizID),
		quiz:        quiz,
		session:     session,
		subscribers: make(map[chan Update]struct{}),
	}
	c.normalizeSession()

	c.timer = NewTimer(c.session.Timer.RemainingSeconds, c.onExpiredLocked, c.onTierLocked)
	c.focus = NewFocusDetector(quiz.FocusLossWarningEnabled, c.session.FocusLossCount)
	c.autosave = NewAutosave(opts.Scheduler, opts.AutosaveDebounce, opts.AutosaveInterval, c.guard, c.launchSaveLocked)
	c.submission = NewSubmission()
	if c.session.IsDirty {
		c.autosave.MarkDirty()
	}
	c.syncSessionLocked()
	return c
}

// normalizeSession drops stored answers that no longer fit the question
// set and clamps the current index.
func (c *Controller) normalizeSession() {
	s := &c.session
	if s.Answers == nil {
		s.Answers = make(domain.Answers)
	}
	for id, answer := range s.Answers {
		q, ok := c.questionLocked(id)
		if !ok {
			c.log.Warn("dropping answer for unknown question", "question_id", id)
			delete(s.Answers, id)
			continue
		}
		if err := domain.CheckAnswer(q, answer); err != nil {
			c.log.Warn("dropping stored answer with wrong shape", "question_id", id, "error", err)
			delete(s.Answers, id)
		}
	}
	s.CurrentQuestionIndex = clampIndex(s.CurrentQuestionIndex, len(s.Questions))
}

// Start begins the countdown, autosave and clock resync. A resumed attempt
// with no time left expires and auto-submits immediately.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	c.publishLocked(events.AttemptOpened, map[string]any{"questions": len(c.session.Questions)})
	c.log.Info("attempt session started", "questions", len(c.session.Questions), "timed", c.timer.Limited())

	c.autosave.Start()
	if remaining := c.session.Timer.RemainingSeconds; remaining != nil {
		c.timer.Start(*remaining)
		if c.timer.Status() == domain.TimerRunning {
			c.startTicksLocked()
			c.startResyncLocked()
		}
	}
	c.broadcastLocked()
}

// guard wraps a scheduled callback so it runs serialized with every other
// event and is dropped once the session is torn down.
func (c *Controller) guard(f func()) func() {
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		f()
		c.broadcastLocked()
	}
}

func (c *Controller) goIO(f func(ctx context.Context)) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		defer cancel()
		f(ctx)
	}()
}

// ---- timer ----

func (c *Controller) startTicksLocked() {
	c.stopTicksLocked()
	gen := c.tickGen
	c.cancelTick = c.opts.Scheduler.Every(tickInterval, c.guard(func() {
		if gen != c.tickGen {
			return
		}
		c.timer.Tick()
	}))
}

func (c *Controller) stopTicksLocked() {
	c.tickGen++
	if c.cancelTick != nil {
		c.cancelTick()
		c.cancelTick = nil
	}
}

func (c *Controller) startResyncLocked() {
	if _, ok := c.store.(ClockSource); !ok || c.opts.ClockSyncInterval < 0 || c.cancelSync != nil {
		return
	}
	c.cancelSync = c.opts.Scheduler.Every(c.opts.ClockSyncInterval, c.guard(c.resyncLocked))
}

func (c *Controller) stopResyncLocked() {
	if c.cancelSync != nil {
		c.cancelSync()
		c.cancelSync = nil
	}
}

func (c *Controller) resyncLocked() {
	src, ok := c.store.(ClockSource)
	if !ok || c.syncing {
		return
	}
	if st := c.timer.Status(); st != domain.TimerRunning && st != domain.TimerPaused {
		return
	}
	c.syncing = true
	id := c.session.AttemptID
	c.goIO(func(ctx context.Context) {
		remaining, err := src.RemainingSeconds(ctx, id)
		c.guard(func() {
			c.syncing = false
			if err != nil {
				c.log.Warn("clock resync failed", "error", err)
				return
			}
			if remaining <= 0 {
				// The server deadline has passed.
				c.timer.Expire()
				return
			}
			if c.timer.Sync(remaining) {
				c.log.Debug("timer resynced", "remaining", remaining)
			}
		})()
	})
}

func (c *Controller) onTierLocked(tier UrgencyTier) {
	text := TierAnnouncement(tier)
	c.announcement = joinAnnouncements(c.announcement, text)
	if c.opts.Announcer != nil {
		c.opts.Announcer(tier, text)
	}
	c.publishLocked(events.AttemptTimeWarning, map[string]any{"tier": string(tier)})
}

func (c *Controller) onExpiredLocked() {
	c.stopTicksLocked()
	c.stopResyncLocked()
	c.log.Info("attempt time expired", "answered", c.session.Answers.AnsweredCount(c.session.Questions))
	c.publishLocked(events.AttemptExpired, nil)
	c.autoSubmitLocked()
}

// PauseTimer suspends the countdown. Returns false if it was not running.
func (c *Controller) PauseTimer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.timer.Pause() {
		return false
	}
	c.stopTicksLocked()
	c.broadcastLocked()
	return true
}

// ResumeTimer continues a paused countdown.
func (c *Controller) ResumeTimer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.timer.Resume() {
		return false
	}
	c.startTicksLocked()
	c.broadcastLocked()
	return true
}

// ---- answers & navigation ----

func (c *Controller) questionLocked(id string) (domain.Question, bool) {
	for _, q := range c.session.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return domain.Question{}, false
}

// Question returns the attempt's question with the given id. Transports use
// it to validate untrusted answers before calling SetAnswer.
func (c *Controller) Question(id string) (domain.Question, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.questionLocked(id)
}

func (c *Controller) currentQuestionLocked() *domain.Question {
	idx := c.session.CurrentQuestionIndex
	if idx < 0 || idx >= len(c.session.Questions) {
		return nil
	}
	return &c.session.Questions[idx]
}

func (c *Controller) editableLocked() error {
	switch {
	case c.closed, c.submission.Terminal():
		return domain.ErrSessionClosed
	case c.timer.Status() == domain.TimerExpired:
		return domain.ErrTimeUp
	}
	return nil
}

// SetAnswer records a draft answer. An answer whose variant does not match
// the question type is a caller defect and panics with
// *domain.InvalidAnswerShapeError.
func (c *Controller) SetAnswer(questionID string, answer domain.DraftAnswer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return err
	}
	q, ok := c.questionLocked(questionID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
	}
	c.setAnswerLocked(q, answer)
	c.broadcastLocked()
	return nil
}

func (c *Controller) setAnswerLocked(q domain.Question, answer domain.DraftAnswer) {
	if err := domain.CheckAnswer(q, answer); err != nil {
		panic(err)
	}
	single := domain.Answers{q.ID: answer}.Clone()
	c.session.Answers[q.ID] = single[q.ID]
	c.autosave.MarkDirty()
}

// Navigate shows the question at index, clamped to the valid range.
func (c *Controller) Navigate(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.session.CurrentQuestionIndex = clampIndex(index, len(c.session.Questions))
	c.broadcastLocked()
}

func (c *Controller) modalOpenLocked() bool {
	return c.submission.dialogOpen() || c.focus.WarningOpen()
}

// HandleKey applies a keyboard shortcut and reports whether it did anything.
func (c *Controller) HandleKey(ev KeyEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	current := c.currentQuestionLocked()
	sc := resolveShortcut(ev, current, c.modalOpenLocked())
	idx := c.session.CurrentQuestionIndex
	n := len(c.session.Questions)

	switch sc.action {
	case actionNext:
		if idx < 0 || idx >= n-1 {
			return false
		}
		c.session.CurrentQuestionIndex = idx + 1
	case actionPrevious:
		if idx <= 0 {
			return false
		}
		c.session.CurrentQuestionIndex = idx - 1
	case actionAnswer:
		if c.editableLocked() != nil {
			return false
		}
		c.setAnswerLocked(*current, sc.answer)
	case actionCloseModals:
		cancelled := c.submission.CancelConfirm()
		acknowledged := c.focus.Acknowledge()
		if !cancelled && !acknowledged {
			return false
		}
	default:
		return false
	}
	c.broadcastLocked()
	return true
}

// ---- focus loss ----

// OnVisibilityChange is the FocusSignal callback from the platform layer.
func (c *Controller) OnVisibilityChange(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	active := c.started && !c.submission.Terminal() && c.timer.Status() != domain.TimerExpired
	if c.focus.OnVisibilityChange(visible, active) {
		count := c.focus.Count()
		c.log.Info("focus lost during attempt", "count", count)
		data := map[string]any{"count": count}
		if q := c.currentQuestionLocked(); q != nil {
			data["questionId"] = q.ID
		}
		c.publishLocked(events.AttemptFocusLost, data)
	}
	c.broadcastLocked()
}

// AcknowledgeFocusWarning closes the focus-loss warning.
func (c *Controller) AcknowledgeFocusWarning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.focus.Acknowledge() {
		return
	}
	c.broadcastLocked()
}

// ---- autosave ----

func (c *Controller) launchSaveLocked(version uint64, reason SaveReason) {
	snapshot := c.session.Answers.Clone()
	id := c.session.AttemptID
	c.log.Debug("saving draft", "reason", reason, "version", version, "answers", len(snapshot))
	c.goIO(func(ctx context.Context) {
		savedAt, err := c.store.SaveDraft(ctx, id, snapshot)
		if err != nil && !errors.Is(err, domain.ErrSaveFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrSaveFailed, err)
		}
		c.finishSave(version, savedAt, err)
	})
}

func (c *Controller) finishSave(version uint64, savedAt time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err != nil {
		c.log.Warn("draft save failed", "error", err)
	}
	c.autosave.Settle(version, savedAt, err)
	c.broadcastLocked()
}

// ForceSave saves pending changes now instead of waiting for the debounce.
func (c *Controller) ForceSave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.submission.Terminal() {
		return
	}
	c.autosave.ForceSave()
	c.broadcastLocked()
}

// ---- submission ----

// OpenConfirmDialog opens the submit confirmation and returns how many
// questions are unanswered. It does not touch the timer.
func (c *Controller) OpenConfirmDialog() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.submission.Terminal() {
		return 0, domain.ErrSessionClosed
	}
	total := len(c.session.Questions)
	answered := c.session.Answers.AnsweredCount(c.session.Questions)
	unanswered, _ := c.submission.OpenConfirm(total, answered)
	c.broadcastLocked()
	return unanswered, nil
}

// CancelConfirm closes the confirmation dialog.
func (c *Controller) CancelConfirm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.submission.CancelConfirm() {
		return
	}
	c.broadcastLocked()
}

// ConfirmSubmit sends the current answers for grading. A call while a
// submission is in flight is ignored; the return value says whether a
// request was issued.
func (c *Controller) ConfirmSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	begin := c.submission.BeginManual
	if c.timer.Status() == domain.TimerExpired {
		begin = c.submission.BeginAuto
	}
	if !begin() {
		return false
	}
	c.launchSubmitLocked()
	c.broadcastLocked()
	return true
}

// RetrySubmit re-sends a submission that failed. Once time is up the retry
// always takes the automatic path, whatever dialogs were opened since.
func (c *Controller) RetrySubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.submission.retryable() {
		return false
	}
	begin := c.submission.BeginManual
	if c.submission.Auto() || c.timer.Status() == domain.TimerExpired {
		begin = c.submission.BeginAuto
	}
	if !begin() {
		return false
	}
	c.launchSubmitLocked()
	c.broadcastLocked()
	return true
}

func (c *Controller) autoSubmitLocked() {
	switch {
	case c.submission.Terminal():
		return
	case c.submission.submitting():
		c.submission.MarkAuto()
		return
	}
	if c.submission.BeginAuto() {
		c.launchSubmitLocked()
	}
}

func (c *Controller) launchSubmitLocked() {
	snapshot := c.session.Answers.Clone()
	id := c.session.AttemptID
	c.log.Info("submitting attempt", "auto", c.submission.Auto(), "answered", len(snapshot))
	c.goIO(func(ctx context.Context) {
		result, err := c.store.SubmitAttempt(ctx, id, snapshot)
		c.finishSubmit(result, err)
	})
}

func (c *Controller) finishSubmit(result domain.SubmitResult, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.log.Info("submission settled after teardown", "error", err)
		if err == nil {
			c.publishLocked(events.AttemptSubmitted, map[string]any{"score": result.Score, "passed": result.Passed})
		}
		return
	}
	if c.submission.Settle(result, err) {
		c.enterTerminalLocked()
	} else {
		c.log.Warn("attempt submission failed", "auto", c.submission.Auto(), "error", c.submission.LastErr())
		c.publishLocked(events.AttemptSubmitFailed, map[string]any{"error": c.submission.LastErr().Error()})
	}
	c.broadcastLocked()
}

func (c *Controller) enterTerminalLocked() {
	c.stopTicksLocked()
	c.stopResyncLocked()
	c.autosave.Stop()
	data := map[string]any{"focusLossCount": c.focus.Count()}
	if r := c.submission.Result(); r != nil {
		data["score"] = r.Score
		data["passed"] = r.Passed
		c.log.Info("attempt submitted", "score", r.Score, "max_score", r.MaxScore, "passed", r.Passed)
	} else {
		c.log.Info("attempt was already submitted")
	}
	c.publishLocked(events.AttemptSubmitted, data)
}

// ---- lifecycle & read model ----

// Close tears the session down: ticks and pending autosave triggers are
// cancelled and subscribers are released. Requests already sent to the
// store still run to completion; their results are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stopTicksLocked()
	c.stopResyncLocked()
	c.autosave.Stop()
	c.broadcastLocked()
	for ch := range c.subscribers {
		delete(c.subscribers, ch)
		close(ch)
	}
	c.publishLocked(events.AttemptClosed, map[string]any{"submitted": c.submission.Terminal()})
	c.log.Info("attempt session closed", "submitted", c.submission.Terminal())
}

// Wait blocks until every request the controller started has settled.
func (c *Controller) Wait() {
	c.pending.Wait()
}

// View returns the current projection.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Session returns a copy of the session record.
func (c *Controller) Session() domain.AttemptSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncSessionLocked()
	s := c.session
	s.Questions = append([]domain.Question(nil), c.session.Questions...)
	s.Answers = c.session.Answers.Clone()
	return s
}

// Terminal reports whether the attempt has been submitted.
func (c *Controller) Terminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submission.Terminal()
}

// HasSubscribers reports whether any rendering client is attached.
func (c *Controller) HasSubscribers() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers) > 0
}

// Subscribe returns a channel of updates, starting with the current view.
// Slow subscribers lose intermediate views but keep announcements.
func (c *Controller) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 8)

	c.mu.Lock()
	ch <- Update{View: c.viewLocked()}
	if c.closed {
		close(ch)
		c.mu.Unlock()
		return ch, func() {}
	}
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Controller) syncSessionLocked() {
	s := &c.session
	s.Timer = c.timer.State()
	s.FocusLossCount = c.focus.Count()
	s.IsDirty = c.autosave.Dirty()
	s.LastSavedAt = c.autosave.LastSavedAt()
	s.Submission = domain.SubmissionState{
		IsSubmitting:      c.submission.submitting(),
		ConfirmDialogOpen: c.submission.dialogOpen(),
	}
	if kind, ok := domain.KindOf(c.submission.LastErr()); ok {
		s.Submission.LastError = &kind
	}
}

func joinAnnouncements(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + ". " + b
}

func (c *Controller) broadcastLocked() {
	c.syncSessionLocked()
	update := Update{View: c.viewLocked(), Announcement: c.announcement}
	c.announcement = ""
	for ch := range c.subscribers {
		select {
		case ch <- update:
		default:
			// Drop the oldest view but keep its announcement.
			u := update
			select {
			case old := <-ch:
				u.Announcement = joinAnnouncements(old.Announcement, u.Announcement)
			default:
			}
			ch <- u
		}
	}
}

func (c *Controller) publishLocked(typ events.Type, data map[string]any) {
	pub := c.opts.Publisher
	if pub == nil {
		return
	}
	event := events.NewEvent(typ, c.session.AttemptID, c.session.QuizID, c.opts.Scheduler.Now(), data)
	c.goIO(func(ctx context.Context) {
		if err := pub.Publish(ctx, event); err != nil {
			c.log.Warn("publish attempt event failed", "event_type", typ, "error", err)
		}
	})
}
