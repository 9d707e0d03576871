package attempt

import (
	"time"

	"quiz-attempt-service/internal/domain"
)

// View is the read-only projection handed to the rendering layer.
type View struct {
	AttemptID       string                 `json:"attemptId"`
	QuizID          string                 `json:"quizId"`
	Title           string                 `json:"title"`
	CurrentIndex    int                    `json:"currentIndex"`
	CurrentQuestion *domain.PublicQuestion `json:"currentQuestion"`
	CurrentAnswer   *domain.AnswerPayload  `json:"currentAnswer"`
	AnsweredCount   int                    `json:"answeredCount"`
	TotalCount      int                    `json:"totalCount"`
	Timer           TimerDisplay           `json:"timerDisplay"`
	Dialogs         Dialogs                `json:"dialogs"`
	Submission      SubmissionView         `json:"submission"`
	Save            SaveView               `json:"save"`
	FocusLossCount  int                    `json:"focusLossCount"`
	Closed          bool                   `json:"closed"`
}

type TimerDisplay struct {
	Text             string             `json:"text"`
	Tier             UrgencyTier        `json:"urgencyTier"`
	Status           domain.TimerStatus `json:"status"`
	RemainingSeconds *int               `json:"remainingSeconds"`
}

type Dialogs struct {
	ConfirmOpen       bool   `json:"confirmOpen"`
	FocusWarningOpen  bool   `json:"focusWarningOpen"`
	UnansweredCount   int    `json:"unansweredCount"`
	UnansweredWarning string `json:"unansweredWarning,omitempty"`
}

type SubmissionView struct {
	Phase        SubmissionPhase      `json:"phase"`
	IsSubmitting bool                 `json:"isSubmitting"`
	AutoSubmit   bool                 `json:"autoSubmit"`
	Error        string               `json:"error,omitempty"`
	ErrorKind    domain.ErrorKind     `json:"errorKind,omitempty"`
	Notice       string               `json:"notice,omitempty"`
	Result       *domain.SubmitResult `json:"result,omitempty"`
}

type SaveView struct {
	Dirty       bool       `json:"dirty"`
	Saving      bool       `json:"saving"`
	Failed      bool       `json:"failed"`
	LastSavedAt *time.Time `json:"lastSavedAt"`
}

// Update is one message to a subscriber. Announcement is non-empty only on
// the update produced by an urgency tier crossing; a jump across both tiers
// carries both texts in order.
type Update struct {
	View         View   `json:"view"`
	Announcement string `json:"announcement,omitempty"`
}

func (c *Controller) viewLocked() View {
	s := &c.session
	v := View{
		AttemptID:      s.AttemptID,
		QuizID:         s.QuizID,
		Title:          c.quiz.Title,
		CurrentIndex:   s.CurrentQuestionIndex,
		AnsweredCount:  s.Answers.AnsweredCount(s.Questions),
		TotalCount:     len(s.Questions),
		FocusLossCount: c.focus.Count(),
		Closed:         c.closed,
	}
	if q := c.currentQuestionLocked(); q != nil {
		pq := q.Public()
		v.CurrentQuestion = &pq
		if answer, ok := s.Answers[q.ID]; ok {
			payload := domain.EncodeAnswer(answer)
			v.CurrentAnswer = &payload
		}
	}

	v.Timer = TimerDisplay{
		Tier:             c.timer.Tier(),
		Status:           c.timer.Status(),
		RemainingSeconds: c.timer.Remaining(),
	}
	if r := c.timer.Remaining(); r != nil {
		v.Timer.Text = FormatClock(*r)
	}

	unanswered := v.TotalCount - v.AnsweredCount
	v.Dialogs = Dialogs{
		ConfirmOpen:       c.submission.dialogOpen(),
		FocusWarningOpen:  c.focus.WarningOpen(),
		UnansweredCount:   unanswered,
		UnansweredWarning: UnansweredWarning(unanswered),
	}

	v.Submission = SubmissionView{
		Phase:        c.submission.Phase(),
		IsSubmitting: c.submission.submitting(),
		AutoSubmit:   c.submission.Auto(),
		Notice:       c.submission.Notice(),
		Result:       c.submission.Result(),
	}
	if err := c.submission.LastErr(); err != nil {
		v.Submission.Error = err.Error()
		v.Submission.ErrorKind, _ = domain.KindOf(err)
	}

	v.Save = SaveView{
		Dirty:       c.autosave.Dirty(),
		Saving:      c.autosave.Saving(),
		Failed:      c.autosave.LastErr() != nil,
		LastSavedAt: c.autosave.LastSavedAt(),
	}
	return v
}
