package domain

import "time"

// QuestionType discriminates the four question variants.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionShortAnswer    QuestionType = "short_answer"
	QuestionFillInTheBlank QuestionType = "fill_in_the_blank"
)

// Valid reports whether t is one of the known question kinds.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionMultipleChoice, QuestionTrueFalse, QuestionShortAnswer, QuestionFillInTheBlank:
		return true
	}
	return false
}

// Option represents a possible answer for a multiple choice question.
type Option struct {
	ID   string `json:"id" validate:"required"`
	Text string `json:"text"`
}

// Blank is one gap of a fill-in-the-blank question.
type Blank struct {
	ID     string `json:"id" validate:"required"`
	Answer string `json:"answer"`
}

// Question models every question variant in one flat record; only the
// fields belonging to Type are meaningful.
type Question struct {
	ID          string       `json:"id" validate:"required"`
	QuizID      string       `json:"quizId"`
	Order       int          `json:"order"`
	Type        QuestionType `json:"type" validate:"required"`
	Text        string       `json:"questionText" validate:"required"`
	Points      int          `json:"points" validate:"gte=0"` // defaults to 1 if zero
	Explanation string       `json:"explanation,omitempty"`

	// multiple_choice
	Options         []Option `json:"options,omitempty" validate:"dive"`
	CorrectOptionID string   `json:"correctOptionId,omitempty"`
	// true_false
	CorrectAnswer bool `json:"correctAnswer,omitempty"`
	// short_answer
	SampleAnswer string `json:"sampleAnswer,omitempty"`
	// fill_in_the_blank
	Blanks []Blank `json:"blanks,omitempty" validate:"dive"`
}

// Weight returns the points a question is worth.
func (q Question) Weight() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// PublicQuestion is what the taking UI may see: no answer keys.
type PublicQuestion struct {
	ID       string       `json:"id"`
	Order    int          `json:"order"`
	Type     QuestionType `json:"type"`
	Text     string       `json:"questionText"`
	Points   int          `json:"points"`
	Options  []Option     `json:"options,omitempty"`
	BlankIDs []string     `json:"blankIds,omitempty"`
}

// Public strips correct answers, sample answers and explanations.
func (q Question) Public() PublicQuestion {
	pq := PublicQuestion{
		ID:     q.ID,
		Order:  q.Order,
		Type:   q.Type,
		Text:   q.Text,
		Points: q.Weight(),
	}
	if len(q.Options) > 0 {
		pq.Options = append([]Option(nil), q.Options...)
	}
	for _, b := range q.Blanks {
		pq.BlankIDs = append(pq.BlankIDs, b.ID)
	}
	return pq
}

// Quiz is the immutable quiz definition supplied by the authoring side.
type Quiz struct {
	ID                      string     `json:"id" validate:"required"`
	Title                   string     `json:"title"`
	Questions               []Question `json:"questions" validate:"dive"`
	TimeLimitMinutes        *int       `json:"timeLimitMinutes,omitempty" validate:"omitempty,gt=0"`
	PassingScore            int        `json:"passingScore" validate:"gte=0,lte=100"` // percent of max points
	AllowReattempt          bool       `json:"allowReattempt"`
	ShuffleQuestions        bool       `json:"shuffleQuestions"`
	ShowAnswersAfterSubmit  bool       `json:"showAnswersAfterSubmit"`
	FocusLossWarningEnabled bool       `json:"focusLossWarningEnabled"`
}

// TimeLimitSeconds returns the limit in seconds, or nil when the quiz is untimed.
func (q Quiz) TimeLimitSeconds() *int {
	if q.TimeLimitMinutes == nil {
		return nil
	}
	s := *q.TimeLimitMinutes * 60
	return &s
}

// Question looks up a question by id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// TimerStatus is the countdown state.
type TimerStatus string

const (
	TimerIdle    TimerStatus = "idle"
	TimerRunning TimerStatus = "running"
	TimerPaused  TimerStatus = "paused"
	TimerExpired TimerStatus = "expired"
)

// TimerState is the persisted view of the countdown. RemainingSeconds is nil
// exactly when the quiz has no time limit.
type TimerState struct {
	RemainingSeconds *int        `json:"remainingSeconds"`
	Status           TimerStatus `json:"status"`
}

// SubmissionState mirrors the submission sub-machine for the session record.
type SubmissionState struct {
	IsSubmitting      bool       `json:"isSubmitting"`
	ConfirmDialogOpen bool       `json:"confirmDialogOpen"`
	LastError         *ErrorKind `json:"lastError"`
}

// AttemptSession is the mutable root of one in-progress attempt. Only the
// session controller mutates it.
type AttemptSession struct {
	AttemptID            string          `json:"attemptId"`
	QuizID               string          `json:"quizId"`
	StudentID            string          `json:"studentId,omitempty"`
	Questions            []Question      `json:"questions"`
	CurrentQuestionIndex int             `json:"currentQuestionIndex"` // -1 when Questions is empty
	Answers              Answers         `json:"answers"`
	Timer                TimerState      `json:"timer"`
	FocusLossCount       int             `json:"focusLossCount"`
	IsDirty              bool            `json:"isDirty"`
	LastSavedAt          *time.Time      `json:"lastSavedAt"`
	Submission           SubmissionState `json:"submission"`
}

// NewAttemptSession builds a fresh session for the given question order.
func NewAttemptSession(attemptID string, quiz Quiz, questions []Question) AttemptSession {
	idx := 0
	if len(questions) == 0 {
		idx = -1
	}
	return AttemptSession{
		AttemptID:            attemptID,
		QuizID:               quiz.ID,
		Questions:            questions,
		CurrentQuestionIndex: idx,
		Answers:              make(Answers),
		Timer: TimerState{
			RemainingSeconds: quiz.TimeLimitSeconds(),
			Status:           TimerIdle,
		},
	}
}

// SubmitResult is the terminal outcome of a submission.
type SubmitResult struct {
	Score       float64          `json:"score"`
	MaxScore    int              `json:"maxScore"`
	Percentage  float64          `json:"percentage"`
	Passed      bool             `json:"passed"`
	SubmittedAt time.Time        `json:"submittedAt"`
	Review      []QuestionReview `json:"review,omitempty"`
}

// QuestionReview is shown after submission when the quiz allows it.
type QuestionReview struct {
	QuestionID      string  `json:"questionId"`
	Awarded         float64 `json:"awarded"`
	Correct         bool    `json:"correct"`
	NeedsReview     bool    `json:"needsReview,omitempty"`
	CorrectOptionID string  `json:"correctOptionId,omitempty"`
	CorrectAnswer   *bool   `json:"correctAnswer,omitempty"`
	Blanks          []Blank `json:"blanks,omitempty"`
	Explanation     string  `json:"explanation,omitempty"`
}
