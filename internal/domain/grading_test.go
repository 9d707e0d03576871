package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradingQuiz() Quiz {
	return Quiz{
		ID:                     "quiz-g",
		PassingScore:           30,
		ShowAnswersAfterSubmit: true,
		Questions: []Question{
			{ID: "mc", Type: QuestionMultipleChoice, Text: "Pick", Options: []Option{{ID: "a"}, {ID: "b"}}, CorrectOptionID: "b"},
			{ID: "tf", Type: QuestionTrueFalse, Text: "True?", CorrectAnswer: true, Points: 2},
			{ID: "sa", Type: QuestionShortAnswer, Text: "Explain"},
			{ID: "fb", Type: QuestionFillInTheBlank, Text: "[b1] and [b2]", Points: 2,
				Blanks: []Blank{{ID: "b1", Answer: "Paris"}, {ID: "b2", Answer: "Rome"}}},
		},
	}
}

func TestGrade(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	result := Grade(gradingQuiz(), Answers{
		"mc": MultipleChoiceAnswer{SelectedOptionID: "b"},
		"tf": TrueFalseAnswer{SelectedAnswer: false},
		"sa": ShortAnswer{Text: "because"},
		"fb": FillInTheBlankAnswer{FilledAnswers: map[string]string{"b1": "  paris ", "b2": "Madrid"}},
	}, now)

	assert.Equal(t, 2.0, result.Score)
	assert.Equal(t, 6, result.MaxScore)
	assert.InDelta(t, 33.33, result.Percentage, 0.01)
	assert.True(t, result.Passed)
	assert.Equal(t, now, result.SubmittedAt)

	require.Len(t, result.Review, 4)
	assert.True(t, result.Review[0].Correct)
	assert.False(t, result.Review[1].Correct)
	assert.True(t, result.Review[2].NeedsReview)
	assert.Equal(t, 1.0, result.Review[3].Awarded)
}

func TestGradeEmptyAndHiddenReview(t *testing.T) {
	quiz := gradingQuiz()
	quiz.ShowAnswersAfterSubmit = false
	quiz.PassingScore = 1

	result := Grade(quiz, Answers{}, time.Time{})
	assert.Zero(t, result.Score)
	assert.False(t, result.Passed)
	assert.Empty(t, result.Review)

	// A mismatched variant scores nothing rather than panicking.
	result = Grade(quiz, Answers{"mc": TrueFalseAnswer{SelectedAnswer: true}}, time.Time{})
	assert.Zero(t, result.Score)
}

func TestValidateQuiz(t *testing.T) {
	require.NoError(t, ValidateQuiz(gradingQuiz()))

	cases := map[string]func(q *Quiz){
		"missing id":          func(q *Quiz) { q.ID = "" },
		"duplicate question":  func(q *Quiz) { q.Questions[1].ID = "mc" },
		"unknown type":        func(q *Quiz) { q.Questions[0].Type = "essay" },
		"bad correct option":  func(q *Quiz) { q.Questions[0].CorrectOptionID = "z" },
		"single option":       func(q *Quiz) { q.Questions[0].Options = q.Questions[0].Options[:1] },
		"no blanks":           func(q *Quiz) { q.Questions[3].Blanks = nil },
		"passing score > 100": func(q *Quiz) { q.PassingScore = 120 },
		"zero time limit":     func(q *Quiz) { zero := 0; q.TimeLimitMinutes = &zero },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			quiz := gradingQuiz()
			mutate(&quiz)
			assert.Error(t, ValidateQuiz(quiz))
		})
	}
}

func TestOrderQuestionsIsStablePerAttempt(t *testing.T) {
	quiz := gradingQuiz()
	assert.Equal(t, []string{"mc", "tf", "sa", "fb"}, QuestionIDs(OrderQuestions(quiz, "a1")))

	quiz.ShuffleQuestions = true
	first := QuestionIDs(OrderQuestions(quiz, "attempt-42"))
	again := QuestionIDs(OrderQuestions(quiz, "attempt-42"))
	assert.Equal(t, first, again)
	assert.ElementsMatch(t, []string{"mc", "tf", "sa", "fb"}, first)
}

func TestReorderQuestions(t *testing.T) {
	quiz := gradingQuiz()
	got := QuestionIDs(ReorderQuestions(quiz, []string{"fb", "gone", "mc"}))
	assert.Equal(t, []string{"fb", "mc", "tf", "sa"}, got)
	assert.Equal(t, []string{"mc", "tf", "sa", "fb"}, QuestionIDs(ReorderQuestions(quiz, nil)))
}

func TestAnswersJSON(t *testing.T) {
	in := Answers{
		"mc": MultipleChoiceAnswer{SelectedOptionID: "b"},
		"tf": TrueFalseAnswer{SelectedAnswer: false},
		"sa": ShortAnswer{Text: ""},
		"fb": FillInTheBlankAnswer{FilledAnswers: map[string]string{"b1": "x"}},
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"selectedAnswer":false`)

	var out Answers
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)

	var bad Answers
	assert.Error(t, json.Unmarshal([]byte(`{"q":{"type":"multiple_choice"}}`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`{"q":{"type":"essay"}}`), &bad))
}

func TestAnswersCloneIsDeep(t *testing.T) {
	orig := Answers{"fb": FillInTheBlankAnswer{FilledAnswers: map[string]string{"b1": "x"}}}
	clone := orig.Clone()
	clone["fb"].(FillInTheBlankAnswer).FilledAnswers["b1"] = "changed"
	clone["new"] = ShortAnswer{Text: "y"}

	assert.Equal(t, "x", orig["fb"].(FillInTheBlankAnswer).FilledAnswers["b1"])
	assert.Len(t, orig, 1)
}

func TestCheckAnswerAndKinds(t *testing.T) {
	q := Question{ID: "q1", Type: QuestionTrueFalse}
	assert.NoError(t, CheckAnswer(q, TrueFalseAnswer{SelectedAnswer: true}))

	err := CheckAnswer(q, ShortAnswer{Text: "yes"})
	var shape *InvalidAnswerShapeError
	require.ErrorAs(t, err, &shape)
	assert.Equal(t, QuestionShortAnswer, shape.Got)

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindInvalidAnswerShape, kind)

	kind, _ = KindOf(ErrAlreadySubmitted)
	assert.Equal(t, KindAlreadySubmitted, kind)
	_, ok = KindOf(ErrTimeUp)
	assert.False(t, ok)
}
