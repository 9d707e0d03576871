package domain

import (
	"encoding/json"
	"fmt"
)

// DraftAnswer is the in-progress answer to one question. The set of
// implementations is closed: MultipleChoiceAnswer, TrueFalseAnswer,
// ShortAnswer and FillInTheBlankAnswer.
type DraftAnswer interface {
	Kind() QuestionType
	draftAnswer()
}

type MultipleChoiceAnswer struct {
	SelectedOptionID string
}

type TrueFalseAnswer struct {
	SelectedAnswer bool
}

type ShortAnswer struct {
	Text string
}

type FillInTheBlankAnswer struct {
	FilledAnswers map[string]string // blankId -> text
}

func (MultipleChoiceAnswer) Kind() QuestionType { return QuestionMultipleChoice }
func (TrueFalseAnswer) Kind() QuestionType      { return QuestionTrueFalse }
func (ShortAnswer) Kind() QuestionType          { return QuestionShortAnswer }
func (FillInTheBlankAnswer) Kind() QuestionType { return QuestionFillInTheBlank }

func (MultipleChoiceAnswer) draftAnswer() {}
func (TrueFalseAnswer) draftAnswer()      {}
func (ShortAnswer) draftAnswer()          {}
func (FillInTheBlankAnswer) draftAnswer() {}

// CheckAnswer verifies that answer's variant matches the question type.
func CheckAnswer(q Question, answer DraftAnswer) error {
	if answer == nil {
		return &InvalidAnswerShapeError{QuestionID: q.ID, Want: q.Type, Got: ""}
	}
	if answer.Kind() != q.Type {
		return &InvalidAnswerShapeError{QuestionID: q.ID, Want: q.Type, Got: answer.Kind()}
	}
	return nil
}

// Answers maps questionId to its draft answer. A missing key means unanswered.
type Answers map[string]DraftAnswer

// Clone deep-copies the map so snapshots are not affected by later edits.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for id, answer := range a {
		if fill, ok := answer.(FillInTheBlankAnswer); ok {
			filled := make(map[string]string, len(fill.FilledAnswers))
			for k, v := range fill.FilledAnswers {
				filled[k] = v
			}
			answer = FillInTheBlankAnswer{FilledAnswers: filled}
		}
		out[id] = answer
	}
	return out
}

// AnsweredCount counts distinct answered questions among questions.
func (a Answers) AnsweredCount(questions []Question) int {
	n := 0
	for _, q := range questions {
		if _, ok := a[q.ID]; ok {
			n++
		}
	}
	return n
}

// AnswerPayload is the wire form of a DraftAnswer.
type AnswerPayload struct {
	Type             QuestionType      `json:"type"`
	SelectedOptionID *string           `json:"selectedOptionId,omitempty"`
	SelectedAnswer   *bool             `json:"selectedAnswer,omitempty"`
	Text             *string           `json:"text,omitempty"`
	FilledAnswers    map[string]string `json:"filledAnswers,omitempty"`
}

// EncodeAnswer converts a draft answer to its wire form.
func EncodeAnswer(answer DraftAnswer) AnswerPayload {
	switch a := answer.(type) {
	case MultipleChoiceAnswer:
		id := a.SelectedOptionID
		return AnswerPayload{Type: QuestionMultipleChoice, SelectedOptionID: &id}
	case TrueFalseAnswer:
		v := a.SelectedAnswer
		return AnswerPayload{Type: QuestionTrueFalse, SelectedAnswer: &v}
	case ShortAnswer:
		text := a.Text
		return AnswerPayload{Type: QuestionShortAnswer, Text: &text}
	case FillInTheBlankAnswer:
		filled := make(map[string]string, len(a.FilledAnswers))
		for k, v := range a.FilledAnswers {
			filled[k] = v
		}
		return AnswerPayload{Type: QuestionFillInTheBlank, FilledAnswers: filled}
	}
	return AnswerPayload{}
}

// Decode converts the wire form back to a draft answer.
func (p AnswerPayload) Decode() (DraftAnswer, error) {
	switch p.Type {
	case QuestionMultipleChoice:
		if p.SelectedOptionID == nil {
			return nil, fmt.Errorf("multiple_choice answer missing selectedOptionId")
		}
		return MultipleChoiceAnswer{SelectedOptionID: *p.SelectedOptionID}, nil
	case QuestionTrueFalse:
		if p.SelectedAnswer == nil {
			return nil, fmt.Errorf("true_false answer missing selectedAnswer")
		}
		return TrueFalseAnswer{SelectedAnswer: *p.SelectedAnswer}, nil
	case QuestionShortAnswer:
		text := ""
		if p.Text != nil {
			text = *p.Text
		}
		return ShortAnswer{Text: text}, nil
	case QuestionFillInTheBlank:
		filled := make(map[string]string, len(p.FilledAnswers))
		for k, v := range p.FilledAnswers {
			filled[k] = v
		}
		return FillInTheBlankAnswer{FilledAnswers: filled}, nil
	}
	return nil, fmt.Errorf("unknown answer type %q", p.Type)
}

func (a Answers) MarshalJSON() ([]byte, error) {
	wire := make(map[string]AnswerPayload, len(a))
	for id, answer := range a {
		wire[id] = EncodeAnswer(answer)
	}
	return json.Marshal(wire)
}

func (a *Answers) UnmarshalJSON(data []byte) error {
	var wire map[string]AnswerPayload
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := make(Answers, len(wire))
	for id, payload := range wire {
		answer, err := payload.Decode()
		if err != nil {
			return fmt.Errorf("answer %s: %w", id, err)
		}
		out[id] = answer
	}
	*a = out
	return nil
}
