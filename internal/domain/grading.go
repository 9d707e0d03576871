package domain

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var quizValidator = validator.New()

// ValidateQuiz checks struct rules and the per-variant shape of every question.
func ValidateQuiz(quiz Quiz) error {
	if err := quizValidator.Struct(quiz); err != nil {
		return fmt.Errorf("invalid quiz %s: %w", quiz.ID, err)
	}
	seen := make(map[string]struct{}, len(quiz.Questions))
	for i, q := range quiz.Questions {
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("invalid quiz %s: duplicate question id %s", quiz.ID, q.ID)
		}
		seen[q.ID] = struct{}{}
		if !q.Type.Valid() {
			return fmt.Errorf("invalid quiz %s: question %d has unknown type %q", quiz.ID, i, q.Type)
		}
		switch q.Type {
		case QuestionMultipleChoice:
			if len(q.Options) < 2 {
				return fmt.Errorf("invalid quiz %s: question %s needs at least two options", quiz.ID, q.ID)
			}
			if !hasOption(q, q.CorrectOptionID) {
				return fmt.Errorf("invalid quiz %s: question %s correct option %q is not an option", quiz.ID, q.ID, q.CorrectOptionID)
			}
		case QuestionFillInTheBlank:
			if len(q.Blanks) == 0 {
				return fmt.Errorf("invalid quiz %s: question %s has no blanks", quiz.ID, q.ID)
			}
		}
	}
	return nil
}

func hasOption(q Question, id string) bool {
	for _, o := range q.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// Grade scores answers against quiz. Short answers need manual review and
// score zero here.
func Grade(quiz Quiz, answers Answers, now time.Time) SubmitResult {
	result := SubmitResult{SubmittedAt: now}
	for _, q := range quiz.Questions {
		weight := q.Weight()
		result.MaxScore += weight

		review := QuestionReview{QuestionID: q.ID, Explanation: q.Explanation}
		answer, answered := answers[q.ID]
		switch q.Type {
		case QuestionMultipleChoice:
			review.CorrectOptionID = q.CorrectOptionID
			if a, ok := answer.(MultipleChoiceAnswer); answered && ok && a.SelectedOptionID == q.CorrectOptionID {
				review.Correct = true
				review.Awarded = float64(weight)
			}
		case QuestionTrueFalse:
			correct := q.CorrectAnswer
			review.CorrectAnswer = &correct
			if a, ok := answer.(TrueFalseAnswer); answered && ok && a.SelectedAnswer == q.CorrectAnswer {
				review.Correct = true
				review.Awarded = float64(weight)
			}
		case QuestionShortAnswer:
			review.NeedsReview = answered
		case QuestionFillInTheBlank:
			review.Blanks = append([]Blank(nil), q.Blanks...)
			if a, ok := answer.(FillInTheBlankAnswer); answered && ok && len(q.Blanks) > 0 {
				hits := 0
				for _, blank := range q.Blanks {
					if normalize(a.FilledAnswers[blank.ID]) == normalize(blank.Answer) {
						hits++
					}
				}
				review.Correct = hits == len(q.Blanks)
				review.Awarded = float64(weight) * float64(hits) / float64(len(q.Blanks))
			}
		}
		result.Score += review.Awarded
		if quiz.ShowAnswersAfterSubmit {
			result.Review = append(result.Review, review)
		}
	}
	if result.MaxScore > 0 {
		result.Percentage = result.Score * 100 / float64(result.MaxScore)
	}
	result.Passed = result.Percentage >= float64(quiz.PassingScore)
	return result
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// OrderQuestions returns the question order for a new attempt. Shuffled
// quizzes use a permutation seeded by the attempt id so a resumed attempt
// sees the same order.
func OrderQuestions(quiz Quiz, attemptID string) []Question {
	questions := append([]Question(nil), quiz.Questions...)
	if !quiz.ShuffleQuestions {
		return questions
	}
	var seed int64
	for _, r := range attemptID {
		seed = seed*31 + int64(r)
	}
	rnd := rand.New(rand.NewSource(seed))
	rnd.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})
	return questions
}

// ReorderQuestions restores a stored order of question ids. Unknown ids are
// skipped and questions missing from order are appended.
func ReorderQuestions(quiz Quiz, order []string) []Question {
	if len(order) == 0 {
		return append([]Question(nil), quiz.Questions...)
	}
	out := make([]Question, 0, len(quiz.Questions))
	used := make(map[string]struct{}, len(order))
	for _, id := range order {
		if q, ok := quiz.Question(id); ok {
			out = append(out, q)
			used[id] = struct{}{}
		}
	}
	for _, q := range quiz.Questions {
		if _, ok := used[q.ID]; !ok {
			out = append(out, q)
		}
	}
	return out
}

// QuestionIDs lists ids in order.
func QuestionIDs(questions []Question) []string {
	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	return ids
}
