package attempt

import "quiz-attempt-service/internal/domain"

// Key names as delivered by the rendering layer.
const (
	KeyArrowRight = "ArrowRight"
	KeyArrowLeft  = "ArrowLeft"
	KeyEscape     = "Escape"
)

// KeyEvent is one keyboard event forwarded by the rendering layer.
type KeyEvent struct {
	Key         string `json:"key"`
	InTextField bool   `json:"inTextField"`
}

type shortcutAction int

const (
	actionNone shortcutAction = iota
	actionNext
	actionPrevious
	actionAnswer
	actionCloseModals
)

type shortcut struct {
	action shortcutAction
	answer domain.DraftAnswer
}

// resolveShortcut maps a key to an action for the current question.
// Escape always works; everything else is ignored inside text fields and
// while a modal is open.
func resolveShortcut(ev KeyEvent, current *domain.Question, modalOpen bool) shortcut {
	if ev.Key == KeyEscape {
		return shortcut{action: actionCloseModals}
	}
	if modalOpen || ev.InTextField {
		return shortcut{}
	}
	switch ev.Key {
	case KeyArrowRight:
		return shortcut{action: actionNext}
	case KeyArrowLeft:
		return shortcut{action: actionPrevious}
	}
	if current == nil {
		return shortcut{}
	}

	switch current.Type {
	case domain.QuestionMultipleChoice:
		if len(ev.Key) == 1 && ev.Key[0] >= '1' && ev.Key[0] <= '9' {
			n := int(ev.Key[0] - '1')
			if n < len(current.Options) {
				return shortcut{
					action: actionAnswer,
					answer: domain.MultipleChoiceAnswer{SelectedOptionID: current.Options[n].ID},
				}
			}
		}
	case domain.QuestionTrueFalse:
		switch ev.Key {
		case "t", "T":
			return shortcut{action: actionAnswer, answer: domain.TrueFalseAnswer{SelectedAnswer: true}}
		case "f", "F":
			return shortcut{action: actionAnswer, answer: domain.TrueFalseAnswer{SelectedAnswer: false}}
		}
	}
	return shortcut{}
}

// clampIndex keeps i inside [0, n-1]; -1 when there are no questions.
func clampIndex(i, n int) int {
	if n == 0 {
		return -1
	}
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
