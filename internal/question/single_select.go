package question

import (
	"math"
	"strings"

	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/model"
)

// SingleSelect is a choice question with exactly one correct option.
//
// Both the stored key and submitted answers are compared as lower-cased
// option text. Submitted index literals are resolved against the option
// list; the stored key is already text and is only read as an index when it
// matches no option.
type SingleSelect struct{}

func (SingleSelect) Type() model.QuestionType { return model.QuestionTypeSingleSelect }

// CreateQuestion stores the correct answer as the option's text.
func (s SingleSelect) CreateQuestion(in CreateInput) (*model.Question, error) {
	text, options, err := normalizeCommon(in)
	if err != nil {
		return nil, err
	}

	correct := in.CorrectAnswer
	if list, ok := tokenList(correct); ok {
		if len(list) != 1 {
			return nil, apperr.Validation("single-select questions take exactly one correct answer")
		}
		correct = list[0]
	}

	idx, err := resolveOption(correct, options)
	if err != nil {
		return nil, err
	}

	return &model.Question{
		Type:          s.Type(),
		Text:          text,
		Options:       options,
		CorrectAnswer: options[idx],
		Points:        in.Points,
	}, nil
}

func (SingleSelect) ValidateAnswerFormat(answer any) bool {
	switch t := answer.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case float64:
		return !math.IsNaN(t) && !math.IsInf(t, 0)
	case int, int64:
		return true
	default:
		return false
	}
}

func (SingleSelect) MarkAnswer(answer, correct any, points int, options []string) int {
	if points <= 0 {
		return 0
	}
	want, ok := keyText(correct, options)
	if !ok {
		return 0
	}
	got, ok := choiceText(answer, options)
	if !ok {
		return 0
	}
	if got != want {
		return 0
	}
	return points
}

func (SingleSelect) Render(q model.Question) model.QuestionView {
	return render(q)
}

// keyText resolves a stored correct answer to lower-cased option text.
// Stored keys are option text, so a string matching an option wins; an
// index literal is honored only for keys that match no option.
func keyText(v any, options []string) (string, bool) {
	if list, ok := tokenList(v); ok && len(list) == 1 {
		return keyText(list[0], options)
	}
	t, ok := v.(string)
	if !ok {
		return choiceText(v, options)
	}
	needle := strings.ToLower(strings.TrimSpace(t))
	if needle == "" {
		return "", false
	}
	for _, opt := range options {
		if strings.ToLower(strings.TrimSpace(opt)) == needle {
			return needle, true
		}
	}
	return choiceText(t, options)
}

// choiceText resolves a submitted answer to lower-cased option text. A
// string is an index only when it is a canonical integer literal within
// range, with no surrounding whitespace; otherwise it is literal text. A
// one-element list is unwrapped.
func choiceText(v any, options []string) (string, bool) {
	switch t := v.(type) {
	case string:
		if idx, ok := parseIndexToken(t); ok && idx < len(options) {
			return strings.ToLower(strings.TrimSpace(options[idx])), true
		}
		trimmed := strings.TrimSpace(t)
		if trimmed == "" {
			return "", false
		}
		return strings.ToLower(trimmed), true
	case nil:
		return "", false
	default:
		if list, ok := tokenList(t); ok {
			if len(list) != 1 {
				return "", false
			}
			return choiceText(list[0], options)
		}
		idx, ok := indexOf(t)
		if !ok || idx >= len(options) {
			return "", false
		}
		return strings.ToLower(strings.TrimSpace(options[idx])), true
	}
}
