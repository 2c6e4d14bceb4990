package question

import (
	"math"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/model"
)

// CreateInput is free-form authoring input before normalization.
type CreateInput struct {
	Type          model.QuestionType
	Text          string
	Options       []string
	CorrectAnswer any
	Points        int
}

// Strategy implements creation, validation, marking and rendering for one
// question type.
//
// MarkAnswer must be total: malformed answers or keys earn 0, they never
// fail, so scoring a whole exam cannot abort on one bad record.
type Strategy interface {
	Type() model.QuestionType
	CreateQuestion(in CreateInput) (*model.Question, error)
	ValidateAnswerFormat(answer any) bool
	MarkAnswer(answer, correct any, points int, options []string) int
	Render(q model.Question) model.QuestionView
}

// maxIndexDigits bounds index literals so Atoi cannot overflow.
const maxIndexDigits = 9

// parseIndexToken accepts only canonical non-negative decimal literals:
// "0", "3", "12". Signs, whitespace, leading zeros and other characters are
// rejected.
func parseIndexToken(s string) (int, bool) {
	if s == "" || len(s) > maxIndexDigits {
		return 0, false
	}
	if len(s) > 1 && s[0] == '0' {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// indexFromNumber accepts finite, whole, non-negative numbers.
func indexFromNumber(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) || f >= 1e9 {
		return 0, false
	}
	return int(f), true
}

// indexOf interprets v as an option index. Strings must be canonical
// integer literals.
func indexOf(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return indexFromNumber(t)
	case float32:
		return indexFromNumber(float64(t))
	case int:
		return t, t >= 0
	case int64:
		return indexFromNumber(float64(t))
	case string:
		return parseIndexToken(t)
	default:
		return 0, false
	}
}

// tokenList flattens the JSON shapes a list answer can arrive in.
func tokenList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}

// normalizeCommon trims text and options and checks the rules shared by all
// choice-based types.
func normalizeCommon(in CreateInput) (string, []string, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return "", nil, apperr.Validation("question text is required")
	}
	if in.Points <= 0 {
		return "", nil, apperr.Validation("points must be a positive integer")
	}
	if len(in.Options) < 2 {
		return "", nil, apperr.Validation("at least 2 options are required")
	}

	options := make([]string, len(in.Options))
	seen := make(map[string]int, len(in.Options))
	for i, raw := range in.Options {
		opt := strings.TrimSpace(raw)
		if opt == "" {
			return "", nil, apperr.Validation("option %d is empty", i+1)
		}
		key := strings.ToLower(opt)
		if prev, dup := seen[key]; dup {
			return "", nil, apperr.Validation("option %d duplicates option %d", i+1, prev+1)
		}
		seen[key] = i
		options[i] = opt
	}
	return text, options, nil
}

// resolveOption maps a creation-time correct answer token to an option index:
// an in-range canonical index, an integral number, or option text matched
// case-insensitively.
func resolveOption(v any, options []string) (int, error) {
	switch t := v.(type) {
	case string:
		if idx, ok := parseIndexToken(t); ok && idx < len(options) {
			return idx, nil
		}
		needle := strings.ToLower(strings.TrimSpace(t))
		if needle == "" {
			return 0, apperr.Validation("correct answer is empty")
		}
		for i, opt := range options {
			if strings.ToLower(opt) == needle {
				return i, nil
			}
		}
		return 0, apperr.Validation("correct answer %q does not match any option", t)
	case nil:
		return 0, apperr.Validation("correct answer is required")
	default:
		idx, ok := indexOf(t)
		if !ok {
			return 0, apperr.Validation("correct answer %v is not a valid option index", t)
		}
		if idx >= len(options) {
			return 0, apperr.Validation("correct answer index %d is out of range (0-%d)", idx, len(options)-1)
		}
		return idx, nil
	}
}

func render(q model.Question) model.QuestionView {
	options := make([]string, len(q.Options))
	copy(options, q.Options)
	return model.QuestionView{
		ID:      q.ID,
		Type:    q.Type,
		Text:    q.Text,
		Options: options,
		Points:  q.Points,
		Order:   q.Order,
	}
}
