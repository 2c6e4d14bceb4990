package question

import (
	"sort"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/model"
)

// MultiSelect is a choice question with two or more correct options.
// Marking is all-or-nothing on the exact set of option indices.
type MultiSelect struct{}

func (MultiSelect) Type() model.QuestionType { return model.QuestionTypeMultiSelect }

// CreateQuestion stores the correct answer as a sorted, de-duplicated list
// of decimal index tokens, e.g. ["0", "2"].
func (s MultiSelect) CreateQuestion(in CreateInput) (*model.Question, error) {
	text, options, err := normalizeCommon(in)
	if err != nil {
		return nil, err
	}

	list, ok := tokenList(in.CorrectAnswer)
	if !ok {
		return nil, apperr.Validation("multi-select correct answer must be a list")
	}

	indices := make([]int, 0, len(list))
	for _, item := range list {
		idx, err := resolveOption(item, options)
		if err != nil {
			return nil, err
		}
		indices = append(indices, idx)
	}

	set := uniqueSorted(indices)
	if len(set) < 2 {
		return nil, apperr.Validation("multi-select questions need at least 2 distinct correct answers")
	}

	return &model.Question{
		Type:          s.Type(),
		Text:          text,
		Options:       options,
		CorrectAnswer: indexTokens(set),
		Points:        in.Points,
	}, nil
}

func (MultiSelect) ValidateAnswerFormat(answer any) bool {
	list, ok := tokenList(answer)
	if !ok || len(list) == 0 {
		return false
	}
	for _, item := range list {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return false
		}
	}
	return true
}

func (MultiSelect) MarkAnswer(answer, correct any, points int, options []string) int {
	if points <= 0 {
		return 0
	}
	want, ok := indexSet(correct, len(options))
	if !ok || len(want) == 0 {
		return 0
	}
	got, ok := indexSet(answer, len(options))
	if !ok || len(got) != len(want) {
		return 0
	}
	for i := range want {
		if want[i] != got[i] {
			return 0
		}
	}
	return points
}

func (MultiSelect) Render(q model.Question) model.QuestionView {
	return render(q)
}

// indexSet converts a list of index tokens into a sorted set. Any element
// that is not a valid in-range index makes the whole set invalid. An
// optionCount of 0 skips the range check.
func indexSet(v any, optionCount int) ([]int, bool) {
	list, ok := tokenList(v)
	if !ok {
		return nil, false
	}
	indices := make([]int, 0, len(list))
	for _, item := range list {
		idx, ok := indexOf(item)
		if !ok {
			return nil, false
		}
		if optionCount > 0 && idx >= optionCount {
			return nil, false
		}
		indices = append(indices, idx)
	}
	return uniqueSorted(indices), true
}

func uniqueSorted(in []int) []int {
	sorted := make([]int, len(in))
	copy(sorted, in)
	sort.Ints(sorted)
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

func indexTokens(indices []int) []string {
	out := make([]string, len(indices))
	for i, idx := range indices {
		out[i] = strconv.Itoa(idx)
	}
	return out
}
