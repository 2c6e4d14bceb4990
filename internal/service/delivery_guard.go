package service

import (
	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/model"
)

// NextDelivery is the outcome of resolving which question to serve.
// Advance is true when CurrentQuestionIndex must be persisted as Position.
type NextDelivery struct {
	Position int
	Advance  bool
}

// ResolveNext decides which position of the attempt's question order may be
// served now. Questions are delivered strictly in order, one at a time:
//
//   - nothing answered: position 0
//   - the last answered position is the final one: all questions answered
//   - current index still on the last answered position: advance by one
//   - current index already advanced past it: serve the same position again
//   - anything else is an attempt to read ahead
func ResolveNext(a *model.Attempt) (NextDelivery, error) {
	total := len(a.QuestionOrder)
	if total == 0 {
		return NextDelivery{}, apperr.BadRequest("exam has no questions")
	}

	last, ok := a.LastAnswered()
	if !ok {
		return NextDelivery{Position: 0, Advance: a.CurrentQuestionIndex != 0}, nil
	}

	if last+1 >= total {
		return NextDelivery{}, apperr.BadRequest("all questions answered")
	}

	switch a.CurrentQuestionIndex {
	case last:
		return NextDelivery{Position: last + 1, Advance: true}, nil
	case last + 1:
		return NextDelivery{Position: last + 1}, nil
	default:
		return NextDelivery{}, apperr.BadRequest("Please answer question %d before proceeding", a.CurrentQuestionIndex+1)
	}
}

// CheckAnswerTarget verifies that questionID is the question at the
// attempt's current position. questions is the canonical exam list.
func CheckAnswerTarget(a *model.Attempt, questions []model.Question, questionID string) (*model.Question, error) {
	pos := a.CurrentQuestionIndex
	current, err := questionAt(a, questions, pos)
	if err != nil {
		return nil, err
	}
	if current.ID.String() == questionID {
		return current, nil
	}

	for i := range questions {
		if questions[i].ID.String() == questionID {
			return nil, apperr.BadRequest("Please answer question %d before proceeding", pos+1)
		}
	}
	return nil, apperr.NotFound("question not found in this exam")
}

// questionAt maps a delivery position to its question in the canonical list.
func questionAt(a *model.Attempt, questions []model.Question, pos int) (*model.Question, error) {
	if pos < 0 || pos >= len(a.QuestionOrder) {
		return nil, apperr.BadRequest("all questions answered")
	}
	idx := a.QuestionOrder[pos]
	if idx < 0 || idx >= len(questions) {
		return nil, apperr.Internal("question order out of range", nil)
	}
	return &questions[idx], nil
}
