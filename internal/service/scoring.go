package service

import (
	"math"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/question"
)

// QuestionScore is one line of a score breakdown.
type QuestionScore struct {
	QuestionID uuid.UUID `json:"question_id"`
	Order      int       `json:"order_num"`
	Answered   bool      `json:"answered"`
	Earned     int       `json:"earned"`
	Max        int       `json:"max"`
}

// ScoreResult is the outcome of scoring an attempt's answers.
type ScoreResult struct {
	Score      int             `json:"score"`
	MaxScore   int             `json:"max_score"`
	Percentage int             `json:"percentage"`
	Passed     bool            `json:"passed"`
	Breakdown  []QuestionScore `json:"breakdown"`
}

// Score marks every question of the exam against answers. It walks the
// canonical question list, not the delivery order, so the result depends only
// on the final answers map. Questions of an unregistered type still count
// toward MaxScore and earn nothing.
func Score(registry *question.Registry, questions []model.Question, answers map[string]model.Answer, passPercentage int) ScoreResult {
	res := ScoreResult{Breakdown: make([]QuestionScore, 0, len(questions))}

	for _, q := range questions {
		line := QuestionScore{QuestionID: q.ID, Order: q.Order, Max: q.Points}
		res.MaxScore += q.Points

		if ans, ok := answers[q.ID.String()]; ok {
			line.Answered = true
			if strategy, err := registry.Get(q.Type); err == nil {
				line.Earned = strategy.MarkAnswer(ans.Value, q.CorrectAnswer, q.Points, q.Options)
			}
		}

		res.Score += line.Earned
		res.Breakdown = append(res.Breakdown, line)
	}

	if res.MaxScore > 0 {
		res.Percentage = int(math.Round(float64(res.Score) / float64(res.MaxScore) * 100))
	}
	res.Passed = res.Percentage >= passPercentage
	return res
}
