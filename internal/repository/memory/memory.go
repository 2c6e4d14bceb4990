// Package memory provides in-process stores for local runs and tests. They
// follow the same contracts as the PostgreSQL repositories, including
// attempt version checks.
package memory

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-engine/internal/model"
)

// Stores groups one instance of every memory store.
type Stores struct {
	Exams        *ExamStore
	Questions    *QuestionStore
	Participants *ParticipantStore
	Attempts     *AttemptStore
	Results      *ResultStore
}

func New() *Stores {
	return &Stores{
		Exams:        NewExamStore(),
		Questions:    NewQuestionStore(),
		Participants: NewParticipantStore(),
		Attempts:     NewAttemptStore(),
		Results:      NewResultStore(),
	}
}

// Fixture is the JSON shape accepted by LoadFixture.
type Fixture struct {
	Exams        []model.Exam        `json:"exams"`
	Questions    []model.Question    `json:"questions"`
	Participants []FixtureParticipant `json:"participants"`
}

// FixtureParticipant carries the raw access code, which model.Participant
// never serializes.
type FixtureParticipant struct {
	ID         uuid.UUID `json:"id"`
	ExamID     uuid.UUID `json:"exam_id"`
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	AccessCode string    `json:"access_code"`
}

// LoadFixture seeds exams, questions and participants from JSON.
func (s *Stores) LoadFixture(r io.Reader) error {
	var f Fixture
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return fmt.Errorf("decode fixture: %w", err)
	}
	for _, e := range f.Exams {
		s.Exams.Put(e)
	}
	for _, q := range f.Questions {
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		s.Questions.Put(q)
	}
	for _, p := range f.Participants {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		s.Participants.Put(model.Participant{
			ID:         p.ID,
			ExamID:     p.ExamID,
			UserID:     p.UserID,
			Email:      p.Email,
			AccessCode: p.AccessCode,
			CreatedAt:  time.Now(),
		})
	}
	return nil
}

func cloneAttempt(a *model.Attempt) *model.Attempt {
	c := *a
	c.QuestionOrder = slices.Clone(a.QuestionOrder)
	c.AnsweredQuestions = slices.Clone(a.AnsweredQuestions)
	if c.AnsweredQuestions == nil {
		c.AnsweredQuestions = []int{}
	}
	c.Answers = maps.Clone(a.Answers)
	if c.Answers == nil {
		c.Answers = map[string]model.Answer{}
	}
	return &c
}

func sortQuestions(qs []model.Question) {
	slices.SortStableFunc(qs, func(a, b model.Question) int {
		return cmp.Compare(a.Order, b.Order)
	})
}
