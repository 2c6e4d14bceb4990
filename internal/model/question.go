package model

import (
	"github.com/google/uuid"
)

// QuestionType is the strategy key of a question.
type QuestionType string

const (
	QuestionTypeSingleSelect QuestionType = "SINGLE_SELECT"
	QuestionTypeMultiSelect  QuestionType = "MULTI_SELECT"
)

// Question is the stored question, including its correct answer.
// It must never be returned to a participant; use QuestionView instead.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	ExamID        uuid.UUID    `json:"exam_id"`
	Type          QuestionType `json:"question_type"`
	Text          string       `json:"question_text"`
	Options       []string     `json:"options"`
	CorrectAnswer any          `json:"correct_answer"`
	Points        int          `json:"points"`
	Order         int          `json:"order_num"`
}

// QuestionView is the participant-safe projection of a question.
type QuestionView struct {
	ID      uuid.UUID    `json:"id"`
	Type    QuestionType `json:"question_type"`
	Text    string       `json:"question_text"`
	Options []string     `json:"options"`
	Points  int          `json:"points"`
	Order   int          `json:"order_num"`
}

// CreateQuestionRequest is the payload for adding a question to an exam.
// CorrectAnswer is either option text, a 0-based index, or a list of those
// depending on the question type.
type CreateQuestionRequest struct {
	QuestionType  string   `json:"question_type" binding:"required,max=32"`
	QuestionText  string   `json:"question_text" binding:"required,min=1,max=2000"`
	Options       []string `json:"options" binding:"required,min=2,max=26"`
	CorrectAnswer any      `json:"correct_answer"`
	Points        int      `json:"points" binding:"required,min=1,max=1000"`
}
