package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-engine/internal/model"
)

// Stores return apperr.NotFound for missing records. Attempt writes take the
// version the caller read and fail with apperr.ErrStaleVersion when it no
// longer matches; a successful write returns the stored attempt with its new
// version.

type ExamStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

// QuestionStore returns questions in canonical order (order_num ascending).
type QuestionStore interface {
	FindByExamID(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// QuestionWriter is the authoring side of the question store.
type QuestionWriter interface {
	QuestionStore
	Create(ctx context.Context, q *model.Question) error
	CountByExamID(ctx context.Context, examID uuid.UUID) (int, error)
}

type ParticipantStore interface {
	FindByAccessCode(ctx context.Context, code string) (*model.Participant, error)
	MarkUsed(ctx context.Context, id uuid.UUID) error
}

type AttemptStore interface {
	// Create fails with apperr.ErrAlreadyExists if the (exam, user) pair
	// already has an attempt.
	Create(ctx context.Context, a *model.Attempt) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	FindByExamAndUser(ctx context.Context, examID uuid.UUID, userID string) (*model.Attempt, error)
	FindByUserID(ctx context.Context, userID string) ([]model.Attempt, error)
	UpdateByID(ctx context.Context, id uuid.UUID, version int64, patch model.AttemptPatch) (*model.Attempt, error)
	UpdateAnswer(ctx context.Context, id uuid.UUID, version int64, questionID string, answer model.Answer, answered []int, at time.Time) (*model.Attempt, error)
	// UpdateActivity touches last_activity_at without bumping the version.
	UpdateActivity(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AttemptNotifier fans out attempt lifecycle events and finalized results.
type AttemptNotifier interface {
	PublishEvent(ctx context.Context, ev model.AttemptEvent) error
	EnqueueResult(ctx context.Context, res model.ExamResult) error
}

// NopNotifier discards everything.
type NopNotifier struct{}

func (NopNotifier) PublishEvent(context.Context, model.AttemptEvent) error { return nil }
func (NopNotifier) EnqueueResult(context.Context, model.ExamResult) error  { return nil }
