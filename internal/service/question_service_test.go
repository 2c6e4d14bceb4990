package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/question"
	"github.com/stemsi/exstem-engine/internal/repository/memory"
)

func TestQuestionServiceCreate(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	exam := model.Exam{ID: uuid.New(), Title: "Colors", DurationMinutes: 10, AvailableAnytime: true}
	stores.Exams.Put(exam)

	svc := NewQuestionService(stores.Exams, stores.Questions, question.NewDefaultRegistry(), zerolog.Nop())

	first, err := svc.Create(ctx, exam.ID, model.CreateQuestionRequest{
		QuestionType:  "SINGLE_SELECT",
		QuestionText:  "Color of the sky?",
		Options:       []string{"Red", "Blue"},
		CorrectAnswer: "blue",
		Points:        2,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, first.Order)
	assert.Equal(t, "Blue", first.CorrectAnswer)

	second, err := svc.Create(ctx, exam.ID, model.CreateQuestionRequest{
		QuestionType:  "MULTI_SELECT",
		QuestionText:  "Primary colors?",
		Options:       []string{"Red", "Green", "Blue", "Pink"},
		CorrectAnswer: []any{0.0, 2.0},
		Points:        3,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Order)
	assert.Equal(t, []string{"0", "2"}, second.CorrectAnswer)

	stored, err := stores.Questions.FindByExamID(ctx, exam.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, first.ID, stored[0].ID)
	assert.Equal(t, second.ID, stored[1].ID)
}

func TestQuestionServiceCreateRejections(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	exam := model.Exam{ID: uuid.New(), DurationMinutes: 10}
	stores.Exams.Put(exam)
	svc := NewQuestionService(stores.Exams, stores.Questions, question.NewDefaultRegistry(), zerolog.Nop())

	valid := model.CreateQuestionRequest{
		QuestionType:  "SINGLE_SELECT",
		QuestionText:  "Q",
		Options:       []string{"A", "B"},
		CorrectAnswer: 0,
		Points:        1,
	}

	_, err := svc.Create(ctx, uuid.New(), valid)
	assertKind(t, err, apperr.KindNotFound)

	essay := valid
	essay.QuestionType = "ESSAY"
	_, err = svc.Create(ctx, exam.ID, essay)
	assertKind(t, err, apperr.KindUnsupportedType)

	single := valid
	single.QuestionType = "MULTI_SELECT"
	single.CorrectAnswer = []any{"0"}
	_, err = svc.Create(ctx, exam.ID, single)
	assertKind(t, err, apperr.KindValidation)

	n, err := stores.Questions.CountByExamID(ctx, exam.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// racingWriter lets a competing insert claim the next position right after
// the service counts, the interleaving two concurrent authoring calls hit.
type racingWriter struct {
	*memory.QuestionStore
	races int
}

func (w *racingWriter) CountByExamID(ctx context.Context, examID uuid.UUID) (int, error) {
	n, err := w.QuestionStore.CountByExamID(ctx, examID)
	if err != nil || w.races == 0 {
		return n, err
	}
	w.races--
	rival := &model.Question{ExamID: examID, Type: model.QuestionTypeSingleSelect, Text: "rival", Options: []string{"A", "B"}, CorrectAnswer: "A", Points: 1, Order: n}
	return n, w.QuestionStore.Create(ctx, rival)
}

func TestQuestionServiceCreateRetriesTakenPosition(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	exam := model.Exam{ID: uuid.New(), DurationMinutes: 10}
	stores.Exams.Put(exam)

	req := model.CreateQuestionRequest{
		QuestionType:  "SINGLE_SELECT",
		QuestionText:  "Q",
		Options:       []string{"A", "B"},
		CorrectAnswer: 0,
		Points:        1,
	}

	writer := &racingWriter{QuestionStore: stores.Questions, races: 1}
	svc := NewQuestionService(stores.Exams, writer, question.NewDefaultRegistry(), zerolog.Nop())
	q, err := svc.Create(ctx, exam.ID, req)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Order)

	stored, err := stores.Questions.FindByExamID(ctx, exam.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "rival", stored[0].Text)
	assert.Equal(t, q.ID, stored[1].ID)

	// A writer that always loses surfaces a retryable conflict, not a 500.
	writer.races = 10
	_, err = svc.Create(ctx, exam.ID, req)
	assertKind(t, err, apperr.KindConflict)
	assert.ErrorIs(t, err, apperr.ErrOrderTaken)
}

func TestReportServiceListExamResults(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	exam := model.Exam{ID: uuid.New()}
	stores.Exams.Put(exam)

	finished := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)
	require.NoError(t, stores.Results.UpsertResults(ctx, []model.ExamResult{
		{AttemptID: uuid.New(), ExamID: exam.ID, UserID: "a", Percentage: 40, FinishedAt: finished},
		{AttemptID: uuid.New(), ExamID: exam.ID, UserID: "b", Percentage: 90, FinishedAt: finished},
		{AttemptID: uuid.New(), ExamID: uuid.New(), UserID: "c", Percentage: 100, FinishedAt: finished},
	}))

	svc := NewReportService(stores.Exams, stores.Results)
	results, err := svc.ListExamResults(ctx, exam.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].UserID)
	assert.Equal(t, "a", results[1].UserID)

	_, err = svc.ListExamResults(ctx, uuid.New())
	assertKind(t, err, apperr.KindNotFound)
}

func TestAuthServiceRoundTrip(t *testing.T) {
	auth := NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour})

	token, err := auth.GenerateToken("student-1", RoleParticipant, "s1@example.com")
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "student-1", claims.UserID())
	assert.Equal(t, RoleParticipant, claims.Role)

	other := NewAuthService(&config.Config{JWTSecret: "other-secret", JWTExpiry: time.Hour})
	_, err = other.ValidateToken(token)
	assert.Error(t, err)

	expired := NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: -time.Minute})
	stale, err := expired.GenerateToken("student-1", RoleParticipant, "")
	require.NoError(t, err)
	_, err = auth.ValidateToken(stale)
	assert.Error(t, err)

	_, err = auth.GenerateToken("", RoleAdmin, "")
	assert.Error(t, err)
}
