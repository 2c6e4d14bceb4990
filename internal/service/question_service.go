package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/question"
)

// createAttempts bounds how often Create recounts after losing a position
// to a concurrent insert.
const createAttempts = 3

// QuestionService handles question authoring. Structural rules live in the
// per-type strategies; this service only resolves the strategy, assigns the
// canonical position and persists.
type QuestionService struct {
	exams     ExamStore
	questions QuestionWriter
	registry  *question.Registry
	log       zerolog.Logger
}

// NewQuestionService creates a new QuestionService.
func NewQuestionService(exams ExamStore, questions QuestionWriter, registry *question.Registry, log zerolog.Logger) *QuestionService {
	return &QuestionService{
		exams:     exams,
		questions: questions,
		registry:  registry,
		log:       log.With().Str("component", "question_service").Logger(),
	}
}

// Create normalizes req with the strategy for its type and appends the
// question to the end of the exam's canonical list.
func (s *QuestionService) Create(ctx context.Context, examID uuid.UUID, req model.CreateQuestionRequest) (*model.Question, error) {
	if _, err := s.exams.FindByID(ctx, examID); err != nil {
		return nil, err
	}

	strategy, err := s.registry.Get(model.QuestionType(req.QuestionType))
	if err != nil {
		return nil, err
	}

	q, err := strategy.CreateQuestion(question.CreateInput{
		Type:          strategy.Type(),
		Text:          req.QuestionText,
		Options:       req.Options,
		CorrectAnswer: req.CorrectAnswer,
		Points:        req.Points,
	})
	if err != nil {
		return nil, err
	}

	q.ExamID = examID
	if err := s.append(ctx, q); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Str("question_id", q.ID.String()).
		Str("type", string(q.Type)).
		Int("order", q.Order).
		Msg("Question created")
	return q, nil
}

// append places q after the exam's last question, recounting when another
// request claims the same position first.
func (s *QuestionService) append(ctx context.Context, q *model.Question) error {
	var err error
	for i := 0; i < createAttempts; i++ {
		var count int
		count, err = s.questions.CountByExamID(ctx, q.ExamID)
		if err != nil {
			return err
		}
		q.Order = count

		err = s.questions.Create(ctx, q)
		if !errors.Is(err, apperr.ErrOrderTaken) {
			return err
		}
		s.log.Warn().
			Str("exam_id", q.ExamID.String()).
			Int("order", q.Order).
			Msg("Question position taken concurrently, retrying")
	}
	return err
}

// ResultReader lists persisted results.
type ResultReader interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamResult, error)
}

// ReportService serves the reporting rows written by the result worker.
type ReportService struct {
	exams   ExamStore
	results ResultReader
}

// NewReportService creates a new ReportService.
func NewReportService(exams ExamStore, results ResultReader) *ReportService {
	return &ReportService{exams: exams, results: results}
}

// ListExamResults returns the finalized results of an exam.
func (s *ReportService) ListExamResults(ctx context.Context, examID uuid.UUID) ([]model.ExamResult, error) {
	if _, err := s.exams.FindByID(ctx, examID); err != nil {
		return nil, err
	}
	return s.results.ListByExam(ctx, examID)
}
