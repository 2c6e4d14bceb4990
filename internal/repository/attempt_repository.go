package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/model"
)

const attemptColumns = `id, exam_id, participant_id, user_id, status, question_order,
	current_question_index, answered_questions, answers, started_at, last_activity_at,
	submitted_at, time_remaining, score, max_score, percentage, passed, version, created_at`

// AttemptRepository handles attempt data access. Every state-changing write
// is a compare-and-swap on the version column.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(
		&a.ID, &a.ExamID, &a.ParticipantID, &a.UserID, &a.Status, &a.QuestionOrder,
		&a.CurrentQuestionIndex, &a.AnsweredQuestions, &a.Answers, &a.StartedAt, &a.LastActivityAt,
		&a.SubmittedAt, &a.TimeRemaining, &a.Score, &a.MaxScore, &a.Percentage, &a.Passed, &a.Version, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if a.Answers == nil {
		a.Answers = map[string]model.Answer{}
	}
	if a.AnsweredQuestions == nil {
		a.AnsweredQuestions = []int{}
	}
	return a, nil
}

// Create inserts a new attempt. A second attempt for the same exam and
// user fails with apperr.ErrAlreadyExists.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	if a.Version == 0 {
		a.Version = 1
	}
	answers := a.Answers
	if answers == nil {
		answers = map[string]model.Answer{}
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO attempts (id, exam_id, participant_id, user_id, status, question_order,
		                       current_question_index, answered_questions, answers, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (exam_id, user_id) DO NOTHING
		 RETURNING created_at`,
		a.ID, a.ExamID, a.ParticipantID, a.UserID, a.Status, a.QuestionOrder,
		a.CurrentQuestionIndex, a.AnsweredQuestions, answers, a.Version, a.CreatedAt,
	).Scan(&a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrAlreadyExists
	}
	return err
}

// FindByID retrieves an attempt by ID.
func (r *AttemptRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "attempt not found")
	}
	return a, nil
}

// FindByExamAndUser retrieves the attempt for an exam-user combination.
func (r *AttemptRepository) FindByExamAndUser(ctx context.Context, examID uuid.UUID, userID string) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE exam_id = $1 AND user_id = $2`, examID, userID))
	if err != nil {
		return nil, notFound(err, "attempt not found")
	}
	return a, nil
}

// FindByUserID lists a user's attempts, newest first.
func (r *AttemptRepository) FindByUserID(ctx context.Context, userID string) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []model.Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// UpdateByID applies the non-nil fields of patch if the stored version still
// equals version.
func (r *AttemptRepository) UpdateByID(ctx context.Context, id uuid.UUID, version int64, patch model.AttemptPatch) (*model.Attempt, error) {
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}

	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`UPDATE attempts SET
		     status                 = COALESCE($3::varchar, status),
		     current_question_index = COALESCE($4::int, current_question_index),
		     started_at             = COALESCE($5::timestamptz, started_at),
		     last_activity_at       = COALESCE($6::timestamptz, last_activity_at),
		     submitted_at           = COALESCE($7::timestamptz, submitted_at),
		     time_remaining         = COALESCE($8::int, time_remaining),
		     score                  = COALESCE($9::int, score),
		     max_score              = COALESCE($10::int, max_score),
		     percentage             = COALESCE($11::int, percentage),
		     passed                 = COALESCE($12::boolean, passed),
		     version                = version + 1
		 WHERE id = $1 AND version = $2
		 RETURNING `+attemptColumns,
		id, version, status, patch.CurrentQuestionIndex, patch.StartedAt, patch.LastActivityAt,
		patch.SubmittedAt, patch.TimeRemaining, patch.Score, patch.MaxScore, patch.Percentage, patch.Passed,
	))
	if err != nil {
		return nil, r.writeErr(ctx, id, err)
	}
	return a, nil
}

// UpdateAnswer stores one answer and the new answered-position set if the
// stored version still equals version.
func (r *AttemptRepository) UpdateAnswer(ctx context.Context, id uuid.UUID, version int64, questionID string, answer model.Answer, answered []int, at time.Time) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`UPDATE attempts SET
		     answers            = jsonb_set(answers, ARRAY[$3::text], $4::jsonb, true),
		     answered_questions = $5,
		     last_activity_at   = $6,
		     version            = version + 1
		 WHERE id = $1 AND version = $2
		 RETURNING `+attemptColumns,
		id, version, questionID, answer, answered, at,
	))
	if err != nil {
		return nil, r.writeErr(ctx, id, err)
	}
	return a, nil
}

// UpdateActivity touches last_activity_at. It does not bump the version.
func (r *AttemptRepository) UpdateActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts SET last_activity_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("attempt not found")
	}
	return nil
}

// writeErr tells a stale version apart from a missing attempt after a
// conditional update matched no row.
func (r *AttemptRepository) writeErr(ctx context.Context, id uuid.UUID, err error) error {
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var exists bool
	if qErr := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM attempts WHERE id = $1)`, id,
	).Scan(&exists); qErr != nil {
		return qErr
	}
	if exists {
		return apperr.ErrStaleVersion
	}
	return apperr.NotFound("attempt not found")
}
