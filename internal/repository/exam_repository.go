package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-engine/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// FindByID retrieves an exam by ID.
func (r *ExamRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_minutes, randomize_questions, pass_percentage,
		        available_anytime, available_from, available_until, created_at, updated_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.DurationMinutes, &e.RandomizeQuestions, &e.PassPercentage,
		&e.AvailableAnytime, &e.AvailableFrom, &e.AvailableUntil, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "exam not found")
	}
	return e, nil
}

// Create inserts a new exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, duration_minutes, randomize_questions, pass_percentage,
		                    available_anytime, available_from, available_until)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.DurationMinutes, e.RandomizeQuestions, e.PassPercentage,
		e.AvailableAnytime, e.AvailableFrom, e.AvailableUntil,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}
