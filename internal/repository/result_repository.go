package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-engine/internal/model"
)

// ResultRepository handles the exam_results reporting table.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// UpsertResults writes a batch of results in one statement using UNNEST.
// A later row for the same attempt replaces the earlier one.
func (r *ResultRepository) UpsertResults(ctx context.Context, results []model.ExamResult) error {
	if len(results) == 0 {
		return nil
	}

	// Deduplicate by attempt; ON CONFLICT cannot touch the same row twice.
	latest := make(map[uuid.UUID]int, len(results))
	for i, res := range results {
		latest[res.AttemptID] = i
	}

	n := len(latest)
	attemptIDs := make([]uuid.UUID, 0, n)
	examIDs := make([]uuid.UUID, 0, n)
	userIDs := make([]string, 0, n)
	statuses := make([]string, 0, n)
	scores := make([]int, 0, n)
	maxScores := make([]int, 0, n)
	percentages := make([]int, 0, n)
	passed := make([]bool, 0, n)
	finishedAts := make([]time.Time, 0, n)

	for i, res := range results {
		if latest[res.AttemptID] != i {
			continue
		}
		attemptIDs = append(attemptIDs, res.AttemptID)
		examIDs = append(examIDs, res.ExamID)
		userIDs = append(userIDs, res.UserID)
		statuses = append(statuses, string(res.Status))
		scores = append(scores, res.Score)
		maxScores = append(maxScores, res.MaxScore)
		percentages = append(percentages, res.Percentage)
		passed = append(passed, res.Passed)
		finishedAts = append(finishedAts, res.FinishedAt)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO exam_results (attempt_id, exam_id, user_id, status, score, max_score, percentage, passed, finished_at)
		SELECT * FROM UNNEST(
			$1::uuid[],
			$2::uuid[],
			$3::text[],
			$4::text[],
			$5::int[],
			$6::int[],
			$7::int[],
			$8::boolean[],
			$9::timestamptz[]
		)
		ON CONFLICT (attempt_id) DO UPDATE
		SET status      = EXCLUDED.status,
		    score       = EXCLUDED.score,
		    max_score   = EXCLUDED.max_score,
		    percentage  = EXCLUDED.percentage,
		    passed      = EXCLUDED.passed,
		    finished_at = EXCLUDED.finished_at,
		    recorded_at = NOW()`,
		attemptIDs, examIDs, userIDs, statuses, scores, maxScores, percentages, passed, finishedAts,
	)
	return err
}

// ListByExam returns the results of an exam, best percentage first.
func (r *ResultRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, exam_id, user_id, status, score, max_score, percentage, passed, finished_at
		 FROM exam_results
		 WHERE exam_id = $1
		 ORDER BY percentage DESC, finished_at ASC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []model.ExamResult{}
	for rows.Next() {
		var res model.ExamResult
		if err := rows.Scan(&res.AttemptID, &res.ExamID, &res.UserID, &res.Status, &res.Score,
			&res.MaxScore, &res.Percentage, &res.Passed, &res.FinishedAt); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
