package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ParticipantRepository handles participant data access. Access codes are
// only ever stored and queried as AccessCodeDigest values.
type ParticipantRepository struct {
	pool *pgxpool.Pool
}

// NewParticipantRepository creates a new ParticipantRepository.
func NewParticipantRepository(pool *pgxpool.Pool) *ParticipantRepository {
	return &ParticipantRepository{pool: pool}
}

// FindByAccessCode looks a participant up by its (raw or normalized) code.
func (r *ParticipantRepository) FindByAccessCode(ctx context.Context, code string) (*model.Participant, error) {
	p := &model.Participant{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, user_id, email, access_code_digest, is_used, created_at
		 FROM participants WHERE access_code_digest = $1`, AccessCodeDigest(code),
	).Scan(&p.ID, &p.ExamID, &p.UserID, &p.Email, &p.AccessCode, &p.IsUsed, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err, "access code not found")
	}
	return p, nil
}

// MarkUsed flags the participant's access code as consumed.
func (r *ParticipantRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE participants SET is_used = TRUE, used_at = NOW()
		 WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("participant not found")
	}
	return nil
}

// Create registers a participant. p.AccessCode holds the raw code; it is
// replaced by its digest once stored.
func (r *ParticipantRepository) Create(ctx context.Context, p *model.Participant) error {
	digest := AccessCodeDigest(p.AccessCode)
	err := r.pool.QueryRow(ctx,
		`INSERT INTO participants (exam_id, user_id, email, access_code_digest)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		p.ExamID, p.UserID, p.Email, digest,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrAlreadyExists
		}
		return err
	}
	p.AccessCode = digest
	return nil
}
