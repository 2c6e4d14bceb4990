package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

type questionSource interface {
	FindByExamID(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	CountByExamID(ctx context.Context, examID uuid.UUID) (int, error)
	Create(ctx context.Context, q *model.Question) error
}

// CachedQuestionStore is a Redis read-through cache in front of a question
// source. Every attempt call reads the full question list, so it is cached
// per exam and dropped whenever a question is added. Redis failures fall
// back to the source.
type CachedQuestionStore struct {
	source questionSource
	rdb    *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewCachedQuestionStore creates a new CachedQuestionStore.
func NewCachedQuestionStore(source questionSource, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedQuestionStore {
	return &CachedQuestionStore{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		log:    log.With().Str("component", "question_cache").Logger(),
	}
}

func (c *CachedQuestionStore) FindByExamID(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	key := config.CacheKey.ExamQuestionsKey(examID.String())

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var questions []model.Question
		if jsonErr := json.Unmarshal(raw, &questions); jsonErr == nil {
			return questions, nil
		}
		c.log.Warn().Str("exam_id", examID.String()).Msg("Corrupt question cache entry, reloading")
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Question cache read failed")
	}

	questions, err := c.source.FindByExamID(ctx, examID)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(questions); err == nil {
		if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Question cache write failed")
		}
	}
	return questions, nil
}

func (c *CachedQuestionStore) CountByExamID(ctx context.Context, examID uuid.UUID) (int, error) {
	return c.source.CountByExamID(ctx, examID)
}

// Create inserts through to the source and drops the exam's cached list.
func (c *CachedQuestionStore) Create(ctx context.Context, q *model.Question) error {
	if err := c.source.Create(ctx, q); err != nil {
		return err
	}
	c.Invalidate(ctx, q.ExamID)
	return nil
}

// Invalidate removes the cached question list of an exam.
func (c *CachedQuestionStore) Invalidate(ctx context.Context, examID uuid.UUID) {
	if err := c.rdb.Del(ctx, config.CacheKey.ExamQuestionsKey(examID.String())).Err(); err != nil {
		c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Question cache invalidation failed")
	}
}
