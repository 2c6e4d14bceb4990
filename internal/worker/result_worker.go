package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

const (
	DefaultResultBatchSize = 50
	ResultBatchTimeout     = 2 * time.Second
	ResultPollTimeout      = 1 * time.Second
	// MaxResultRetries is how many single-row fallbacks a result gets before
	// it is parked on the dead-letter list.
	MaxResultRetries = 5
)

// queuedResult is the queue payload. Retries is absent on first delivery.
type queuedResult struct {
	model.ExamResult
	Retries int `json:"retries,omitempty"`
}

// ResultSink persists finalized results.
type ResultSink interface {
	UpsertResults(ctx context.Context, results []model.ExamResult) error
}

// ResultWorker drains the result queue into the reporting table in batches.
type ResultWorker struct {
	sink      ResultSink
	rdb       *redis.Client
	batchSize int
	log       zerolog.Logger

	push func(ctx context.Context, key string, raw []byte) error
}

func NewResultWorker(sink ResultSink, rdb *redis.Client, batchSize int, log zerolog.Logger) *ResultWorker {
	if batchSize <= 0 {
		batchSize = DefaultResultBatchSize
	}
	w := &ResultWorker{
		sink:      sink,
		rdb:       rdb,
		batchSize: batchSize,
		log:       log.With().Str("component", "result_worker").Logger(),
	}
	w.push = func(ctx context.Context, key string, raw []byte) error {
		return w.rdb.RPush(ctx, key, raw).Err()
	}
	return w
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// Start blocks until ctx is cancelled, then flushes what it holds.
func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Int("batch_size", w.batchSize).Msg("ResultWorker started")

	batch := make([]queuedResult, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= w.batchSize || time.Since(lastFlush) >= ResultBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, ResultPollTimeout, config.WorkerKey.PersistResultsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var res queuedResult
			if err := json.Unmarshal([]byte(item[1]), &res); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, res)
		}
	}
}

// ----------------------------------------------------------------
// Batch write with per-row fallback
// ----------------------------------------------------------------

func (w *ResultWorker) flushSafe(ctx context.Context, batch []queuedResult) {
	if len(batch) == 0 {
		return
	}

	rows := make([]model.ExamResult, len(batch))
	for i, q := range batch {
		rows[i] = q.ExamResult
	}

	err := w.sink.UpsertResults(ctx, rows)
	if err == nil {
		w.log.Debug().Int("count", len(batch)).Msg("Results persisted")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk result upsert failed, using fallback")

	for _, q := range batch {
		if err := w.sink.UpsertResults(ctx, []model.ExamResult{q.ExamResult}); err != nil {
			w.retry(ctx, q, err)
		}
	}
}

// retry requeues a failed row, or parks it on the dead-letter list once it
// has used up its retries.
func (w *ResultWorker) retry(ctx context.Context, q queuedResult, cause error) {
	q.Retries++
	key := config.WorkerKey.PersistResultsQueue
	evt := w.log.Error().Err(cause).Str("attempt_id", q.AttemptID.String()).Int("retries", q.Retries)
	if q.Retries >= MaxResultRetries {
		key = config.WorkerKey.PersistResultsDeadLetter
		evt.Msg("Single result upsert failed, moved to dead-letter list")
	} else {
		evt.Msg("Single result upsert failed, requeueing")
	}

	raw, err := json.Marshal(q)
	if err != nil {
		w.log.Error().Err(err).Str("attempt_id", q.AttemptID.String()).Msg("Failed to encode result for requeue")
		return
	}
	if err := w.push(ctx, key, raw); err != nil {
		w.log.Error().Err(err).Str("attempt_id", q.AttemptID.String()).Str("key", key).Msg("Failed to requeue result")
	}
}
