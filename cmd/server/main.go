package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/question"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/repository/memory"
	"github.com/stemsi/exstem-engine/internal/router"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
	"github.com/stemsi/exstem-engine/internal/worker"
)

// stores is the storage backend selected by STORAGE_DRIVER.
type stores struct {
	exams        service.ExamStore
	questions    service.QuestionWriter
	participants service.ParticipantStore
	attempts     service.AttemptStore
	results      interface {
		worker.ResultSink
		service.ResultReader
	}
	ping handler.Pinger
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("storage", cfg.StorageDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Stores ─────────────────────────────────────────────
	st, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer closeStores()

	questions := repository.NewCachedQuestionStore(st.questions, rdb, cfg.QuestionCacheTTL, log)

	// ─── Initialize Services ──────────────────────────────────────────
	registry := question.NewDefaultRegistry()
	notifier := worker.NewRedisNotifier(rdb)

	authService := service.NewAuthService(cfg)
	attemptService := service.NewAttemptService(
		st.exams, questions, st.participants, st.attempts, registry, notifier, log,
	)
	questionService := service.NewQuestionService(st.exams, questions, registry, log)
	reportService := service.NewReportService(st.exams, st.results)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:     handler.NewAuthHandler(),
		Attempt:  handler.NewAttemptHandler(attemptService),
		Question: handler.NewQuestionHandler(questionService),
		Admin:    handler.NewAdminHandler(attemptService, reportService),
		WS:       handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
		Monitor:  handler.NewMonitorHandler(rdb, reportService, log),
		System: handler.NewSystemHandler(map[string]handler.Pinger{
			"redis":   handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
			"storage": st.ping,
		}, log),
	}

	startLimiter := middleware.NewRateLimiter(rdb, cfg.StartRateLimitPerMin, time.Minute, log)

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	resultWorker := worker.NewResultWorker(st.results, rdb, cfg.ResultWorkerBatchSize, log)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		resultWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, startLimiter, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the result worker and let it flush its batch.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Result worker did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// openStores builds the PostgreSQL or in-memory stores. The returned func
// releases whatever was opened.
func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, func(), error) {
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		mem := memory.New()
		if cfg.MemoryFixture != "" {
			f, err := os.Open(cfg.MemoryFixture)
			if err != nil {
				return nil, nil, err
			}
			defer f.Close()
			if err := mem.LoadFixture(f); err != nil {
				return nil, nil, err
			}
			log.Info().Str("fixture", cfg.MemoryFixture).Msg("Memory fixture loaded")
		}
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		return &stores{
			exams:        mem.Exams,
			questions:    mem.Questions,
			participants: mem.Participants,
			attempts:     mem.Attempts,
			results:      mem.Results,
			ping:         handler.PingFunc(func(context.Context) error { return nil }),
		}, func() {}, nil

	case config.StorageDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return postgresStores(pool), pool.Close, nil

	default:
		return nil, nil, errors.New("unknown STORAGE_DRIVER " + cfg.StorageDriver)
	}
}

func postgresStores(pool *pgxpool.Pool) *stores {
	return &stores{
		exams:        repository.NewExamRepository(pool),
		questions:    repository.NewQuestionRepository(pool),
		participants: repository.NewParticipantRepository(pool),
		attempts:     repository.NewAttemptRepository(pool),
		results:      repository.NewResultRepository(pool),
		ping:         handler.PingFunc(pool.Ping),
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
