package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth     *handler.AuthHandler
	Attempt  *handler.AttemptHandler
	Question *handler.QuestionHandler
	Admin    *handler.AdminHandler
	WS       *handler.WSHandler
	Monitor  *handler.MonitorHandler
	System   *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// startLimiter guards attempt creation; nil disables it. A nil Monitor or WS
// handler leaves its route unregistered.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	startLimiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// Restrict to AllowedOrigins when set; otherwise allow all so dev works
	// without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID first so the request logger can tag every line with it.
	router.Use(response.RequestIDMiddleware())
	router.Use(logger.RequestLogger(log))

	// ─── Health ────────────────────────────────────────────────────────
	router.GET("/health", handlers.System.Health)
	router.GET("/health/ready", handlers.System.Ready)

	authenticated := middleware.RequireJWT(authService)

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authenticated)
	{
		auth.GET("/me", handlers.Auth.Me)
	}

	// ─── 2. Participant Group (JWT, participant role) ──────────────────
	attempts := router.Group("/api/v1/attempts")
	attempts.Use(
		authenticated,
		middleware.RequireRole(service.RoleParticipant),
		middleware.NoStore(),
	)
	{
		if startLimiter != nil {
			attempts.POST("", startLimiter.Middleware(), handlers.Attempt.StartAttempt)
		} else {
			attempts.POST("", handlers.Attempt.StartAttempt)
		}
		attempts.GET("", handlers.Attempt.ListMyAttempts)
		attempts.GET("/:attempt_id/next", handlers.Attempt.GetNextQuestion)
		attempts.POST("/:attempt_id/answers", handlers.Attempt.SubmitAnswer)
		attempts.POST("/:attempt_id/submit", handlers.Attempt.SubmitAttempt)
		attempts.GET("/:attempt_id/results", handlers.Attempt.GetResults)
	}

	// ─── 3. WebSocket Group (token via header or ?token=) ──────────────
	if handlers.WS != nil {
		ws := router.Group("/ws/v1")
		ws.Use(authenticated, middleware.RequireRole(service.RoleParticipant))
		{
			ws.GET("/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
		}
	}

	// ─── 4. Admin Group (JWT, admin role) ──────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(authenticated, middleware.RequireRole(service.RoleAdmin))
	{
		exams := adminAPI.Group("/exams/:exam_id")
		{
			exams.POST("/questions", handlers.Question.AddQuestion)
			exams.GET("/results", handlers.Admin.ListExamResults)
			if handlers.Monitor != nil {
				exams.GET("/monitor", handlers.Monitor.MonitorExamSSE)
			}
		}

		adminAPI.POST("/attempts/:attempt_id/abandon", handlers.Admin.AbandonAttempt)
	}

	return router
}
