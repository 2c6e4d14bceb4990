package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

// AttemptHandler serves the participant side of the attempt lifecycle.
type AttemptHandler struct {
	attemptService *service.AttemptService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService) *AttemptHandler {
	return &AttemptHandler{attemptService: attemptService}
}

// StartAttempt godoc
// POST /api/v1/attempts
// Redeems an access code. Returns 201 for a new attempt and 200 when an
// existing one is resumed.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrValidation, fields)
		return
	}

	res, err := h.attemptService.StartExam(c.Request.Context(), req.AccessCode, claims.UserID())
	if err != nil {
		response.FailWithError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, res)
}

// ListMyAttempts godoc
// GET /api/v1/attempts
func (h *AttemptHandler) ListMyAttempts(c *gin.Context) {
	claims := middleware.GetClaims(c)

	attempts, err := h.attemptService.ListMyAttempts(c.Request.Context(), claims.UserID())
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	if attempts == nil {
		attempts = []service.AttemptResult{}
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// GetNextQuestion godoc
// GET /api/v1/attempts/:attempt_id/next
func (h *AttemptHandler) GetNextQuestion(c *gin.Context) {
	attemptID, ok := parseAttemptID(c)
	if !ok {
		return
	}

	next, err := h.attemptService.GetNextQuestion(c.Request.Context(), attemptID, middleware.GetClaims(c).UserID())
	if err != nil {
		response.FailWithError(c, err)
		return
	}

	response.Success(c, http.StatusOK, next)
}

// SubmitAnswer godoc
// POST /api/v1/attempts/:attempt_id/answers
func (h *AttemptHandler) SubmitAnswer(c *gin.Context) {
	attemptID, ok := parseAttemptID(c)
	if !ok {
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrValidation, fields)
		return
	}

	receipt, err := h.attemptService.SubmitAnswer(
		c.Request.Context(), attemptID, middleware.GetClaims(c).UserID(), req.QuestionID, req.Answer,
	)
	if err != nil {
		response.FailWithError(c, err)
		return
	}

	response.Success(c, http.StatusOK, receipt)
}

// SubmitAttempt godoc
// POST /api/v1/attempts/:attempt_id/submit
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	attemptID, ok := parseAttemptID(c)
	if !ok {
		return
	}

	result, err := h.attemptService.SubmitExam(c.Request.Context(), attemptID, middleware.GetClaims(c).UserID())
	if err != nil {
		response.FailWithError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetResults godoc
// GET /api/v1/attempts/:attempt_id/results
func (h *AttemptHandler) GetResults(c *gin.Context) {
	attemptID, ok := parseAttemptID(c)
	if !ok {
		return
	}

	result, err := h.attemptService.GetAttemptResults(c.Request.Context(), attemptID, middleware.GetClaims(c).UserID())
	if err != nil {
		response.FailWithError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// parseAttemptID reads :attempt_id and writes the error response itself.
func parseAttemptID(c *gin.Context) (uuid.UUID, bool) {
	return parseUUIDParam(c, "attempt_id")
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
