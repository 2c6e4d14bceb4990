package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

// AdminHandler handles proctor endpoints outside question authoring.
type AdminHandler struct {
	attemptService *service.AttemptService
	reportService  *service.ReportService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(attemptService *service.AttemptService, reportService *service.ReportService) *AdminHandler {
	return &AdminHandler{attemptService: attemptService, reportService: reportService}
}

// AbandonAttempt godoc
// POST /api/v1/admin/attempts/:attempt_id/abandon
func (h *AdminHandler) AbandonAttempt(c *gin.Context) {
	attemptID, ok := parseAttemptID(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.Abandon(c.Request.Context(), attemptID)
	if err != nil {
		response.FailWithError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// ListExamResults godoc
// GET /api/v1/admin/exams/:exam_id/results
// Results appear once the result worker has drained the queue.
func (h *AdminHandler) ListExamResults(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	results, err := h.reportService.ListExamResults(c.Request.Context(), examID)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	if results == nil {
		results = []model.ExamResult{}
	}

	response.Success(c, http.StatusOK, gin.H{"results": results})
}
