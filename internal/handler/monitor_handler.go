package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

const keepAliveInterval = 30 * time.Second

// MonitorHandler streams attempt events of one exam to proctors.
type MonitorHandler struct {
	rdb           *redis.Client
	reportService *service.ReportService
	log           zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(rdb *redis.Client, reportService *service.ReportService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:           rdb,
		reportService: reportService,
		log:           log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:exam_id/monitor
// Sends a snapshot of persisted results, then forwards every attempt event
// published for the exam until the client disconnects.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	reqCtx := c.Request.Context()

	results, err := h.reportService.ListExamResults(reqCtx, examID)
	if err != nil {
		response.FailWithError(c, err)
		return
	}

	// Subscribe before the snapshot is written so no event falls between.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.ExamMonitorChannel(examID.String()))
	defer pubsub.Close()
	if _, err := pubsub.Receive(reqCtx); err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Monitor subscribe failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	ch := pubsub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("snapshot", gin.H{"exam_id": examID, "results": results})
	c.Writer.Flush()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	h.log.Info().Str("exam_id", examID.String()).Msg("Proctor attached to monitor")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Proctor detached from monitor")
			return

		case msg, open := <-ch:
			if !open {
				return
			}
			// Payload is already JSON; forward it untouched.
			_, _ = c.Writer.Write([]byte("event: attempt\ndata: "))
			_, _ = c.Writer.Write([]byte(msg.Payload))
			_, _ = c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-keepAliveTicker.C:
			_, _ = c.Writer.Write([]byte(": keepalive\n\n"))
			c.Writer.Flush()
		}
	}
}
