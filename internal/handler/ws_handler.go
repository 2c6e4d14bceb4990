package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler runs an attempt over a WebSocket. Every action goes through the
// same AttemptService calls as the HTTP routes, so the delivery guard and
// lazy expiry apply identically.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:attempt_id/stream
func (h *WSHandler) AttemptStream(c *gin.Context) {
	attemptID, ok := parseAttemptID(c)
	if !ok {
		return
	}
	userID := middleware.GetClaims(c).UserID()

	// Ownership is checked before the upgrade so the client gets a plain
	// HTTP error instead of a socket that closes immediately.
	if _, err := h.attemptService.GetAttemptResults(c.Request.Context(), attemptID, userID); err != nil {
		response.FailWithError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("attempt_id", attemptID.String()).
		Str("user_id", userID).
		Logger()
	wsLog.Info().Msg("Participant connected")

	// The request context is cancelled when the handler returns, which only
	// happens once the socket is closed.
	ctx := c.Request.Context()

	for {
		msg, err := ws.ReadRequest(conn)
		if errors.Is(err, ws.ErrMalformedRequest) {
			wsLog.Debug().Err(err).Msg("Malformed frame")
			if err := ws.WriteError(conn, string(response.ErrInvalidPayload), "request is not valid JSON"); err != nil {
				return
			}
			continue
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if err := h.dispatch(ctx, conn, attemptID, userID, msg); err != nil {
			wsLog.Debug().Err(err).Msg("Write failed, closing")
			return
		}
	}
}

// dispatch runs one client action. The returned error is a write failure;
// engine errors are reported to the client as error events.
func (h *WSHandler) dispatch(ctx context.Context, conn *websocket.Conn, attemptID uuid.UUID, userID string, msg ws.Request) error {
	switch msg.Action {
	case ws.ActionPing:
		return conn.WriteJSON(ws.Response{Event: ws.EventPong})

	case ws.ActionNext:
		next, err := h.attemptService.GetNextQuestion(ctx, attemptID, userID)
		if err != nil {
			return writeEngineError(conn, err)
		}
		return ws.WriteEvent(conn, ws.EventQuestion, next)

	case ws.ActionAnswer:
		var answer any
		if len(msg.Answer) > 0 {
			if err := json.Unmarshal(msg.Answer, &answer); err != nil {
				return ws.WriteError(conn, string(response.ErrInvalidPayload), "answer is not valid JSON")
			}
		}
		if _, err := uuid.Parse(msg.QuestionID); err != nil {
			return ws.WriteError(conn, string(response.ErrInvalidID), response.GetMessage(response.ErrInvalidID))
		}
		receipt, err := h.attemptService.SubmitAnswer(ctx, attemptID, userID, msg.QuestionID, answer)
		if err != nil {
			return writeEngineError(conn, err)
		}
		return ws.WriteEvent(conn, ws.EventAnswered, receipt)

	case ws.ActionSubmit:
		result, err := h.attemptService.SubmitExam(ctx, attemptID, userID)
		if err != nil {
			return writeEngineError(conn, err)
		}
		return ws.WriteEvent(conn, ws.EventSubmitted, result)

	default:
		return ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
	}
}

func writeEngineError(conn *websocket.Conn, err error) error {
	_, code := response.StatusFor(err)
	message := apperr.Message(err)
	if code == response.ErrInternal {
		message = response.GetMessage(response.ErrInternal)
	}
	return ws.WriteError(conn, string(code), message)
}
