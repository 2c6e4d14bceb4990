package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionNext   Action = "next"
	ActionAnswer Action = "answer"
	ActionSubmit Action = "submit"
	ActionPing   Action = "ping"
)

// Request is one client message. Answer is kept raw so a literal 0 or an
// empty list reach the answer validators exactly as sent.
type Request struct {
	Action     Action          `json:"action"`
	QuestionID string          `json:"question_id,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventQuestion  Event = "question"
	EventAnswered  Event = "answered"
	EventSubmitted Event = "submitted"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// Response is one server message. Exactly one of Data and Error is set,
// except for pong which carries neither.
type Response struct {
	Event Event      `json:"event"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody mirrors the HTTP error body so clients share one decoder.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
