package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// readWait bounds how long a connection may stay silent. Clients ping
	// well inside this window.
	readWait = 5 * time.Minute
)

// WriteEvent sends an event with its payload.
func WriteEvent(conn *websocket.Conn, event Event, data any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(Response{Event: event, Data: data})
}

// WriteError sends an error event.
func WriteError(conn *websocket.Conn, code, message string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(Response{
		Event: EventError,
		Error: &ErrorBody{Code: code, Message: message},
	})
}

// ErrMalformedRequest marks a frame that arrived intact but did not decode.
// The connection is still usable.
var ErrMalformedRequest = errors.New("malformed request")

// ReadRequest reads and decodes the next client message. Transport errors
// are returned as is; undecodable frames wrap ErrMalformedRequest.
func ReadRequest(conn *websocket.Conn) (Request, error) {
	var req Request
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return req, nil
}
