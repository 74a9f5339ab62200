package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// ErrMalformedMessage is returned by ReadEnvelope for a frame that is not a
// JSON object. The connection is still usable.
var ErrMalformedMessage = errors.New("malformed message")

const (
	writeWait = 10 * time.Second
	// readWait must exceed the client's ping interval.
	readWait = 5 * time.Minute
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
// Callers must serialize writes to one connection.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// ReadEnvelope reads one message and returns its action with the raw body
// kept for a second, typed decode.
func ReadEnvelope(conn *websocket.Conn) (RequestEnvelope, error) {
	conn.SetReadDeadline(time.Now().Add(readWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return RequestEnvelope{}, err
	}
	var env RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return RequestEnvelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	env.Raw = data
	return env, nil
}

// Decode unmarshals the raw message of env into v.
func (env RequestEnvelope) Decode(v interface{}) error {
	if err := json.Unmarshal(env.Raw, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Action, err)
	}
	return nil
}
