// Package ipc is the daemon front end: newline-delimited JSON messages over a
// unix socket, one request and one reply per message id.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doeshing/hostq/internal/domain"
)

// Message types
const (
	MsgTypeAsk    = "ask"
	MsgTypeAnswer = "answer"
	MsgTypeStatus = "status"
	MsgTypePing   = "ping"
	MsgTypePong   = "pong"
	MsgTypeError  = "error"
)

// ErrDaemonUnavailable is returned by the client when nothing listens on the socket.
var ErrDaemonUnavailable = errors.New("daemon not running")

// Message is one line on the wire.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AskPayload carries a question.
type AskPayload struct {
	Text string                 `json:"text"`
	Mode domain.InteractionMode `json:"mode,omitempty"`
}

// StatusPayload describes the running daemon.
type StatusPayload struct {
	PID         int       `json:"pid"`
	Version     string    `json:"version"`
	StartedAt   time.Time `json:"started_at"`
	Served      int64     `json:"served"`
	Backend     string    `json:"backend"`
	Debug       bool      `json:"debug"`
	Connections int       `json:"connections"`
}

// ErrorPayload carries a failure message.
type ErrorPayload struct {
	Error string `json:"error"`
}

func newMessage(msgType, id string, payload interface{}) (Message, error) {
	msg := Message{Type: msgType, ID: id}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	msg.Payload = raw
	return msg, nil
}

func errorMessage(id, text string) Message {
	raw, _ := json.Marshal(ErrorPayload{Error: text})
	return Message{Type: MsgTypeError, ID: id, Payload: raw}
}
