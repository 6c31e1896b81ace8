package server

import (
	"time"
)

// GlobalRoom carries question-level events for dashboard views that
// watch the whole feed rather than a single question.
const GlobalRoom = "global"

const (
	KindQuestionCreated  = "question.created"
	KindQuestionUpdated  = "question.updated"
	KindAnswerCreated    = "answer.created"
	KindSuggestionReady  = "suggestion.ready"
	KindSuggestionFailed = "suggestion.failed"
)

// Event is the immutable record fanned out to every subscriber of its
// room. Seq is assigned by the EventBus and is strictly increasing per
// room for the lifetime of the process.
type Event struct {
	Room      string    `json:"room"`
	Seq       int64     `json:"seq"`
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Command is a client-issued frame on the websocket.
type Command struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// Ack confirms a processed command.
type Ack struct {
	OK     bool   `json:"ok"`
	Action string `json:"action"`
	Room   string `json:"room"`
}

// ErrorFrame reports a rejected command. The connection stays open.
type ErrorFrame struct {
	Error  string `json:"error"`
	Action string `json:"action,omitempty"`
	Room   string `json:"room,omitempty"`
}

func errInvalidCommand(action, room string) *ErrorFrame {
	return &ErrorFrame{
		Error:  "invalid command",
		Action: action,
		Room:   room,
	}
}

func errInvalidRoom(action, room string) *ErrorFrame {
	return &ErrorFrame{
		Error:  "invalid room identifier",
		Action: action,
		Room:   room,
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
