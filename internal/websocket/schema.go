package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionBegin            Action = "begin"
	ActionEngageResult     Action = "engage_result"
	ActionPresentationExit Action = "presentation_exit"
	ActionVisibility       Action = "visibility"
	ActionReengage         Action = "reengage"
	ActionAnswer           Action = "answer"
	ActionNext             Action = "next"
	ActionPrevious         Action = "previous"
	ActionJump             Action = "jump"
	ActionSubmit           Action = "submit"
	ActionState            Action = "state"
	ActionPing             Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action          `json:"action"`
	Raw    json.RawMessage `json:"-"`
}

// EngageResultRequest answers an engage_request sent by the server.
type EngageResultRequest struct {
	RequestID string `json:"request_id" validate:"required,uuid"`
	OK        bool   `json:"ok"`
	Error     string `json:"error"`
}

// VisibilityRequest reports a page visibility change.
type VisibilityRequest struct {
	Visible *bool `json:"visible" validate:"required"`
}

// AnswerRequest records a choice for one question.
type AnswerRequest struct {
	QID      string `json:"q_id" validate:"required,max=64"`
	OptionID string `json:"option_id" validate:"required,max=64"`
}

// JumpRequest moves to a question by zero-based index.
type JumpRequest struct {
	Index *int `json:"index" validate:"required"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError          Event = "error"
	EventAck            Event = "ack"
	EventState          Event = "state"
	EventTick           Event = "tick"
	EventWarning        Event = "warning"
	EventCompleted      Event = "completed"
	EventEngageRequest  Event = "engage_request"
	EventReleaseRequest Event = "release_request"
	EventPong           Event = "pong"
)

// AckResponse confirms an action that produced no other output.
type AckResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action"`
}

// StateResponse carries a full session view.
type StateResponse struct {
	Event Event       `json:"event"`
	State interface{} `json:"state"`
}

type TickResponse struct {
	Event     Event  `json:"event"`
	Remaining int    `json:"remaining"`
	Display   string `json:"display"`
	Urgency   string `json:"urgency"`
}

type WarningResponse struct {
	Event   Event  `json:"event"`
	Ordinal int    `json:"ordinal"`
	Max     int    `json:"max"`
	Kind    string `json:"kind"`
}

type CompletedResponse struct {
	Event          Event             `json:"event"`
	Reason         string            `json:"reason"`
	Answers        map[string]string `json:"answers"`
	ViolationCount int               `json:"violation_count"`
}

// EngageRequest asks the browser to enter full-screen presentation mode.
// The browser replies with engage_result carrying the same request id.
type EngageRequest struct {
	Event     Event  `json:"event"`
	RequestID string `json:"request_id"`
}

type ReleaseRequest struct {
	Event Event `json:"event"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
	Action Action            `json:"action,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
