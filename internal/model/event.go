package model

import (
	"encoding/json"
	"time"
)

// EventKind identifies a stream frame type. One SSE frame carries exactly
// one named event with a JSON body.
type EventKind string

const (
	KindConnected    EventKind = "connected"
	KindHeartbeat    EventKind = "heartbeat"
	KindThought      EventKind = "thought"
	KindToolCall     EventKind = "tool_call"
	KindToolResult   EventKind = "tool_result"
	KindMessage      EventKind = "message"
	KindStatusChange EventKind = "status_change"
	KindTokenUpdate  EventKind = "token_update"
	KindError        EventKind = "error"
	KindClose        EventKind = "close"
)

// FrameKinds lists every frame name a task stream can deliver.
var FrameKinds = []EventKind{
	KindConnected,
	KindHeartbeat,
	KindThought,
	KindToolCall,
	KindToolResult,
	KindMessage,
	KindStatusChange,
	KindTokenUpdate,
	KindError,
	KindClose,
}

// Event is a decoded task stream event. It is immutable once constructed.
// Exactly one of the content pointers matching Kind is set; connected,
// heartbeat and close frames carry no timeline-visible content.
type Event struct {
	ID         string
	Kind       EventKind
	Agent      string
	TaskID     string
	OccurredAt time.Time
	Meta       map[string]any

	Thought      *ThoughtContent
	ToolCall     *ToolCallContent
	ToolResult   *ToolResultContent
	Message      *MessageContent
	StatusChange *StatusChangeContent
	TokenUpdate  *TokenUpdateContent
	Error        *ErrorContent

	// CloseReason is set for close frames only.
	CloseReason string
}

// ThoughtContent is the body of a thought frame.
type ThoughtContent struct {
	Text string `json:"text"`
}

// ToolCallContent is the body of a tool_call frame.
type ToolCallContent struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

// ToolResultContent is the body of a tool_result frame.
type ToolResultContent struct {
	Tool    string `json:"tool"`
	Result  string `json:"result"`
	Success bool   `json:"success"`
}

// MessageContent is the body of a message frame.
type MessageContent struct {
	Text string `json:"text"`
}

// StatusChangeContent is the body of a status_change frame. Question is set
// when the new status is suspended and the agent is waiting on a human
// decision.
type StatusChangeContent struct {
	Status         TaskStatus `json:"status"`
	PreviousStatus TaskStatus `json:"previous_status,omitempty"`
	Question       string     `json:"question,omitempty"`
	CheckpointType string     `json:"type,omitempty"`
	Message        string     `json:"message,omitempty"`
}

// TokenUpdateContent is the body of a token_update frame. Values are
// cumulative on the backend side; each frame fully replaces the ledger.
type TokenUpdateContent struct {
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	Cost             float64 `json:"cost"`
	CumulativeTokens int     `json:"cumulative_tokens"`
	CumulativeCost   float64 `json:"cumulative_cost"`
	Model            string  `json:"model"`
}

// ErrorContent is the body of an error frame.
type ErrorContent struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// HistoryRecord is one durable event row as returned by the backend's
// task events endpoint. Roles use the storage vocabulary (tool_use, not
// tool_call); Content for assistant rows may be a JSON-encoded provider
// block list; Meta may itself be a JSON-encoded string.
type HistoryRecord struct {
	ID        json.Number     `json:"id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
