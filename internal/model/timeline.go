package model

import (
	"time"
)

// EntryKind classifies a timeline entry for rendering.
type EntryKind string

const (
	EntryUser           EntryKind = "user"
	EntryAssistant      EntryKind = "assistant"
	EntryThought        EntryKind = "thought"
	EntryToolCall       EntryKind = "tool_call"
	EntryToolResult     EntryKind = "tool_result"
	EntryStatus         EntryKind = "status"
	EntryError          EntryKind = "error"
	EntryReviewFeedback EntryKind = "review_feedback"
)

// TimelineEntry is a rendering-oriented projection of one stream event or
// one history record. Ordering is insertion order; arrival order is
// authoritative and entries are never re-sorted by timestamp.
type TimelineEntry struct {
	ID         string         `json:"id"`
	Kind       EntryKind      `json:"kind"`
	Text       string         `json:"text"`
	Agent      string         `json:"agent,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Meta       map[string]any `json:"meta,omitempty"`

	// Tool fields
	ToolName    string         `json:"tool_name,omitempty"`
	ToolInput   map[string]any `json:"tool_input,omitempty"`
	ToolResult  string         `json:"tool_result,omitempty"`
	ToolSuccess bool           `json:"tool_success,omitempty"`

	// Status fields
	Status         TaskStatus `json:"status,omitempty"`
	PreviousStatus TaskStatus `json:"previous_status,omitempty"`
	HITLQuestion   string     `json:"hitl_question,omitempty"`
}

// TokenLedger is the latest token/cost snapshot for a task session. Each
// token_update frame replaces it wholesale; the backend sends cumulative
// values and the client never sums across updates.
type TokenLedger struct {
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	Cost             float64 `json:"cost"`
	CumulativeTokens int     `json:"cumulative_tokens"`
	CumulativeCost   float64 `json:"cumulative_cost"`
	Model            string  `json:"model"`
}

// ConnectionPhase is the task stream connection state.
type ConnectionPhase string

const (
	PhaseDisconnected ConnectionPhase = "disconnected"
	PhaseConnecting   ConnectionPhase = "connecting"
	PhaseConnected    ConnectionPhase = "connected"
)
