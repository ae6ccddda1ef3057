// Package stream implements the task event stream client: frame decoding,
// the SSE transport, and the connection manager.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jarvis-labs/operator-console/internal/model"
)

// ErrUnknownFrame marks a frame name outside the protocol. Unknown frames
// are dropped, never fatal to the stream.
var ErrUnknownFrame = errors.New("unknown frame name")

// DecodeError describes a frame the decoder rejected. It never propagates
// past the stream boundary; callers log it and continue.
type DecodeError struct {
	Frame  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s frame: %s: %v", e.Frame, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s frame: %s", e.Frame, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(frame, reason string, err error) *DecodeError {
	return &DecodeError{Frame: frame, Reason: reason, Err: err}
}

// flexibleID accepts either a JSON string or a JSON number. Task IDs are
// 17-digit decimals; they must stay strings to survive round-trips through
// clients without 64-bit integers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		*f = ""
		return nil
	}
	if s[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = flexibleID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

// wireFrame is the envelope shared by every payload-bearing frame.
type wireFrame struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Agent     string          `json:"agent"`
	Timestamp string          `json:"timestamp"`
	TaskID    flexibleID      `json:"task_id"`
	Content   json.RawMessage `json:"content"`
	Meta      map[string]any  `json:"meta"`
}

// wireControl is the envelope for connected, heartbeat and close frames,
// which carry no event identity.
type wireControl struct {
	TaskID    flexibleID `json:"task_id"`
	Timestamp string     `json:"timestamp"`
	Reason    string     `json:"reason"`
}

// DecodeFrame parses one named frame into a typed event. A non-nil error
// is always a *DecodeError; the frame is dropped and the stream continues.
func DecodeFrame(name string, data []byte) (*model.Event, error) {
	switch model.EventKind(name) {
	case model.KindConnected, model.KindHeartbeat, model.KindClose:
		return decodeControlFrame(model.EventKind(name), data)
	case model.KindThought, model.KindToolCall, model.KindToolResult,
		model.KindMessage, model.KindStatusChange, model.KindTokenUpdate,
		model.KindError:
		return decodeEventFrame(model.EventKind(name), data)
	default:
		return nil, decodeErr(name, "unknown frame name", ErrUnknownFrame)
	}
}

func decodeControlFrame(kind model.EventKind, data []byte) (*model.Event, error) {
	var w wireControl
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, decodeErr(string(kind), "malformed payload", err)
	}
	return &model.Event{
		Kind:        kind,
		TaskID:      string(w.TaskID),
		OccurredAt:  parseTimestamp(w.Timestamp),
		CloseReason: w.Reason,
	}, nil
}

func decodeEventFrame(kind model.EventKind, data []byte) (*model.Event, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, decodeErr(string(kind), "malformed payload", err)
	}
	if len(w.Content) == 0 {
		return nil, decodeErr(string(kind), "missing content", nil)
	}

	ev := &model.Event{
		ID:         w.EventID,
		Kind:       kind,
		Agent:      w.Agent,
		TaskID:     string(w.TaskID),
		OccurredAt: parseTimestamp(w.Timestamp),
		Meta:       w.Meta,
	}

	switch kind {
	case model.KindThought:
		var c model.ThoughtContent
		if err := json.Unmarshal(w.Content, &c); err != nil {
			return nil, decodeErr(string(kind), "malformed content", err)
		}
		ev.Thought = &c

	case model.KindToolCall:
		var c model.ToolCallContent
		if err := json.Unmarshal(w.Content, &c); err != nil {
			return nil, decodeErr(string(kind), "malformed content", err)
		}
		if c.Tool == "" {
			return nil, decodeErr(string(kind), "missing content.tool", nil)
		}
		ev.ToolCall = &c

	case model.KindToolResult:
		var c model.ToolResultContent
		if err := json.Unmarshal(w.Content, &c); err != nil {
			return nil, decodeErr(string(kind), "malformed content", err)
		}
		if c.Tool == "" {
			return nil, decodeErr(string(kind), "missing content.tool", nil)
		}
		ev.ToolResult = &c

	case model.KindMessage:
		var c model.MessageContent
		if err := json.Unmarshal(w.Content, &c); err != nil {
			return nil, decodeErr(string(kind), "malformed content", err)
		}
		ev.Message = &c

	case model.KindStatusChange:
		var c model.StatusChangeContent
		if err := json.Unmarshal(w.Content, &c); err != nil {
			return nil, decodeErr(string(kind), "malformed content", err)
		}
		if c.Status == "" {
			return nil, decodeErr(string(kind), "missing content.status", nil)
		}
		ev.StatusChange = &c

	case model.KindTokenUpdate:
		var c model.TokenUpdateContent
		if err := json.Unmarshal(w.Content, &c); err != nil {
			return nil, decodeErr(string(kind), "malformed content", err)
		}
		ev.TokenUpdate = &c

	case model.KindError:
		var c model.ErrorContent
		if err := json.Unmarshal(w.Content, &c); err != nil {
			return nil, decodeErr(string(kind), "malformed content", err)
		}
		if c.Message == "" {
			return nil, decodeErr(string(kind), "missing content.message", nil)
		}
		ev.Error = &c
	}

	return ev, nil
}

// parseTimestamp tolerates absent or malformed timestamps; arrival order is
// authoritative for ordering, so a bad timestamp is not a decode failure.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now().UTC()
}
