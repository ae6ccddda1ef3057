// Package session reconstructs a task's conversation timeline from its
// event stream and exposes a consistent snapshot to rendering code.
package session

import (
	"fmt"

	"github.com/jarvis-labs/operator-console/internal/model"
)

// EntryFromEvent projects one decoded stream event onto a timeline entry.
// It returns false for event kinds that never produce an entry: connected,
// heartbeat, token_update and close only affect connection or ledger state.
func EntryFromEvent(ev *model.Event) (model.TimelineEntry, bool) {
	base := model.TimelineEntry{
		ID:         ev.ID,
		Agent:      ev.Agent,
		OccurredAt: ev.OccurredAt,
		Meta:       ev.Meta,
	}

	switch ev.Kind {
	case model.KindThought:
		base.Kind = model.EntryThought
		base.Text = ev.Thought.Text
		return base, true

	case model.KindToolCall:
		base.Kind = model.EntryToolCall
		base.Text = fmt.Sprintf("Calling %s", ev.ToolCall.Tool)
		base.ToolName = ev.ToolCall.Tool
		base.ToolInput = ev.ToolCall.Input
		return base, true

	case model.KindToolResult:
		base.Kind = model.EntryToolResult
		base.Text = ev.ToolResult.Result
		base.ToolName = ev.ToolResult.Tool
		base.ToolResult = ev.ToolResult.Result
		base.ToolSuccess = ev.ToolResult.Success
		return base, true

	case model.KindMessage:
		base.Kind = model.EntryAssistant
		base.Text = ev.Message.Text
		return base, true

	case model.KindStatusChange:
		base.Kind = model.EntryStatus
		base.Text = ev.StatusChange.Message
		if base.Text == "" {
			base.Text = fmt.Sprintf("Status: %s", ev.StatusChange.Status)
		}
		base.Status = ev.StatusChange.Status
		base.PreviousStatus = ev.StatusChange.PreviousStatus
		base.HITLQuestion = ev.StatusChange.Question
		return base, true

	case model.KindError:
		base.Kind = model.EntryError
		base.Text = ev.Error.Message
		return base, true
	}

	return model.TimelineEntry{}, false
}
