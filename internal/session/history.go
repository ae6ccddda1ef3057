package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jarvis-labs/operator-console/internal/model"
	"github.com/jarvis-labs/operator-console/pkg/logger"
)

// HistoryAPI fetches a task's durable event history. Records are returned
// raw so that one malformed record can be skipped without losing the rest.
type HistoryAPI interface {
	TaskEvents(ctx context.Context, taskID string) ([]json.RawMessage, error)
}

// LoadHistory fetches and converts a task's stored events into timeline
// entries. It fails soft: on fetch error it returns an empty timeline and
// logs, never blocking task selection. Individual malformed records are
// skipped with a warning.
func LoadHistory(ctx context.Context, api HistoryAPI, taskID string, log *logger.Logger) []model.TimelineEntry {
	if log == nil {
		log = logger.Global()
	}

	raw, err := api.TaskEvents(ctx, taskID)
	if err != nil {
		log.Error("failed to load task history", "task_id", taskID, "error", err)
		return nil
	}

	entries := make([]model.TimelineEntry, 0, len(raw))
	for i, data := range raw {
		var rec model.HistoryRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Warn("skipping malformed history record", "task_id", taskID, "index", i, "error", err)
			continue
		}

		entry, ok := entryFromRecord(&rec, i, log)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}

	return entries
}

// entryFromRecord maps one stored record onto a timeline entry. Stored
// roles use the provider vocabulary (tool_use rather than tool_call);
// unknown roles are skipped, never fatal.
func entryFromRecord(rec *model.HistoryRecord, index int, log *logger.Logger) (model.TimelineEntry, bool) {
	id := rec.ID.String()
	if id == "" {
		id = fmt.Sprintf("%d", index)
	}

	occurredAt := rec.CreatedAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	entry := model.TimelineEntry{
		ID:         "history-" + id,
		Text:       rec.Content,
		OccurredAt: occurredAt,
	}

	meta := decodeMeta(rec.Meta)

	switch rec.Role {
	case "user":
		entry.Kind = model.EntryUser

	case "assistant":
		entry.Kind = model.EntryAssistant
		entry.Text = assistantText(rec.Content)
		entry.Agent = metaString(meta, "agent")
		if entry.Agent == "" {
			entry.Agent = "assistant"
		}

	case "thought":
		entry.Kind = model.EntryThought
		entry.Agent = metaString(meta, "agent")

	case "tool_use":
		entry.Kind = model.EntryToolCall
		entry.Agent = metaString(meta, "agent")
		entry.ToolName = metaString(meta, "tool_name")
		if entry.ToolName == "" {
			entry.ToolName = "unknown"
		}
		if input, ok := meta["input"].(map[string]any); ok {
			entry.ToolInput = input
		}

	case "tool_result":
		entry.Kind = model.EntryToolResult
		entry.Agent = metaString(meta, "agent")
		entry.ToolName = metaString(meta, "tool_name")
		if entry.ToolName == "" {
			entry.ToolName = "unknown"
		}
		entry.ToolResult = rec.Content
		entry.ToolSuccess = true
		if success, ok := meta["success"].(bool); ok {
			entry.ToolSuccess = success
		}

	case "review_feedback":
		entry.Kind = model.EntryReviewFeedback

	default:
		log.Warn("skipping history record with unknown role", "role", rec.Role)
		return model.TimelineEntry{}, false
	}

	return entry, true
}

// assistantText extracts display text from assistant content. The backend
// stores the provider's structured block list for assistant turns; only
// text-typed blocks are rendered, newline-joined. Anything unparseable is
// shown raw.
func assistantText(content string) string {
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &blocks); err != nil {
		return content
	}

	texts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" {
			texts = append(texts, b.Text)
		}
	}
	if len(texts) == 0 {
		return content
	}
	return strings.Join(texts, "\n")
}

// decodeMeta tolerates meta stored either as a JSON object or as a
// JSON-encoded string holding an object.
func decodeMeta(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}

	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err == nil {
		return meta
	}

	var nested string
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(nested), &meta); err != nil {
		return nil
	}
	return meta
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}
