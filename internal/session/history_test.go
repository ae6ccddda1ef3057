package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvis-labs/operator-console/internal/model"
	"github.com/jarvis-labs/operator-console/pkg/logger"
)

// fakeHistory serves canned raw records or an error.
type fakeHistory struct {
	records []json.RawMessage
	err     error
}

func (f *fakeHistory) TaskEvents(ctx context.Context, taskID string) ([]json.RawMessage, error) {
	return f.records, f.err
}

func TestLoadHistory(t *testing.T) {
	log := logger.NewNop()

	t.Run("Should map stored roles onto timeline entries", func(t *testing.T) {
		api := &fakeHistory{records: []json.RawMessage{
			json.RawMessage(`{"id":1,"role":"user","content":"book a flight","created_at":"2026-08-30T10:00:00Z"}`),
			json.RawMessage(`{"id":2,"role":"thought","content":"checking availability","meta":{"agent":"secretary"}}`),
			json.RawMessage(`{"id":3,"role":"review_feedback","content":"too expensive"}`),
		}}

		entries := LoadHistory(context.Background(), api, "101", log)

		require.Len(t, entries, 3)
		assert.Equal(t, model.EntryUser, entries[0].Kind)
		assert.Equal(t, "history-1", entries[0].ID)
		assert.Equal(t, "book a flight", entries[0].Text)
		assert.Equal(t, model.EntryThought, entries[1].Kind)
		assert.Equal(t, "secretary", entries[1].Agent)
		assert.Equal(t, model.EntryReviewFeedback, entries[2].Kind)
	})

	t.Run("Should join text blocks from assistant block lists", func(t *testing.T) {
		content := `[{"type":"text","text":"first"},{"type":"tool_use","id":"x"},{"type":"text","text":"second"}]`
		rec, _ := json.Marshal(map[string]any{"id": 5, "role": "assistant", "content": content})
		api := &fakeHistory{records: []json.RawMessage{rec}}

		entries := LoadHistory(context.Background(), api, "101", log)

		require.Len(t, entries, 1)
		assert.Equal(t, model.EntryAssistant, entries[0].Kind)
		assert.Equal(t, "first\nsecond", entries[0].Text)
	})

	t.Run("Should fall back to raw content when blocks do not parse", func(t *testing.T) {
		api := &fakeHistory{records: []json.RawMessage{
			json.RawMessage(`{"id":6,"role":"assistant","content":"plain text answer"}`),
		}}

		entries := LoadHistory(context.Background(), api, "101", log)

		require.Len(t, entries, 1)
		assert.Equal(t, "plain text answer", entries[0].Text)
	})

	t.Run("Should decode meta stored as a JSON-encoded string", func(t *testing.T) {
		api := &fakeHistory{records: []json.RawMessage{
			json.RawMessage(`{"id":7,"role":"tool_result","content":"ok","meta":"{\"tool_name\":\"web_search\",\"success\":false}"}`),
		}}

		entries := LoadHistory(context.Background(), api, "101", log)

		require.Len(t, entries, 1)
		assert.Equal(t, model.EntryToolResult, entries[0].Kind)
		assert.Equal(t, "web_search", entries[0].ToolName)
		assert.False(t, entries[0].ToolSuccess)
	})

	t.Run("Should default tool_result success to true", func(t *testing.T) {
		api := &fakeHistory{records: []json.RawMessage{
			json.RawMessage(`{"id":8,"role":"tool_result","content":"ok"}`),
		}}

		entries := LoadHistory(context.Background(), api, "101", log)

		require.Len(t, entries, 1)
		assert.True(t, entries[0].ToolSuccess)
		assert.Equal(t, "unknown", entries[0].ToolName)
	})

	t.Run("Should skip records with unknown roles", func(t *testing.T) {
		api := &fakeHistory{records: []json.RawMessage{
			json.RawMessage(`{"id":9,"role":"system","content":"internal"}`),
			json.RawMessage(`{"id":10,"role":"user","content":"still here"}`),
		}}

		entries := LoadHistory(context.Background(), api, "101", log)

		require.Len(t, entries, 1)
		assert.Equal(t, "history-10", entries[0].ID)
	})

	t.Run("Should skip individually malformed records", func(t *testing.T) {
		api := &fakeHistory{records: []json.RawMessage{
			json.RawMessage(`{"id":`),
			json.RawMessage(`{"id":11,"role":"user","content":"ok"}`),
		}}

		entries := LoadHistory(context.Background(), api, "101", log)

		require.Len(t, entries, 1)
	})

	t.Run("Should return an empty timeline when the fetch fails", func(t *testing.T) {
		api := &fakeHistory{err: errors.New("backend down")}

		entries := LoadHistory(context.Background(), api, "101", log)

		assert.Empty(t, entries)
	})
}
