package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvis-labs/operator-console/internal/model"
)

func TestDecodeFrame(t *testing.T) {
	t.Run("Should decode a thought frame with full envelope", func(t *testing.T) {
		data := []byte(`{
			"event_id": "ev-1",
			"type": "thought",
			"agent": "secretary",
			"timestamp": "2026-08-30T12:00:00Z",
			"task_id": "17241800000001234",
			"content": {"text": "planning next step"},
			"meta": {"step": "plan"}
		}`)

		ev, err := DecodeFrame("thought", data)
		require.NoError(t, err)
		assert.Equal(t, "ev-1", ev.ID)
		assert.Equal(t, model.KindThought, ev.Kind)
		assert.Equal(t, "secretary", ev.Agent)
		assert.Equal(t, "17241800000001234", ev.TaskID)
		assert.Equal(t, time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC), ev.OccurredAt)
		require.NotNil(t, ev.Thought)
		assert.Equal(t, "planning next step", ev.Thought.Text)
		assert.Equal(t, "plan", ev.Meta["step"])
	})

	t.Run("Should keep a numeric task_id as a string", func(t *testing.T) {
		data := []byte(`{"event_id":"ev-2","content":{"text":"hi"},"task_id":17241800000001234}`)

		ev, err := DecodeFrame("message", data)
		require.NoError(t, err)
		assert.Equal(t, "17241800000001234", ev.TaskID)
	})

	t.Run("Should decode a tool_call frame", func(t *testing.T) {
		data := []byte(`{"event_id":"ev-3","content":{"tool":"web_search","input":{"query":"golang"}}}`)

		ev, err := DecodeFrame("tool_call", data)
		require.NoError(t, err)
		require.NotNil(t, ev.ToolCall)
		assert.Equal(t, "web_search", ev.ToolCall.Tool)
		assert.Equal(t, "golang", ev.ToolCall.Input["query"])
	})

	t.Run("Should reject a tool_call frame without a tool name", func(t *testing.T) {
		data := []byte(`{"event_id":"ev-4","content":{"input":{}}}`)

		_, err := DecodeFrame("tool_call", data)
		require.Error(t, err)
		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
		assert.Equal(t, "tool_call", decodeErr.Frame)
	})

	t.Run("Should reject a frame without content", func(t *testing.T) {
		data := []byte(`{"event_id":"ev-5"}`)

		_, err := DecodeFrame("message", data)
		require.Error(t, err)
	})

	t.Run("Should reject malformed JSON", func(t *testing.T) {
		_, err := DecodeFrame("message", []byte(`{not json`))
		require.Error(t, err)
		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
	})

	t.Run("Should reject an unknown frame name", func(t *testing.T) {
		_, err := DecodeFrame("telemetry", []byte(`{}`))
		require.ErrorIs(t, err, ErrUnknownFrame)
	})

	t.Run("Should recognize every name in the frame vocabulary", func(t *testing.T) {
		for _, kind := range model.FrameKinds {
			_, err := DecodeFrame(string(kind), []byte(`{}`))
			assert.NotErrorIs(t, err, ErrUnknownFrame, "frame %s", kind)
		}
	})

	t.Run("Should decode a status_change frame with checkpoint question", func(t *testing.T) {
		data := []byte(`{
			"event_id": "ev-6",
			"content": {
				"status": "suspended",
				"previous_status": "running",
				"question": "Proceed with purchase?",
				"type": "confirmation"
			}
		}`)

		ev, err := DecodeFrame("status_change", data)
		require.NoError(t, err)
		require.NotNil(t, ev.StatusChange)
		assert.Equal(t, model.StatusSuspended, ev.StatusChange.Status)
		assert.Equal(t, model.StatusRunning, ev.StatusChange.PreviousStatus)
		assert.Equal(t, "Proceed with purchase?", ev.StatusChange.Question)
	})

	t.Run("Should reject a status_change frame without a status", func(t *testing.T) {
		data := []byte(`{"event_id":"ev-7","content":{"message":"hello"}}`)

		_, err := DecodeFrame("status_change", data)
		require.Error(t, err)
	})

	t.Run("Should decode a token_update frame", func(t *testing.T) {
		data := []byte(`{
			"event_id": "ev-8",
			"content": {
				"input_tokens": 850,
				"output_tokens": 220,
				"cost": 0.0032,
				"cumulative_tokens": 1070,
				"cumulative_cost": 0.0032,
				"model": "simulated"
			}
		}`)

		ev, err := DecodeFrame("token_update", data)
		require.NoError(t, err)
		require.NotNil(t, ev.TokenUpdate)
		assert.Equal(t, 1070, ev.TokenUpdate.CumulativeTokens)
		assert.InDelta(t, 0.0032, ev.TokenUpdate.CumulativeCost, 1e-9)
	})

	t.Run("Should reject an error frame without a message", func(t *testing.T) {
		data := []byte(`{"event_id":"ev-9","content":{"code":"oops"}}`)

		_, err := DecodeFrame("error", data)
		require.Error(t, err)
	})

	t.Run("Should decode connected and close control frames", func(t *testing.T) {
		ev, err := DecodeFrame("connected", []byte(`{"task_id":"42"}`))
		require.NoError(t, err)
		assert.Equal(t, model.KindConnected, ev.Kind)
		assert.Equal(t, "42", ev.TaskID)

		ev, err = DecodeFrame("close", []byte(`{"task_id":"42","reason":"task archived"}`))
		require.NoError(t, err)
		assert.Equal(t, model.KindClose, ev.Kind)
		assert.Equal(t, "task archived", ev.CloseReason)
	})

	t.Run("Should tolerate a malformed timestamp", func(t *testing.T) {
		data := []byte(`{"event_id":"ev-10","content":{"text":"hi"},"timestamp":"yesterday"}`)

		ev, err := DecodeFrame("message", data)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().UTC(), ev.OccurredAt, 5*time.Second)
	})
}
