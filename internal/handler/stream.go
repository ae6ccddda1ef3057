package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jarvis-labs/operator-console/internal/middleware"
	"github.com/jarvis-labs/operator-console/internal/model"
	natsclient "github.com/jarvis-labs/operator-console/internal/nats"
	"github.com/jarvis-labs/operator-console/internal/service"
	"github.com/jarvis-labs/operator-console/pkg/logger"
	"github.com/jarvis-labs/operator-console/pkg/metrics"
)

// knownFrames is the frame vocabulary the stream is allowed to emit.
var knownFrames = func() map[string]struct{} {
	m := make(map[string]struct{}, len(model.FrameKinds))
	for _, k := range model.FrameKinds {
		m[string(k)] = struct{}{}
	}
	return m
}()

// StreamHandler serves the per-task SSE event stream.
type StreamHandler struct {
	tasks   *service.TaskService
	streams *natsclient.StreamManager
	logger  *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(tasks *service.TaskService, streams *natsclient.StreamManager, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		tasks:   tasks,
		streams: streams,
		logger:  log,
	}
}

// Stream handles GET /api/v1/tasks/{id}/stream. It sends a connected frame,
// then forwards the task's live frames until the client disconnects or a
// close frame ends the stream. Heartbeats keep idle connections alive.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	taskID := chi.URLParam(r, "id")

	if err := middleware.ValidateTaskID(taskID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.tasks.Get(ctx, userID, taskID); err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	// Frames arrive on the NATS delivery goroutine; hand them to the
	// writer loop so only one goroutine touches the ResponseWriter.
	frames := make(chan natsclient.LiveFrame, 64)
	sub, err := h.streams.SubscribeLive(taskID, func(frame natsclient.LiveFrame) {
		select {
		case frames <- frame:
		default:
			// Slow consumer; drop rather than block NATS delivery.
		}
	})
	if err != nil {
		h.logger.Error("failed to subscribe to live frames", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to open stream")
		return
	}
	defer sub.Unsubscribe()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"task_id": taskID,
	})

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	done := ctx.Done()
	for {
		select {
		case <-done:
			h.logger.Info("SSE client disconnected", "task_id", taskID)
			return

		case frame := <-frames:
			if _, ok := knownFrames[frame.Event]; !ok {
				h.logger.Warn("dropping frame with unknown name", "task_id", taskID, "event", frame.Event)
				continue
			}
			sendSSERaw(w, flusher, frame.Event, frame.Data)
			if frame.Event == string(model.KindClose) {
				h.logger.Info("stream closed", "task_id", taskID)
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"task_id":   taskID,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return sendSSERaw(w, flusher, event, jsonData)
}

func sendSSERaw(w http.ResponseWriter, flusher http.Flusher, event string, data []byte) error {
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
	return nil
}
