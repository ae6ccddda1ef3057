package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/jarvis-labs/operator-console/internal/model"
	"github.com/jarvis-labs/operator-console/pkg/metrics"
)

const (
	// StreamName is the name of the durable task history stream.
	StreamName = "TASKS"

	// SubjectPrefix is the prefix for all task subjects.
	SubjectPrefix = "tasks"
)

// LiveFrame is one stream frame carried over the live fan-out subject.
// Event is the frame name, Data the JSON payload delivered to stream
// consumers verbatim.
type LiveFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// StreamManager handles JetStream stream operations for task history and
// core-NATS fan-out of live frames.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the task history stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.history.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Durable per-task event history",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// HistorySubject returns the durable history subject for a task and role.
func HistorySubject(taskID, role string) string {
	return fmt.Sprintf("%s.history.%s.%s", SubjectPrefix, taskID, role)
}

// HistoryFilter returns the filter subject for all history records of a task.
func HistoryFilter(taskID string) string {
	return fmt.Sprintf("%s.history.%s.>", SubjectPrefix, taskID)
}

// LiveSubject returns the core-NATS subject frames for a task are
// fanned out on.
func LiveSubject(taskID string) string {
	return fmt.Sprintf("%s.live.%s", SubjectPrefix, taskID)
}

// PublishRecord appends a history record to the task's durable log.
func (m *StreamManager) PublishRecord(ctx context.Context, taskID string, rec *model.HistoryRecord) (uint64, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal history record: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, HistorySubject(taskID, rec.Role), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish history record: %w", err)
	}

	metrics.NATSStreamMessages.WithLabelValues(StreamName).Inc()
	return ack.Sequence, nil
}

// TaskHistory retrieves the full history of a task in stream order.
// Records that fail to decode are skipped.
func (m *StreamManager) TaskHistory(ctx context.Context, taskID string, limit int) ([]json.RawMessage, error) {
	js := m.client.JetStream()

	consumer, err := js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: HistoryFilter(taskID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	var records []json.RawMessage
	for msg := range batch.Messages() {
		data := make([]byte, len(msg.Data()))
		copy(data, msg.Data())
		records = append(records, json.RawMessage(data))
	}

	if batch.Error() != nil && batch.Error() != context.DeadlineExceeded {
		return nil, fmt.Errorf("batch error: %w", batch.Error())
	}

	return records, nil
}

// PublishFrame fans a live frame out to any connected stream handlers.
func (m *StreamManager) PublishFrame(taskID, event string, data []byte) error {
	frame := LiveFrame{Event: event, Data: data}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal live frame: %w", err)
	}
	if err := m.client.Conn().Publish(LiveSubject(taskID), payload); err != nil {
		return fmt.Errorf("failed to publish live frame: %w", err)
	}
	return nil
}

// SubscribeLive subscribes to a task's live frames. The handler is called
// from the NATS delivery goroutine; frames that fail to decode are dropped.
func (m *StreamManager) SubscribeLive(taskID string, handler func(LiveFrame)) (*nats.Subscription, error) {
	sub, err := m.client.Conn().Subscribe(LiveSubject(taskID), func(msg *nats.Msg) {
		var frame LiveFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			return
		}
		handler(frame)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to live frames: %w", err)
	}
	return sub, nil
}
