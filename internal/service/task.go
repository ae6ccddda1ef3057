// Package service implements the task backend's business logic: the task
// store, lifecycle transitions, and orchestration of simulated agent runs.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jarvis-labs/operator-console/internal/llm"
	"github.com/jarvis-labs/operator-console/internal/model"
	natsclient "github.com/jarvis-labs/operator-console/internal/nats"
	"github.com/jarvis-labs/operator-console/internal/simulator"
	"github.com/jarvis-labs/operator-console/pkg/logger"
	"github.com/jarvis-labs/operator-console/pkg/metrics"
)

var (
	// ErrTaskNotFound is returned when a task does not exist or belongs to
	// another user.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when an operation is not valid for
	// the task's current status.
	ErrInvalidTransition = errors.New("operation not valid for task status")
)

// TaskService owns task records and drives agent runs. Tasks live in
// memory; the durable event history lives in JetStream.
type TaskService struct {
	mu     sync.RWMutex
	tasks  map[string]*model.Task
	order  []string

	streams *natsclient.StreamManager
	runner  *simulator.Runner
	log     *logger.Logger
}

// Options configures a TaskService.
type Options struct {
	Streams *natsclient.StreamManager
	// LLM is optional; when set, agent runs use it for message text.
	LLM    llm.Client
	Logger *logger.Logger
	// StepDelay is forwarded to the simulator.
	StepDelay time.Duration
}

// New creates a task service and its simulator runner.
func New(opts Options) *TaskService {
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}
	svc := &TaskService{
		tasks:   make(map[string]*model.Task),
		streams: opts.Streams,
		log:     log,
	}
	svc.runner = simulator.NewRunner(simulator.Options{
		Streams:   opts.Streams,
		Backend:   svc,
		LLM:       opts.LLM,
		Logger:    log,
		StepDelay: opts.StepDelay,
	})
	return svc
}

// Create registers a new task in pending status and persists the user's
// prompt as the first history record.
func (s *TaskService) Create(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error) {
	agent := req.AgentName
	if agent == "" {
		agent = "secretary"
	}

	now := time.Now().UTC()
	task := &model.Task{
		ID:          model.NewID(),
		UserID:      req.UserID,
		Description: req.Description,
		Status:      model.StatusPending,
		AgentName:   agent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	s.mu.Unlock()

	s.writeRecord(ctx, task.ID, "user", req.Description, nil)
	metrics.TasksTotal.WithLabelValues(agent).Inc()

	s.log.Info("task created", "task_id", task.ID, "user_id", req.UserID, "agent", agent)
	snapshot := *task
	return &snapshot, nil
}

// Get returns a task owned by the user.
func (s *TaskService) Get(ctx context.Context, userID, taskID string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok || task.UserID != userID {
		return nil, ErrTaskNotFound
	}
	snapshot := *task
	return &snapshot, nil
}

// Run starts or restarts an agent run. Valid from pending, failed and
// cancelled; a running task is left alone.
func (s *TaskService) Run(ctx context.Context, userID, taskID string) (*model.TaskRunResponse, error) {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok || task.UserID != userID {
		s.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	switch task.Status {
	case model.StatusPending, model.StatusFailed, model.StatusCancelled:
	default:
		status := task.Status
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot run task in status %s", ErrInvalidTransition, status)
	}
	task.Status = model.StatusQueued
	task.ErrorMessage = ""
	task.UpdatedAt = time.Now().UTC()
	snapshot := *task
	s.mu.Unlock()

	go s.runner.Run(context.Background(), snapshot)

	return &model.TaskRunResponse{
		TaskID:  taskID,
		Status:  string(model.StatusQueued),
		Message: "agent run started",
	}, nil
}

// Review applies a human review decision to a task awaiting review.
// Approval archives the task and closes its stream; rejection records the
// feedback and sends the agent back for a revision pass.
func (s *TaskService) Review(ctx context.Context, userID, taskID string, req *model.ReviewRequest) (*model.ReviewResponse, error) {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok || task.UserID != userID {
		s.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	if task.Status != model.StatusAwaitingReview {
		status := task.Status
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot review task in status %s", ErrInvalidTransition, status)
	}

	prev := task.Status
	now := time.Now().UTC()

	switch req.Action {
	case model.ReviewApprove:
		task.Status = model.StatusArchived
		task.IsArchived = true
		task.ArchivedAt = &now
		if task.ArchiveSummary == "" {
			task.ArchiveSummary = summarize(task.Description)
		}
	case model.ReviewReject:
		task.Status = model.StatusRunning
	default:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: unknown review action %q", ErrInvalidTransition, req.Action)
	}
	task.UpdatedAt = now
	snapshot := *task
	s.mu.Unlock()

	if req.Feedback != "" {
		s.writeRecord(ctx, taskID, "review_feedback", req.Feedback,
			map[string]any{"action": string(req.Action)})
	}

	var message string
	switch req.Action {
	case model.ReviewApprove:
		message = "task approved and archived"
		s.runner.AnnounceStatus(snapshot, prev, model.StatusArchived, message)
		s.runner.AnnounceClose(taskID, "task archived")
	case model.ReviewReject:
		message = "feedback sent to agent"
		s.runner.AnnounceStatus(snapshot, prev, model.StatusRunning, message)
		go s.runner.Revise(context.Background(), snapshot, req.Feedback)
	}

	s.log.Info("task reviewed", "task_id", taskID, "action", req.Action, "new_status", snapshot.Status)

	return &model.ReviewResponse{
		TaskID:          taskID,
		Action:          req.Action,
		NewStatus:       snapshot.Status,
		Message:         message,
		TotalTokensUsed: snapshot.TotalTokensUsed,
		TotalCost:       snapshot.TotalCost,
	}, nil
}

// RespondHITL answers a suspended task's checkpoint question.
func (s *TaskService) RespondHITL(ctx context.Context, userID, taskID string, req *model.HITLRequest) (*model.HITLResponse, error) {
	s.mu.RLock()
	task, ok := s.tasks[taskID]
	if !ok || task.UserID != userID {
		s.mu.RUnlock()
		return nil, ErrTaskNotFound
	}
	if task.Status != model.StatusSuspended {
		status := task.Status
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: cannot respond to task in status %s", ErrInvalidTransition, status)
	}
	snapshot := *task
	s.mu.RUnlock()

	if req.Message != "" {
		s.writeRecord(ctx, taskID, "user", req.Message,
			map[string]any{"hitl": true, "approved": req.Approved})
	}

	go s.runner.ResumeHITL(context.Background(), snapshot, req.Approved, req.Message)

	newStatus := model.StatusRunning
	if !req.Approved {
		newStatus = model.StatusCancelled
	}

	return &model.HITLResponse{
		TaskID:    taskID,
		Approved:  req.Approved,
		NewStatus: newStatus,
		Message:   "decision recorded",
	}, nil
}

// Archive archives a finished task directly, outside the review flow.
func (s *TaskService) Archive(ctx context.Context, userID, taskID string, req *model.ArchiveRequest) (*model.ArchiveResponse, error) {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok || task.UserID != userID {
		s.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	switch task.Status {
	case model.StatusCompleted, model.StatusAwaitingReview, model.StatusCancelled, model.StatusFailed:
	default:
		status := task.Status
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot archive task in status %s", ErrInvalidTransition, status)
	}

	prev := task.Status
	now := time.Now().UTC()
	task.Status = model.StatusArchived
	task.IsArchived = true
	task.ArchivedAt = &now
	switch {
	case req.CustomSummary != "":
		task.ArchiveSummary = req.CustomSummary
	case task.ArchiveSummary == "":
		task.ArchiveSummary = summarize(task.Description)
	}
	if len(req.Artifacts) > 0 {
		task.ArchiveArtifacts = req.Artifacts
	}
	task.UpdatedAt = now
	snapshot := *task
	s.mu.Unlock()

	s.runner.AnnounceStatus(snapshot, prev, model.StatusArchived, "task archived")
	s.runner.AnnounceClose(taskID, "task archived")

	return &model.ArchiveResponse{
		TaskID:          taskID,
		Status:          string(model.StatusArchived),
		ArchiveSummary:  snapshot.ArchiveSummary,
		ArchivedAt:      now,
		TotalTokensUsed: snapshot.TotalTokensUsed,
		TotalCost:       snapshot.TotalCost,
	}, nil
}

// ListByUser returns the user's tasks in creation order.
func (s *TaskService) ListByUser(ctx context.Context, userID string, params model.TaskListParams) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Task
	for _, id := range s.order {
		task := s.tasks[id]
		if task.UserID != userID {
			continue
		}
		if task.IsArchived && !params.IncludeArchived && params.Status != model.StatusArchived {
			continue
		}
		if params.Status != "" && task.Status != params.Status {
			continue
		}
		out = append(out, *task)
	}
	return out, nil
}

// Stats aggregates the user's task activity.
func (s *TaskService) Stats(ctx context.Context, userID string) (*model.UserStatsResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &model.UserStatsResponse{
		UserID:        userID,
		TasksByStatus: make(map[model.TaskStatus]int),
	}
	for _, task := range s.tasks {
		if task.UserID != userID {
			continue
		}
		stats.TotalTasks++
		stats.TasksByStatus[task.Status]++
		stats.TotalTokensUsed += task.TotalTokensUsed
		stats.TotalCost += task.TotalCost
		if task.IsArchived {
			stats.ArchivedCount++
		}
	}
	return stats, nil
}

// History returns the task's durable event rows, raw.
func (s *TaskService) History(ctx context.Context, userID, taskID string) ([]json.RawMessage, error) {
	if _, err := s.Get(ctx, userID, taskID); err != nil {
		return nil, err
	}
	records, err := s.streams.TaskHistory(ctx, taskID, 1000)
	if err != nil {
		return nil, fmt.Errorf("failed to load task history: %w", err)
	}
	return records, nil
}

// TransitionTask implements simulator.Backend.
func (s *TaskService) TransitionTask(taskID string, to model.TaskStatus, errMsg string) (model.TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return "", false
	}
	prev := task.Status
	task.Status = to
	task.ErrorMessage = errMsg
	task.UpdatedAt = time.Now().UTC()
	return prev, true
}

// AddTaskUsage implements simulator.Backend.
func (s *TaskService) AddTaskUsage(taskID string, tokens int, cost float64) (int, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return 0, 0
	}
	task.TotalTokensUsed += tokens
	task.TotalCost += cost
	task.UpdatedAt = time.Now().UTC()
	return task.TotalTokensUsed, task.TotalCost
}

func (s *TaskService) writeRecord(ctx context.Context, taskID, role, content string, meta map[string]any) {
	rec := &model.HistoryRecord{
		ID:        json.Number(model.NewID()),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if meta != nil {
		if metaJSON, err := json.Marshal(meta); err == nil {
			rec.Meta = metaJSON
		}
	}
	if _, err := s.streams.PublishRecord(ctx, taskID, rec); err != nil {
		s.log.Warn("failed to persist history record", "task_id", taskID, "role", role, "error", err)
	}
}

func summarize(description string) string {
	const max = 100
	if utf8.RuneCountInString(description) <= max {
		return "Completed: " + description
	}
	runes := []rune(description)
	return "Completed: " + string(runes[:max]) + "..."
}
