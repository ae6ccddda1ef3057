// Package simulator drives scripted agent runs for the simulated task
// backend. Each run emits the full frame vocabulary a production agent
// would: thoughts, tool calls, token updates, messages and status changes,
// fanned out live over NATS and persisted to the task history stream.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jarvis-labs/operator-console/internal/llm"
	"github.com/jarvis-labs/operator-console/internal/model"
	natsclient "github.com/jarvis-labs/operator-console/internal/nats"
	"github.com/jarvis-labs/operator-console/pkg/logger"
	"github.com/jarvis-labs/operator-console/pkg/metrics"
)

// Backend is the task state the runner mutates as a run progresses.
// Implementations must be safe for concurrent use.
type Backend interface {
	// TransitionTask moves a task to a new status and returns the previous
	// one. ok is false when the task no longer exists.
	TransitionTask(taskID string, to model.TaskStatus, errMsg string) (prev model.TaskStatus, ok bool)

	// AddTaskUsage accumulates token usage and returns the new totals.
	AddTaskUsage(taskID string, tokens int, cost float64) (totalTokens int, totalCost float64)
}

// Options configures a Runner.
type Options struct {
	Streams *natsclient.StreamManager
	Backend Backend
	// LLM is optional. When set, thought and message text come from the
	// model instead of the built-in script.
	LLM    llm.Client
	Logger *logger.Logger
	// StepDelay is the pause between emitted frames. Defaults to 400ms.
	StepDelay time.Duration
	// CostPerToken prices token updates. Defaults to $3 per million.
	CostPerToken float64
}

// Runner plays agent runs against the stream manager.
type Runner struct {
	streams      *natsclient.StreamManager
	backend      Backend
	llm          llm.Client
	log          *logger.Logger
	stepDelay    time.Duration
	costPerToken float64
}

// NewRunner creates a runner.
func NewRunner(opts Options) *Runner {
	stepDelay := opts.StepDelay
	if stepDelay == 0 {
		stepDelay = 400 * time.Millisecond
	}
	costPerToken := opts.CostPerToken
	if costPerToken == 0 {
		costPerToken = 3.0 / 1_000_000
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}
	return &Runner{
		streams:      opts.Streams,
		backend:      opts.Backend,
		llm:          opts.LLM,
		log:          log,
		stepDelay:    stepDelay,
		costPerToken: costPerToken,
	}
}

// wireFrame is the envelope for payload-bearing frames.
type wireFrame struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	Agent     string         `json:"agent"`
	Timestamp string         `json:"timestamp"`
	TaskID    string         `json:"task_id"`
	Content   any            `json:"content"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// wireControl is the envelope for connected, heartbeat and close frames.
type wireControl struct {
	TaskID    string `json:"task_id"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

// Run plays a full scripted run: queued through awaiting_review, with an
// optional suspended checkpoint. Intended to be called on its own goroutine.
func (r *Runner) Run(ctx context.Context, task model.Task) {
	if _, ok := r.transition(task, model.StatusRunning, ""); !ok {
		return
	}

	if strings.Contains(strings.ToLower(task.Description), "fail") {
		r.failRun(task)
		return
	}

	r.emitThought(ctx, task, fmt.Sprintf("Breaking the request into steps: %s", truncate(task.Description, 120)))
	r.pause(ctx)

	query := truncate(task.Description, 80)
	r.emitToolCall(ctx, task, "web_search", map[string]any{"query": query})
	r.pause(ctx)
	r.emitToolResult(ctx, task, "web_search", fmt.Sprintf("Found 3 relevant results for %q", query), true)
	r.pause(ctx)

	r.emitUsage(task, 850, 220)
	r.pause(ctx)

	if wantsCheckpoint(task.Description) {
		r.suspend(ctx, task)
		return
	}

	r.finishDraft(ctx, task)
}

// ResumeHITL continues a suspended task after a human decision.
func (r *Runner) ResumeHITL(ctx context.Context, task model.Task, approved bool, message string) {
	if approved {
		if _, ok := r.transition(task, model.StatusRunning, ""); !ok {
			return
		}
		text := "Checkpoint approved, proceeding."
		if message != "" {
			text = fmt.Sprintf("Checkpoint approved, proceeding. Operator note: %s", message)
		}
		r.emitThought(ctx, task, text)
		r.pause(ctx)
		r.finishDraft(ctx, task)
		return
	}

	r.transition(task, model.StatusCancelled, "")
}

// Revise replays the drafting phase after a rejected review. The caller has
// already moved the task back to running and recorded the feedback.
func (r *Runner) Revise(ctx context.Context, task model.Task, feedback string) {
	r.emitThought(ctx, task, fmt.Sprintf("Incorporating review feedback: %s", truncate(feedback, 120)))
	r.pause(ctx)
	r.emitUsage(task, 400, 180)
	r.pause(ctx)
	r.finishDraft(ctx, task)
}

// AnnounceStatus emits a status_change frame for transitions initiated
// outside a run, such as archive and review decisions.
func (r *Runner) AnnounceStatus(task model.Task, from, to model.TaskStatus, message string) {
	r.emitStatus(task, to, from, "", message)
}

// AnnounceClose emits a close frame, ending event production for the task.
func (r *Runner) AnnounceClose(taskID, reason string) {
	r.emitControl(taskID, model.KindClose, reason)
}

func (r *Runner) finishDraft(ctx context.Context, task model.Task) {
	text := r.draftText(ctx, task)
	r.emitMessage(ctx, task, text)
	r.pause(ctx)
	r.emitUsage(task, 0, estimateTokens(text))

	prev, ok := r.transition(task, model.StatusAwaitingReview, "")
	if !ok {
		return
	}
	r.emitStatus(task, model.StatusAwaitingReview, prev, "", "Draft ready for review")
}

func (r *Runner) suspend(ctx context.Context, task model.Task) {
	prev, ok := r.transition(task, model.StatusSuspended, "")
	if !ok {
		return
	}
	r.emitStatusFrame(task, model.StatusChangeContent{
		Status:         model.StatusSuspended,
		PreviousStatus: prev,
		Question:       fmt.Sprintf("About to act on %q. Proceed?", truncate(task.Description, 80)),
		CheckpointType: "confirmation",
	})
}

func (r *Runner) failRun(task model.Task) {
	errMsg := "simulated agent failure"
	r.emitError(task, errMsg, "agent_error")

	prev, ok := r.transition(task, model.StatusFailed, errMsg)
	if !ok {
		return
	}
	r.emitStatus(task, model.StatusFailed, prev, "", errMsg)
	r.AnnounceClose(task.ID, "task failed")
}

// draftText produces the assistant's answer, from the LLM when configured.
func (r *Runner) draftText(ctx context.Context, task model.Task) string {
	if r.llm == nil {
		return fmt.Sprintf("Here is a draft for %q. Review and approve to archive, or reject with feedback.", truncate(task.Description, 100))
	}

	draft, err := r.llm.Complete(ctx, &llm.DraftRequest{Prompt: task.Description})
	if err != nil {
		r.log.Warn("LLM completion failed, falling back to scripted text",
			"task_id", task.ID, "provider", r.llm.Name(), "error", err)
		return fmt.Sprintf("Here is a draft for %q.", truncate(task.Description, 100))
	}

	metrics.RecordAgentTokens(draft.Model, draft.TokensIn, draft.TokensOut)
	r.emitUsage(task, draft.TokensIn, draft.TokensOut)
	return draft.Text
}

func (r *Runner) transition(task model.Task, to model.TaskStatus, errMsg string) (model.TaskStatus, bool) {
	prev, ok := r.backend.TransitionTask(task.ID, to, errMsg)
	if !ok {
		r.log.Warn("transition on missing task", "task_id", task.ID, "to", to)
		return "", false
	}
	if to == model.StatusRunning {
		r.emitStatus(task, model.StatusRunning, prev, "", "")
	}
	if to == model.StatusCancelled {
		r.emitStatus(task, model.StatusCancelled, prev, "", "Checkpoint declined by operator")
	}
	return prev, true
}

func (r *Runner) emitThought(ctx context.Context, task model.Task, text string) {
	r.emitFrame(task, model.KindThought, model.ThoughtContent{Text: text}, nil)
	r.record(ctx, task.ID, "thought", text, map[string]any{"agent": task.AgentName})
}

func (r *Runner) emitToolCall(ctx context.Context, task model.Task, tool string, input map[string]any) {
	r.emitFrame(task, model.KindToolCall, model.ToolCallContent{Tool: tool, Input: input}, nil)
	inputJSON, _ := json.Marshal(input)
	r.record(ctx, task.ID, "tool_use", string(inputJSON), map[string]any{
		"agent": task.AgentName, "tool_name": tool, "input": input,
	})
}

func (r *Runner) emitToolResult(ctx context.Context, task model.Task, tool, result string, success bool) {
	r.emitFrame(task, model.KindToolResult, model.ToolResultContent{Tool: tool, Result: result, Success: success}, nil)
	r.record(ctx, task.ID, "tool_result", result, map[string]any{
		"agent": task.AgentName, "tool_name": tool, "success": success,
	})
}

func (r *Runner) emitMessage(ctx context.Context, task model.Task, text string) {
	r.emitFrame(task, model.KindMessage, model.MessageContent{Text: text}, nil)
	r.record(ctx, task.ID, "assistant", text, map[string]any{"agent": task.AgentName})
}

func (r *Runner) emitError(task model.Task, message, code string) {
	r.emitFrame(task, model.KindError, model.ErrorContent{Message: message, Code: code}, nil)
}

func (r *Runner) emitStatus(task model.Task, status, prev model.TaskStatus, question, message string) {
	r.emitStatusFrame(task, model.StatusChangeContent{
		Status:         status,
		PreviousStatus: prev,
		Question:       question,
		Message:        message,
	})
	metrics.RecordStatusTransition(string(prev), string(status))
}

func (r *Runner) emitStatusFrame(task model.Task, content model.StatusChangeContent) {
	r.emitFrame(task, model.KindStatusChange, content, nil)
}

// emitUsage reports cumulative usage after adding this step's tokens.
func (r *Runner) emitUsage(task model.Task, tokensIn, tokensOut int) {
	stepTokens := tokensIn + tokensOut
	stepCost := float64(stepTokens) * r.costPerToken
	total, totalCost := r.backend.AddTaskUsage(task.ID, stepTokens, stepCost)

	r.emitFrame(task, model.KindTokenUpdate, model.TokenUpdateContent{
		InputTokens:      tokensIn,
		OutputTokens:     tokensOut,
		Cost:             stepCost,
		CumulativeTokens: total,
		CumulativeCost:   totalCost,
		Model:            "simulated",
	}, nil)
}

func (r *Runner) emitFrame(task model.Task, kind model.EventKind, content any, meta map[string]any) {
	frame := wireFrame{
		EventID:   uuid.NewString(),
		Type:      string(kind),
		Agent:     task.AgentName,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		TaskID:    task.ID,
		Content:   content,
		Meta:      meta,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		r.log.Error("failed to marshal frame", "task_id", task.ID, "kind", kind, "error", err)
		return
	}
	if err := r.streams.PublishFrame(task.ID, string(kind), data); err != nil {
		r.log.Warn("failed to publish frame", "task_id", task.ID, "kind", kind, "error", err)
	}
}

func (r *Runner) emitControl(taskID string, kind model.EventKind, reason string) {
	frame := wireControl{
		TaskID:    taskID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Reason:    reason,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := r.streams.PublishFrame(taskID, string(kind), data); err != nil {
		r.log.Warn("failed to publish control frame", "task_id", taskID, "kind", kind, "error", err)
	}
}

// record persists one durable history row for later reconciliation.
func (r *Runner) record(ctx context.Context, taskID, role, content string, meta map[string]any) {
	rec := &model.HistoryRecord{
		ID:        json.Number(model.NewID()),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if meta != nil {
		metaJSON, err := json.Marshal(meta)
		if err == nil {
			rec.Meta = metaJSON
		}
	}
	if _, err := r.streams.PublishRecord(ctx, taskID, rec); err != nil {
		r.log.Warn("failed to persist history record", "task_id", taskID, "role", role, "error", err)
	}
}

func (r *Runner) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(r.stepDelay):
	}
}

// wantsCheckpoint decides whether a run stops at a suspended checkpoint
// before acting. Descriptions that ask for confirmation get one.
func wantsCheckpoint(description string) bool {
	lower := strings.ToLower(description)
	return strings.Contains(lower, "confirm") || strings.Contains(lower, "approve first")
}

func estimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// truncate shortens s to at most max runes, never splitting a rune.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}
