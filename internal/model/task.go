// Package model defines data structures shared by the console and the
// task backend API.
package model

import (
	"time"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending        TaskStatus = "pending"
	StatusQueued         TaskStatus = "queued"
	StatusRunning        TaskStatus = "running"
	StatusSuspended      TaskStatus = "suspended"
	StatusAwaitingReview TaskStatus = "awaiting_review"
	StatusCompleted      TaskStatus = "completed"
	StatusArchived       TaskStatus = "archived"
	StatusFailed         TaskStatus = "failed"
	StatusCancelled      TaskStatus = "cancelled"
)

// Terminal reports whether no further work happens in this status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusArchived, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Interactive reports whether the status is a human-in-the-loop checkpoint.
func (s TaskStatus) Interactive() bool {
	return s == StatusSuspended || s == StatusAwaitingReview
}

// ClosesStream reports whether the backend stops producing events in this
// status. Only archived and failed are guaranteed to end event production;
// completed (quick-finish path) and cancelled may still trail events.
func (s TaskStatus) ClosesStream() bool {
	return s == StatusArchived || s == StatusFailed
}

// Task is a task record as returned by the backend.
//
// Task IDs are opaque decimal strings. The backend generates 17-digit
// timestamp-based IDs that exceed float64 precision, so they are never
// parsed as numbers.
type Task struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Description  string     `json:"description"`
	Status       TaskStatus `json:"status"`
	AgentName    string     `json:"agent_name"`
	ErrorMessage string     `json:"error_message,omitempty"`

	TotalTokensUsed int     `json:"total_tokens_used"`
	TotalCost       float64 `json:"total_cost"`

	ArchiveSummary   string     `json:"archive_summary,omitempty"`
	ArchiveArtifacts []string   `json:"archive_artifacts,omitempty"`
	IsArchived       bool       `json:"is_archived"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateTaskRequest is the request to create a new task.
type CreateTaskRequest struct {
	UserID      string `json:"user_id"`
	Description string `json:"description"`
	AgentName   string `json:"agent_name,omitempty"`
}

// TaskRunResponse is the response to a run/restart request.
type TaskRunResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ReviewAction is a human review decision.
type ReviewAction string

const (
	ReviewApprove ReviewAction = "approve"
	ReviewReject  ReviewAction = "reject"
)

// ReviewRequest is the request to review a task awaiting acceptance.
type ReviewRequest struct {
	Action   ReviewAction `json:"action"`
	Feedback string       `json:"feedback,omitempty"`
}

// ReviewResponse is the response to a review request.
type ReviewResponse struct {
	TaskID          string       `json:"task_id"`
	Action          ReviewAction `json:"action"`
	NewStatus       TaskStatus   `json:"new_status"`
	Message         string       `json:"message"`
	TotalTokensUsed int          `json:"total_tokens_used"`
	TotalCost       float64      `json:"total_cost"`
}

// HITLRequest is the response to a suspended (human-in-the-loop) checkpoint.
type HITLRequest struct {
	Approved bool   `json:"approved"`
	Message  string `json:"message,omitempty"`
}

// HITLResponse is the backend's acknowledgement of a HITL decision.
type HITLResponse struct {
	TaskID    string     `json:"task_id"`
	Approved  bool       `json:"approved"`
	NewStatus TaskStatus `json:"new_status"`
	Message   string     `json:"message,omitempty"`
}

// ArchiveRequest is the request to archive a completed task.
type ArchiveRequest struct {
	GenerateSummary bool     `json:"generate_summary,omitempty"`
	CustomSummary   string   `json:"custom_summary,omitempty"`
	Artifacts       []string `json:"artifacts,omitempty"`
}

// ArchiveResponse is the response to an archive request.
type ArchiveResponse struct {
	TaskID          string    `json:"task_id"`
	Status          string    `json:"status"`
	ArchiveSummary  string    `json:"archive_summary,omitempty"`
	ArchivedAt      time.Time `json:"archived_at"`
	TotalTokensUsed int       `json:"total_tokens_used"`
	TotalCost       float64   `json:"total_cost"`
}

// UserStatsResponse aggregates a user's task activity.
type UserStatsResponse struct {
	UserID          string             `json:"user_id"`
	TotalTasks      int                `json:"total_tasks"`
	TasksByStatus   map[TaskStatus]int `json:"tasks_by_status"`
	TotalTokensUsed int                `json:"total_tokens_used"`
	TotalCost       float64            `json:"total_cost"`
	ArchivedCount   int                `json:"archived_count"`
}

// TaskListParams filters task listings.
type TaskListParams struct {
	Status          TaskStatus
	IncludeArchived bool
}
