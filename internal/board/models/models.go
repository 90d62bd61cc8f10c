// Package models defines boards, tasks, dependencies, memory entries,
// and approvals.
package models

import (
	"time"

	"github.com/pedrohperalta/openclaw-mission-control/internal/db"
)

// TaskStatus is the task state machine position.
type TaskStatus string

const (
	TaskInbox      TaskStatus = "inbox"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskDone       TaskStatus = "done"
)

// ValidTaskStatus reports whether s names a known state.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskInbox, TaskInProgress, TaskReview, TaskDone:
		return true
	}
	return false
}

// TaskPriority orders work within a column.
type TaskPriority string

const (
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// ValidTaskPriority reports whether p names a known priority.
func ValidTaskPriority(p TaskPriority) bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ApprovalStatus enumerates approval resolution states.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Board is a work surface owned by one organization.
type Board struct {
	ID             string     `json:"id" db:"id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	GatewayID      *string    `json:"gateway_id" db:"gateway_id"`
	Name           string     `json:"name" db:"name"`
	Objective      string     `json:"objective" db:"objective"`
	TargetDate     *time.Time `json:"target_date" db:"target_date"`
	GoalConfirmed  bool       `json:"goal_confirmed" db:"goal_confirmed"`
	Onboarding     db.JSONMap `json:"onboarding" db:"onboarding"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Task is a board-scoped work item.
type Task struct {
	ID              string       `json:"id" db:"id"`
	BoardID         string       `json:"board_id" db:"board_id"`
	Title           string       `json:"title" db:"title"`
	Description     string       `json:"description" db:"description"`
	Status          TaskStatus   `json:"status" db:"status"`
	Priority        TaskPriority `json:"priority" db:"priority"`
	AssignedAgentID *string      `json:"assigned_agent_id" db:"assigned_agent_id"`
	InProgressAt    *time.Time   `json:"in_progress_at" db:"in_progress_at"`
	ReviewAt        *time.Time   `json:"review_at" db:"review_at"`
	DoneAt          *time.Time   `json:"done_at" db:"done_at"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// TaskDependency is an edge: task_id is blocked until depends_on is done.
type TaskDependency struct {
	TaskID          string    `json:"task_id" db:"task_id"`
	DependsOnTaskID string    `json:"depends_on_task_id" db:"depends_on_task_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// BoardMemory is a per-board note; is_chat separates the chat transcript
// from structured memory.
type BoardMemory struct {
	ID        string        `json:"id" db:"id"`
	BoardID   string        `json:"board_id" db:"board_id"`
	Content   string        `json:"content" db:"content"`
	IsChat    bool          `json:"is_chat" db:"is_chat"`
	Source    string        `json:"source" db:"source"`
	Tags      db.StringList `json:"tags" db:"tags"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// Approval is a per-board (optionally per-task) request awaiting a human.
type Approval struct {
	ID                 string         `json:"id" db:"id"`
	BoardID            string         `json:"board_id" db:"board_id"`
	TaskID             *string        `json:"task_id" db:"task_id"`
	Title              string         `json:"title" db:"title"`
	Detail             string         `json:"detail" db:"detail"`
	Status             ApprovalStatus `json:"status" db:"status"`
	RequestedByAgentID *string        `json:"requested_by_agent_id" db:"requested_by_agent_id"`
	ResolvedAt         *time.Time     `json:"resolved_at" db:"resolved_at"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
}
