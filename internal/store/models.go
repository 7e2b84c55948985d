package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/avolokh/taskmind/internal/schedule"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusClaimed   TaskStatus = "claimed"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

type TaskType string

const (
	TypeReminder  TaskType = "reminder"
	TypeAutomated TaskType = "automated_task"
	TypePeriodic  TaskType = "periodic_task"
)

// Task is the unit of deferred work. A pending task always carries a
// NextRunAt; recurring tasks return to pending with a fresh NextRunAt after
// each completion, reusing the same row. Generation counts completed
// occurrences of that row, so each occurrence opens a fresh attempt space in
// the execution log.
type Task struct {
	ID             uuid.UUID       `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Type           TaskType        `json:"task_type"`
	ScheduleType   schedule.Type   `json:"schedule_type"`
	ScheduleConfig schedule.Config `json:"schedule_config"`
	NextRunAt      time.Time       `json:"next_run_at"`
	AIContext      string          `json:"ai_context,omitempty"`
	Channels       []string        `json:"notification_channels"`
	Status         TaskStatus      `json:"status"`
	Generation     int             `json:"generation"`
	Retries        int             `json:"retries"`
	LastError      *string         `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (t *Task) Recurring() bool {
	return schedule.Recurring(t.ScheduleType)
}

type ExecutionStatus string

const (
	ExecStarted ExecutionStatus = "started"
	ExecSuccess ExecutionStatus = "success"
	ExecFailure ExecutionStatus = "failure"
	ExecPartial ExecutionStatus = "partial"
)

// TaskExecution is one execution attempt. Its ID doubles as the notification
// dedup key. Immutable once finished.
type TaskExecution struct {
	ID         uuid.UUID       `json:"execution_id"`
	TaskID     uuid.UUID       `json:"task_id"`
	Generation int             `json:"generation"`
	Attempt    int             `json:"attempt"`
	Status     ExecutionStatus `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	AIResponse *string         `json:"ai_response,omitempty"`
	Error      *string         `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	DurationMS *int64          `json:"duration_ms,omitempty"`
}

// Owner is the profile data fed into execution context and channel routing.
type Owner struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Timezone       string `json:"timezone"`
	TelegramChatID *int64  `json:"telegram_chat_id,omitempty"`
	WebhookURL     *string `json:"webhook_url,omitempty"`
}

// EvaluationRecord is one audited Event Evaluator invocation.
type EvaluationRecord struct {
	ID               uuid.UUID       `json:"id"`
	EventID          string          `json:"event_id"`
	OwnerID          string          `json:"owner_id"`
	Title            string          `json:"title"`
	ShouldProcess    bool            `json:"should_process"`
	Reason           string          `json:"reason"`
	Confidence       float64         `json:"confidence"`
	SuggestedActions json.RawMessage `json:"suggested_actions,omitempty"`
	Context          json.RawMessage `json:"context,omitempty"`
	CreatedTaskID    *uuid.UUID      `json:"created_task_id,omitempty"`
	EvaluatedAt      time.Time       `json:"evaluated_at"`
}

// Stats is the operational snapshot exposed for monitoring.
type Stats struct {
	ByStatus          map[TaskStatus]int64      `json:"by_status"`
	Due               int64                     `json:"due"`
	AvgExecutionMS    float64                   `json:"avg_execution_ms"`
	ExecutionsByState map[ExecutionStatus]int64 `json:"executions_by_status"`
}
