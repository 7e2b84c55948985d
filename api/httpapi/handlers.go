package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/avolokh/taskmind/internal/observability"
	"github.com/avolokh/taskmind/internal/queue"
	"github.com/avolokh/taskmind/internal/schedule"
	"github.com/avolokh/taskmind/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type apiError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string, details string) {
	writeJSON(w, status, apiError{Error: msg, Details: details})
}

type statsResponse struct {
	Tasks      store.Stats `json:"tasks"`
	QueueDepth *int        `json:"queue_depth,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	resp := statsResponse{Tasks: *st}
	if s.queue != nil {
		if depth, err := s.queue.PendingDispatches(); err == nil {
			resp.QueueDepth = &depth
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type createTaskRequest struct {
	OwnerID        string          `json:"owner_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Type           string          `json:"task_type"`
	ScheduleType   string          `json:"schedule_type"`
	ScheduleConfig schedule.Config `json:"schedule_config,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	AIContext      string          `json:"ai_context,omitempty"`
	Channels       []string        `json:"notification_channels,omitempty"`
}

type createTaskResponse struct {
	Task store.Task `json:"task"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	p := store.CreateTaskParams{
		OwnerID:        req.OwnerID,
		Title:          req.Title,
		Description:    req.Description,
		Type:           store.TaskType(req.Type),
		ScheduleType:   schedule.Type(req.ScheduleType),
		ScheduleConfig: req.ScheduleConfig,
		AIContext:      req.AIContext,
		Channels:       req.Channels,
	}
	if req.NextRunAt != nil {
		p.NextRunAt = *req.NextRunAt
	}

	task, err := s.store.CreateTask(r.Context(), p)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			writeErr(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createTaskResponse{Task: *task})
}

type getTaskResponse struct {
	Task store.Task `json:"task"`
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "validation_error", "invalid task id")
		return
	}

	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, getTaskResponse{Task: *task})
}

type updateTaskRequest struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	AIContext   *string    `json:"ai_context,omitempty"`
	Channels    []string   `json:"notification_channels,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "validation_error", "invalid task id")
		return
	}

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	task, err := s.store.UpdateTask(r.Context(), id, store.UpdateTaskParams{
		Title:       req.Title,
		Description: req.Description,
		AIContext:   req.AIContext,
		Channels:    req.Channels,
		NextRunAt:   req.NextRunAt,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, getTaskResponse{Task: *task})
}

// handleDeleteTask removes a task. Deleting a pending task is immediate; a
// running one keeps running but its eventual write-back lands on a missing row
// and is discarded.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "validation_error", "invalid task id")
		return
	}

	deleted, err := s.store.DeleteTask(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if !deleted {
		writeErr(w, http.StatusNotFound, "not_found", "task not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type listTasksResponse struct {
	Items  []store.Task `json:"items"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	qp := r.URL.Query()

	var ownerID *string
	if v := qp.Get("owner_id"); v != "" {
		ownerID = &v
	}

	var status *store.TaskStatus
	if v := qp.Get("status"); v != "" {
		sv := store.TaskStatus(v)
		switch sv {
		case store.StatusPending, store.StatusClaimed, store.StatusRunning, store.StatusCompleted, store.StatusFailed:
			status = &sv
		default:
			writeErr(w, http.StatusBadRequest, "validation_error", "invalid status")
			return
		}
	}

	var taskType *store.TaskType
	if v := qp.Get("type"); v != "" {
		tv := store.TaskType(v)
		switch tv {
		case store.TypeReminder, store.TypeAutomated, store.TypePeriodic:
			taskType = &tv
		default:
			writeErr(w, http.StatusBadRequest, "validation_error", "invalid type")
			return
		}
	}

	limit := 50
	if v := qp.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			writeErr(w, http.StatusBadRequest, "validation_error", "limit must be 1..200")
			return
		}
		limit = n
	}

	offset := 0
	if v := qp.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErr(w, http.StatusBadRequest, "validation_error", "offset must be >= 0")
			return
		}
		offset = n
	}

	items, err := s.store.ListTasks(r.Context(), store.ListTasksParams{
		OwnerID: ownerID,
		Status:  status,
		Type:    taskType,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, listTasksResponse{
		Items:  items,
		Limit:  limit,
		Offset: offset,
	})
}

type listExecutionsResponse struct {
	Items []store.TaskExecution `json:"items"`
	Limit int                   `json:"limit"`
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	taskID, err := uuid.Parse(idStr)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "validation_error", "invalid task id")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			writeErr(w, http.StatusBadRequest, "validation_error", "limit must be 1..200")
			return
		}
		limit = n
	}

	items, err := s.store.ListExecutions(r.Context(), taskID, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, listExecutionsResponse{
		Items: items,
		Limit: limit,
	})
}

type ingestEventRequest struct {
	EventID     string    `json:"event_id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at,omitempty"`
	Recurrence  string    `json:"recurrence,omitempty"`
}

// handleIngestEvent accepts a calendar-style event and queues it for
// evaluation. The HTTP response confirms only that the event was enqueued; the
// decision itself lands in the event log asynchronously.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.OwnerID == "" || req.Title == "" {
		writeErr(w, http.StatusBadRequest, "validation_error", "owner_id and title are required")
		return
	}
	if req.StartsAt.IsZero() {
		writeErr(w, http.StatusBadRequest, "validation_error", "starts_at is required")
		return
	}
	if req.EventID == "" {
		req.EventID = uuid.NewString()
	}

	if s.queue == nil {
		writeErr(w, http.StatusServiceUnavailable, "unavailable", "event pipeline not connected")
		return
	}

	hdr := nats.Header{}
	otel.GetTextMapPropagator().Inject(r.Context(), observability.NATSHeaderCarrier{H: hdr})
	hdr.Set("event_id", req.EventID)

	err := s.queue.PublishEvent(r.Context(), queue.EventMessage{
		EventID:     req.EventID,
		OwnerID:     req.OwnerID,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Recurrence:  req.Recurrence,
	}, hdr)
	if err != nil {
		s.logger.Error("failed to enqueue event", zap.Error(err), zap.String("event_id", req.EventID))
		writeErr(w, http.StatusInternalServerError, "internal_error", "failed to enqueue event")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": req.EventID, "status": "queued"})
}

type ownerResponse struct {
	Owner store.Owner `json:"owner"`
}

func (s *Server) handleGetOwner(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	owner, err := s.store.GetOwner(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "not_found", "owner not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ownerResponse{Owner: *owner})
}

type upsertOwnerRequest struct {
	Name           string  `json:"name"`
	Timezone       string  `json:"timezone"`
	TelegramChatID *int64  `json:"telegram_chat_id,omitempty"`
	WebhookURL     *string `json:"webhook_url,omitempty"`
}

func (s *Server) handleUpsertOwner(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req upsertOwnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Name == "" {
		writeErr(w, http.StatusBadRequest, "validation_error", "name is required")
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}

	owner := store.Owner{
		ID:             id,
		Name:           req.Name,
		Timezone:       req.Timezone,
		TelegramChatID: req.TelegramChatID,
		WebhookURL:     req.WebhookURL,
	}
	if err := s.store.UpsertOwner(r.Context(), owner); err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ownerResponse{Owner: owner})
}
