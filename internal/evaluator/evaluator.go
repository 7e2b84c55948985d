// Package evaluator decides whether an incoming calendar event warrants a
// scheduled task. Every decision is audited, including the ones that create
// nothing.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/avolokh/taskmind/internal/observability"
	"github.com/avolokh/taskmind/internal/queue"
	"github.com/avolokh/taskmind/internal/reasoning"
	"github.com/avolokh/taskmind/internal/schedule"
	"github.com/avolokh/taskmind/internal/store"
)

// Store is the slice of the persistence layer the evaluator reads context
// from and records decisions through.
type Store interface {
	GetOwner(ctx context.Context, id string) (*store.Owner, error)
	PriorOccurrences(ctx context.Context, ownerID, title string, limit int) ([]time.Time, error)
	RecentCompletedTasks(ctx context.Context, ownerID string, limit int) ([]store.Task, error)
	RecordEvaluation(ctx context.Context, p store.RecordEvaluationParams) (*store.EvaluationRecord, error)
	CreateTask(ctx context.Context, p store.CreateTaskParams) (*store.Task, error)
}

// Decision is the structured verdict extracted from the model's reply.
type Decision struct {
	ShouldProcess    bool            `json:"should_process"`
	Reason           string          `json:"reason"`
	Confidence       float64         `json:"confidence"`
	SuggestedActions json.RawMessage `json:"suggested_actions,omitempty"`
}

type Config struct {
	// ConfidenceThreshold gates task creation. A positive decision below the
	// threshold is audited but creates nothing.
	ConfidenceThreshold float64
	// ReminderLead is how far before a one-off event its task comes due.
	ReminderLead time.Duration
}

func (c *Config) defaults() {
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.ReminderLead <= 0 {
		c.ReminderLead = 30 * time.Minute
	}
}

type Evaluator struct {
	store   Store
	gateway reasoning.Gateway
	logger  *zap.Logger
	cfg     Config
}

func New(st Store, gw reasoning.Gateway, logger *zap.Logger, cfg Config) *Evaluator {
	cfg.defaults()
	return &Evaluator{store: st, gateway: gw, logger: logger, cfg: cfg}
}

const systemPrompt = `You judge whether a calendar event needs an automated follow-up task.
Reply with a single JSON object:
{"should_process": bool, "reason": string, "confidence": number 0..1, "suggested_actions": [string]}
Process events that imply preparation, a reminder, or recurring work for the owner.
Skip events that are informational only.`

// Evaluate runs one event through the decision pipeline and returns the audit
// record. Unparseable model output is recorded as a negative decision rather
// than surfaced as an error; the event is consumed either way.
func (e *Evaluator) Evaluate(ctx context.Context, ev queue.EventMessage) (*store.EvaluationRecord, error) {
	tr := otel.Tracer("taskmind/evaluator")
	ctx, span := tr.Start(ctx, "taskmind.evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", ev.EventID),
		attribute.String("event.owner_id", ev.OwnerID),
	)

	evalCtx, inferred := e.buildContext(ctx, ev)
	ctxRaw, _ := json.Marshal(evalCtx)

	resp, err := e.gateway.Generate(ctx, reasoning.Request{
		System:  systemPrompt,
		Prompt:  eventPrompt(ev),
		Context: evalCtx,
	})
	if err != nil {
		observability.EvaluationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("evaluate event %s: %w", ev.EventID, err)
	}

	decision, ok := parseDecision(resp.Text)
	if !ok {
		e.logger.Warn("unparseable evaluation output",
			zap.String("event_id", ev.EventID),
			zap.String("raw", resp.Text),
		)
		observability.EvaluationsTotal.WithLabelValues("unparseable").Inc()
		return e.store.RecordEvaluation(ctx, store.RecordEvaluationParams{
			EventID:       ev.EventID,
			OwnerID:       ev.OwnerID,
			Title:         ev.Title,
			ShouldProcess: false,
			Reason:        "model output not parseable as a decision",
			Context:       ctxRaw,
		})
	}

	var createdID *uuid.UUID
	outcome := "skipped"
	switch {
	case !decision.ShouldProcess:
	case decision.Confidence < e.cfg.ConfidenceThreshold:
		outcome = "below_threshold"
	default:
		task, err := e.createTask(ctx, ev, decision, inferred)
		if err != nil {
			e.logger.Error("create task from event failed",
				zap.Error(err),
				zap.String("event_id", ev.EventID),
			)
		} else {
			createdID = &task.ID
			outcome = "created"
		}
	}
	observability.EvaluationsTotal.WithLabelValues(outcome).Inc()

	rec, err := e.store.RecordEvaluation(ctx, store.RecordEvaluationParams{
		EventID:          ev.EventID,
		OwnerID:          ev.OwnerID,
		Title:            ev.Title,
		ShouldProcess:    decision.ShouldProcess,
		Reason:           decision.Reason,
		Confidence:       decision.Confidence,
		SuggestedActions: decision.SuggestedActions,
		Context:          ctxRaw,
		CreatedTaskID:    createdID,
	})
	if err != nil {
		return nil, fmt.Errorf("record evaluation for event %s: %w", ev.EventID, err)
	}

	e.logger.Info("event evaluated",
		zap.String("event_id", ev.EventID),
		zap.Bool("should_process", decision.ShouldProcess),
		zap.Float64("confidence", decision.Confidence),
		zap.String("outcome", outcome),
	)
	return rec, nil
}

// createTask turns a positive decision into a pending task. Recurring events
// become recurring tasks on the matching schedule; everything else becomes a
// one-off due shortly before the event starts.
func (e *Evaluator) createTask(ctx context.Context, ev queue.EventMessage, d Decision, inferred schedule.Type) (*store.Task, error) {
	p := store.CreateTaskParams{
		OwnerID:     ev.OwnerID,
		Title:       ev.Title,
		Description: taskDescription(ev, d),
		Type:        store.TypeAutomated,
		AIContext:   d.Reason,
	}

	schedType, recurring := declaredRecurrence(ev.Recurrence)
	if !recurring && inferred != "" {
		schedType, recurring = inferred, true
	}

	if recurring {
		p.ScheduleType = schedType
		switch schedType {
		case schedule.TypeWeekly:
			wd := int(ev.StartsAt.Weekday())
			p.ScheduleConfig = schedule.Config{Weekday: &wd}
		case schedule.TypeMonthly:
			day := ev.StartsAt.Day()
			if day > 28 {
				day = 28
			}
			p.ScheduleConfig = schedule.Config{DayOfMonth: day}
		}
		p.NextRunAt = ev.StartsAt.Add(-e.cfg.ReminderLead)
	} else {
		p.ScheduleType = schedule.TypeOnce
		p.NextRunAt = ev.StartsAt.Add(-e.cfg.ReminderLead)
	}
	if !p.NextRunAt.After(time.Now()) {
		p.NextRunAt = time.Now().Add(time.Minute)
	}

	return e.store.CreateTask(ctx, p)
}

// buildContext assembles what the model sees beyond the event itself: the
// owner's profile, prior occurrences of the same event, an inferred recurrence
// pattern, and the owner's recently completed tasks.
func (e *Evaluator) buildContext(ctx context.Context, ev queue.EventMessage) (map[string]any, schedule.Type) {
	out := map[string]any{}

	if owner, err := e.store.GetOwner(ctx, ev.OwnerID); err == nil {
		out["owner"] = map[string]any{
			"name":     owner.Name,
			"timezone": owner.Timezone,
		}
	}

	var inferred schedule.Type
	if prior, err := e.store.PriorOccurrences(ctx, ev.OwnerID, ev.Title, 10); err == nil && len(prior) > 0 {
		stamps := make([]string, 0, len(prior))
		for _, ts := range prior {
			stamps = append(stamps, ts.Format(time.RFC3339))
		}
		out["prior_occurrences"] = stamps

		if t, ok := classifyRecurrence(prior); ok {
			inferred = t
			out["inferred_recurrence"] = string(t)
		}
	}

	if recent, err := e.store.RecentCompletedTasks(ctx, ev.OwnerID, 5); err == nil && len(recent) > 0 {
		titles := make([]string, 0, len(recent))
		for _, t := range recent {
			titles = append(titles, t.Title)
		}
		out["recent_completed_tasks"] = titles
	}

	return out, inferred
}

func eventPrompt(ev queue.EventMessage) string {
	prompt := fmt.Sprintf("Event: %s\nStarts: %s", ev.Title, ev.StartsAt.Format(time.RFC3339))
	if ev.Description != "" {
		prompt += "\nDescription: " + ev.Description
	}
	if ev.Location != "" {
		prompt += "\nLocation: " + ev.Location
	}
	if ev.Recurrence != "" {
		prompt += "\nRecurrence: " + ev.Recurrence
	}
	return prompt
}

func taskDescription(ev queue.EventMessage, d Decision) string {
	desc := ev.Description
	if desc == "" {
		desc = ev.Title
	}
	if len(d.SuggestedActions) > 0 {
		var actions []string
		if err := json.Unmarshal(d.SuggestedActions, &actions); err == nil && len(actions) > 0 {
			desc += "\n\nSuggested:"
			for _, a := range actions {
				desc += "\n- " + a
			}
		}
	}
	return desc
}

// parseDecision extracts a Decision from free-form model text. The model is
// asked for bare JSON but routinely wraps it in fences or prose.
func parseDecision(text string) (Decision, bool) {
	doc, ok := reasoning.DecisionJSON(text)
	if !ok {
		return Decision{}, false
	}

	should := doc.Get("should_process")
	reason := doc.Get("reason")
	if !should.Exists() || !reason.Exists() {
		return Decision{}, false
	}

	d := Decision{
		ShouldProcess: should.Bool(),
		Reason:        reason.String(),
		Confidence:    doc.Get("confidence").Float(),
	}
	if actions := doc.Get("suggested_actions"); actions.IsArray() {
		d.SuggestedActions = json.RawMessage(actions.Raw)
	}
	return d, true
}
