package evaluator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avolokh/taskmind/internal/queue"
	"github.com/avolokh/taskmind/internal/reasoning"
	"github.com/avolokh/taskmind/internal/schedule"
	"github.com/avolokh/taskmind/internal/store"
)

type fakeEvalStore struct {
	prior     []time.Time
	recent    []store.Task
	created   []store.CreateTaskParams
	recorded  []store.RecordEvaluationParams
	createErr error
}

func (f *fakeEvalStore) GetOwner(ctx context.Context, id string) (*store.Owner, error) {
	return &store.Owner{ID: id, Name: "Tester", Timezone: "Europe/Berlin"}, nil
}

func (f *fakeEvalStore) PriorOccurrences(ctx context.Context, ownerID, title string, limit int) ([]time.Time, error) {
	return f.prior, nil
}

func (f *fakeEvalStore) RecentCompletedTasks(ctx context.Context, ownerID string, limit int) ([]store.Task, error) {
	return f.recent, nil
}

func (f *fakeEvalStore) RecordEvaluation(ctx context.Context, p store.RecordEvaluationParams) (*store.EvaluationRecord, error) {
	f.recorded = append(f.recorded, p)
	return &store.EvaluationRecord{
		ID:            uuid.New(),
		EventID:       p.EventID,
		OwnerID:       p.OwnerID,
		Title:         p.Title,
		ShouldProcess: p.ShouldProcess,
		Reason:        p.Reason,
		Confidence:    p.Confidence,
		CreatedTaskID: p.CreatedTaskID,
		EvaluatedAt:   time.Now(),
	}, nil
}

func (f *fakeEvalStore) CreateTask(ctx context.Context, p store.CreateTaskParams) (*store.Task, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, p)
	return &store.Task{
		ID:           uuid.New(),
		OwnerID:      p.OwnerID,
		Title:        p.Title,
		Type:         p.Type,
		ScheduleType: p.ScheduleType,
		Status:       store.StatusPending,
		NextRunAt:    p.NextRunAt,
	}, nil
}

type textGateway struct {
	text string
	err  error
}

func (g *textGateway) Generate(ctx context.Context, req reasoning.Request) (*reasoning.Response, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &reasoning.Response{Text: g.text}, nil
}

func sampleEvent() queue.EventMessage {
	return queue.EventMessage{
		EventID:  "evt-1",
		OwnerID:  "owner-1",
		Title:    "Quarterly tax filing",
		StartsAt: time.Now().Add(48 * time.Hour),
	}
}

func TestEvaluate_ConfidentDecisionCreatesTask(t *testing.T) {
	fs := &fakeEvalStore{}
	gw := &textGateway{text: `{"should_process": true, "reason": "deadline needs preparation", "confidence": 0.92, "suggested_actions": ["gather receipts"]}`}
	ev := New(fs, gw, zap.NewNop(), Config{})

	rec, err := ev.Evaluate(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !rec.ShouldProcess {
		t.Fatal("expected a positive decision")
	}
	if rec.CreatedTaskID == nil {
		t.Fatal("expected a created task id on the audit record")
	}
	if len(fs.created) != 1 {
		t.Fatalf("expected 1 created task, got %d", len(fs.created))
	}

	task := fs.created[0]
	if task.Type != store.TypeAutomated {
		t.Fatalf("expected automated_task, got %s", task.Type)
	}
	if task.ScheduleType != schedule.TypeOnce {
		t.Fatalf("expected once schedule, got %s", task.ScheduleType)
	}
	if !strings.Contains(task.Description, "gather receipts") {
		t.Fatalf("expected suggested action in description, got %q", task.Description)
	}
	if !task.NextRunAt.Before(sampleEvent().StartsAt) {
		t.Fatal("expected the task due before the event starts")
	}
}

func TestEvaluate_BelowThresholdCreatesNothing(t *testing.T) {
	fs := &fakeEvalStore{}
	gw := &textGateway{text: `{"should_process": true, "reason": "maybe", "confidence": 0.4}`}
	ev := New(fs, gw, zap.NewNop(), Config{ConfidenceThreshold: 0.7})

	rec, err := ev.Evaluate(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(fs.created) != 0 {
		t.Fatalf("expected no task, got %d", len(fs.created))
	}
	// The decision itself is still audited as positive.
	if !rec.ShouldProcess || rec.CreatedTaskID != nil {
		t.Fatalf("unexpected audit record: %+v", rec)
	}
}

func TestEvaluate_NegativeDecisionAudited(t *testing.T) {
	fs := &fakeEvalStore{}
	gw := &textGateway{text: `{"should_process": false, "reason": "informational only", "confidence": 0.95}`}

	rec, err := New(fs, gw, zap.NewNop(), Config{}).Evaluate(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if rec.ShouldProcess || len(fs.created) != 0 {
		t.Fatalf("expected audited skip, got record %+v with %d tasks", rec, len(fs.created))
	}
	if rec.Reason != "informational only" {
		t.Fatalf("expected model reason preserved, got %q", rec.Reason)
	}
}

func TestEvaluate_UnparseableOutputRecordedAsSkip(t *testing.T) {
	fs := &fakeEvalStore{}
	gw := &textGateway{text: "I think you should probably prepare for this one."}

	rec, err := New(fs, gw, zap.NewNop(), Config{}).Evaluate(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if rec.ShouldProcess {
		t.Fatal("unparseable output must not process the event")
	}
	if len(fs.created) != 0 {
		t.Fatal("unparseable output must not create tasks")
	}
	if !strings.Contains(rec.Reason, "not parseable") {
		t.Fatalf("expected parse failure reason, got %q", rec.Reason)
	}
}

func TestEvaluate_FencedJSONAccepted(t *testing.T) {
	fs := &fakeEvalStore{}
	gw := &textGateway{text: "Here is my verdict:\n```json\n{\"should_process\": true, \"reason\": \"prep needed\", \"confidence\": 0.8}\n```"}

	rec, err := New(fs, gw, zap.NewNop(), Config{}).Evaluate(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !rec.ShouldProcess || rec.CreatedTaskID == nil {
		t.Fatalf("expected fenced decision to create a task, got %+v", rec)
	}
}

func TestEvaluate_DeclaredRecurrenceMakesRecurringTask(t *testing.T) {
	fs := &fakeEvalStore{}
	gw := &textGateway{text: `{"should_process": true, "reason": "weekly sync prep", "confidence": 0.9}`}

	event := sampleEvent()
	event.Recurrence = "weekly"

	if _, err := New(fs, gw, zap.NewNop(), Config{}).Evaluate(context.Background(), event); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(fs.created) != 1 {
		t.Fatalf("expected 1 task, got %d", len(fs.created))
	}
	task := fs.created[0]
	if task.ScheduleType != schedule.TypeWeekly {
		t.Fatalf("expected weekly schedule, got %s", task.ScheduleType)
	}
	if task.ScheduleConfig.Weekday == nil || *task.ScheduleConfig.Weekday != int(event.StartsAt.Weekday()) {
		t.Fatalf("expected weekday aligned to event start, got %+v", task.ScheduleConfig)
	}
}

func TestEvaluate_InferredRecurrenceFromHistory(t *testing.T) {
	base := time.Now().Add(-21 * 24 * time.Hour)
	fs := &fakeEvalStore{prior: []time.Time{
		base,
		base.Add(7 * 24 * time.Hour),
		base.Add(14 * 24 * time.Hour).Add(3 * time.Hour), // drifted, still weekly
	}}
	gw := &textGateway{text: `{"should_process": true, "reason": "recurs weekly", "confidence": 0.85}`}

	if _, err := New(fs, gw, zap.NewNop(), Config{}).Evaluate(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(fs.created) != 1 {
		t.Fatalf("expected 1 task, got %d", len(fs.created))
	}
	if got := fs.created[0].ScheduleType; got != schedule.TypeWeekly {
		t.Fatalf("expected inferred weekly schedule, got %s", got)
	}
}

func TestClassifyRecurrence(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		gaps []time.Duration
		want schedule.Type
		ok   bool
	}{
		{"daily", []time.Duration{24 * time.Hour, 25 * time.Hour, 23 * time.Hour}, schedule.TypeDaily, true},
		{"weekly", []time.Duration{7 * 24 * time.Hour, 8 * 24 * time.Hour}, schedule.TypeWeekly, true},
		{"monthly", []time.Duration{30 * 24 * time.Hour, 31 * 24 * time.Hour}, schedule.TypeMonthly, true},
		{"irregular", []time.Duration{24 * time.Hour, 90 * 24 * time.Hour}, "", false},
		{"single", nil, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			times := []time.Time{base}
			cur := base
			for _, g := range tc.gaps {
				cur = cur.Add(g)
				times = append(times, cur)
			}
			if tc.name == "single" {
				times = times[:1]
			}

			got, ok := classifyRecurrence(times)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("got (%q, %v), want (%q, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}
