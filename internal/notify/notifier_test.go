package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avolokh/taskmind/internal/store"
)

type memDedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newMemDedup() *memDedup { return &memDedup{seen: map[string]struct{}{}} }

func (m *memDedup) MarkDelivery(ctx context.Context, executionID uuid.UUID, channel string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := executionID.String() + "/" + channel
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}

type recordingSender struct {
	name string
	err  error

	mu    sync.Mutex
	sends []Message
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) Send(ctx context.Context, ownerID string, msg Message) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, msg)
	return nil
}

func fixtureTask(channels []string) *store.Task {
	return &store.Task{
		ID:       uuid.New(),
		OwnerID:  "owner-1",
		Title:    "water the plants",
		Channels: channels,
	}
}

func fixtureExec(status store.ExecutionStatus) *store.TaskExecution {
	return &store.TaskExecution{
		ID:     uuid.New(),
		Status: status,
	}
}

func TestNotify_AllConfiguredChannels(t *testing.T) {
	tg := &recordingSender{name: "telegram"}
	wh := &recordingSender{name: "webhook"}
	n := New(newMemDedup(), nil, zap.NewNop(), tg, wh)

	report := n.Notify(context.Background(), fixtureTask([]string{"telegram", "webhook"}), fixtureExec(store.ExecSuccess))

	if len(report.Channels) != 2 {
		t.Fatalf("expected 2 channel reports, got %d", len(report.Channels))
	}
	for _, cr := range report.Channels {
		if !cr.Delivered {
			t.Fatalf("channel %s not delivered: %s", cr.Channel, cr.Error)
		}
	}
	if len(tg.sends) != 1 || len(wh.sends) != 1 {
		t.Fatalf("expected one send per channel, got tg=%d wh=%d", len(tg.sends), len(wh.sends))
	}
}

func TestNotify_FailureDoesNotBlockOtherChannels(t *testing.T) {
	tg := &recordingSender{name: "telegram", err: errors.New("bot unreachable")}
	wh := &recordingSender{name: "webhook"}
	n := New(newMemDedup(), nil, zap.NewNop(), tg, wh)

	report := n.Notify(context.Background(), fixtureTask([]string{"telegram", "webhook"}), fixtureExec(store.ExecFailure))

	byChannel := map[string]ChannelReport{}
	for _, cr := range report.Channels {
		byChannel[cr.Channel] = cr
	}
	if byChannel["telegram"].Delivered {
		t.Fatal("telegram should have failed")
	}
	if byChannel["telegram"].Error == "" {
		t.Fatal("telegram failure should carry the error")
	}
	if !byChannel["webhook"].Delivered {
		t.Fatalf("webhook should still deliver: %s", byChannel["webhook"].Error)
	}
}

func TestNotify_DedupByExecutionID(t *testing.T) {
	tg := &recordingSender{name: "telegram"}
	dedup := newMemDedup()
	n := New(dedup, nil, zap.NewNop(), tg)

	task := fixtureTask([]string{"telegram"})
	exec := fixtureExec(store.ExecSuccess)

	first := n.Notify(context.Background(), task, exec)
	second := n.Notify(context.Background(), task, exec)

	if !first.Channels[0].Delivered {
		t.Fatal("first attempt should deliver")
	}
	if second.Channels[0].Delivered || !second.Channels[0].Deduped {
		t.Fatalf("second attempt should dedup, got %+v", second.Channels[0])
	}
	if len(tg.sends) != 1 {
		t.Fatalf("expected exactly one externally visible message, got %d", len(tg.sends))
	}
}

func TestNotify_FailedSendStaysSuppressedForSameExecution(t *testing.T) {
	tg := &recordingSender{name: "telegram", err: errors.New("bot unreachable")}
	dedup := newMemDedup()
	n := New(dedup, nil, zap.NewNop(), tg)

	task := fixtureTask([]string{"telegram"})
	exec := fixtureExec(store.ExecSuccess)

	first := n.Notify(context.Background(), task, exec)
	if first.Channels[0].Delivered || first.Channels[0].Error == "" {
		t.Fatalf("first attempt should fail with an error, got %+v", first.Channels[0])
	}

	// The dedup mark lands before the send, so re-notifying the same
	// execution is suppressed even though nothing reached the owner.
	second := n.Notify(context.Background(), task, exec)
	if !second.Channels[0].Deduped {
		t.Fatalf("same execution should be deduped, got %+v", second.Channels[0])
	}

	// Redelivery rides on a fresh execution record instead.
	tg.err = nil
	retry := n.Notify(context.Background(), task, fixtureExec(store.ExecSuccess))
	if !retry.Channels[0].Delivered {
		t.Fatalf("new execution should deliver, got %+v", retry.Channels[0])
	}
	if len(tg.sends) != 1 {
		t.Fatalf("expected exactly one externally visible message, got %d", len(tg.sends))
	}
}

func TestNotify_FallbackChannels(t *testing.T) {
	wh := &recordingSender{name: "webhook"}
	n := New(newMemDedup(), []string{"webhook"}, zap.NewNop(), wh)

	report := n.Notify(context.Background(), fixtureTask(nil), fixtureExec(store.ExecSuccess))

	if len(report.Channels) != 1 || !report.Channels[0].Delivered {
		t.Fatalf("expected fallback webhook delivery, got %+v", report.Channels)
	}
}

func TestFormat_FailureIncludesError(t *testing.T) {
	task := fixtureTask(nil)
	exec := fixtureExec(store.ExecFailure)

	errText := "reasoning: timed out after 30s"
	exec.Error = &errText
	msg := Format(task, exec)

	if !strings.Contains(msg.Body, errText) {
		t.Fatalf("failure body should include the error, got %q", msg.Body)
	}
}
