package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/avolokh/taskmind/internal/queue"
	"github.com/avolokh/taskmind/internal/store"
)

type fakeScanStore struct {
	mu       sync.Mutex
	due      []store.Task
	claimErr map[uuid.UUID]error
	claimed  []uuid.UUID
	stale    []store.Task
}

func (f *fakeScanStore) DueTasks(ctx context.Context, now time.Time, ownerID *string) ([]store.Task, error) {
	return f.due, nil
}

func (f *fakeScanStore) ClaimTask(ctx context.Context, id uuid.UUID) (*store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.claimErr[id]; ok {
		return nil, err
	}
	f.claimed = append(f.claimed, id)
	for i := range f.due {
		if f.due[i].ID == id {
			t := f.due[i]
			t.Status = store.StatusClaimed
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeScanStore) ReclaimStale(ctx context.Context, olderThan time.Duration) ([]store.Task, error) {
	return f.stale, nil
}

type fakeDispatcher struct {
	mu        sync.Mutex
	published []queue.TaskMessage
	err       error
}

func (f *fakeDispatcher) PublishDispatch(ctx context.Context, msg queue.TaskMessage, hdr nats.Header) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func dueTask(retries int) store.Task {
	return store.Task{
		ID:        uuid.New(),
		OwnerID:   "owner-1",
		Title:     "due soon",
		Status:    store.StatusPending,
		NextRunAt: time.Now().Add(-time.Second),
		Retries:   retries,
	}
}

func TestScanOnce_ClaimsAndDispatchesDueTasks(t *testing.T) {
	t1, t2 := dueTask(0), dueTask(2)
	fs := &fakeScanStore{due: []store.Task{t1, t2}}
	fd := &fakeDispatcher{}
	sc := NewScanner(fs, fd, zap.NewNop(), ScannerConfig{})

	n, err := sc.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 dispatched, got %d", n)
	}
	if len(fd.published) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(fd.published))
	}

	// Attempt carries the retry counter so the executor and the message agree.
	for _, msg := range fd.published {
		if msg.TaskID == t2.ID.String() && msg.Attempt != 3 {
			t.Fatalf("expected attempt 3 for retried task, got %d", msg.Attempt)
		}
	}

	snap := sc.Snapshot()
	if snap.State != StateIdle {
		t.Fatalf("expected idle after cycle, got %s", snap.State)
	}
	if snap.LastScanAt == nil || snap.LastDispatched != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestScanOnce_LostClaimSkippedSilently(t *testing.T) {
	won, lost := dueTask(0), dueTask(0)
	fs := &fakeScanStore{
		due:      []store.Task{won, lost},
		claimErr: map[uuid.UUID]error{lost.ID: store.ErrClaimConflict},
	}
	fd := &fakeDispatcher{}

	n, err := NewScanner(fs, fd, zap.NewNop(), ScannerConfig{}).ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 dispatched, got %d", n)
	}
	if len(fd.published) != 1 || fd.published[0].TaskID != won.ID.String() {
		t.Fatalf("expected only the won claim published, got %+v", fd.published)
	}
}

func TestScanOnce_PublishFailureLeavesTaskClaimed(t *testing.T) {
	task := dueTask(0)
	fs := &fakeScanStore{due: []store.Task{task}}
	fd := &fakeDispatcher{err: errors.New("nats down")}

	n, err := NewScanner(fs, fd, zap.NewNop(), ScannerConfig{}).ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 dispatched, got %d", n)
	}
	// The claim went through; recovery is the stale-reclaim pass's job.
	if len(fs.claimed) != 1 {
		t.Fatalf("expected task claimed despite publish failure, got %v", fs.claimed)
	}
}

func TestReclaimOnce_RecoversStaleTasks(t *testing.T) {
	stale := dueTask(1)
	stale.Status = store.StatusPending
	fs := &fakeScanStore{stale: []store.Task{stale}}

	sc := NewScanner(fs, &fakeDispatcher{}, zap.NewNop(), ScannerConfig{})
	if err := sc.reclaimOnce(context.Background()); err != nil {
		t.Fatalf("reclaimOnce: %v", err)
	}
}

type fakeExecutor struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (f *fakeExecutor) Execute(ctx context.Context, taskID uuid.UUID) (*store.TaskExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, taskID)
	return nil, f.err
}

func TestPoolHandle_InvokesExecutor(t *testing.T) {
	fe := &fakeExecutor{}
	p := NewPool(nil, fe, zap.NewNop(), PoolConfig{})

	id := uuid.New()
	data, _ := json.Marshal(queue.TaskMessage{TaskID: id.String(), OwnerID: "owner-1", Attempt: 1})
	msg := &nats.Msg{Subject: queue.SubjectDispatch, Data: data}

	if err := p.handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(fe.ids) != 1 || fe.ids[0] != id {
		t.Fatalf("expected executor invoked with %s, got %v", id, fe.ids)
	}
}

func TestPoolHandle_DropsUnparseablePayload(t *testing.T) {
	fe := &fakeExecutor{}
	p := NewPool(nil, fe, zap.NewNop(), PoolConfig{})

	msg := &nats.Msg{Subject: queue.SubjectDispatch, Data: []byte("not json")}
	if err := p.handle(context.Background(), msg); err != nil {
		t.Fatalf("expected bad payload dropped without error, got %v", err)
	}
	if len(fe.ids) != 0 {
		t.Fatal("executor must not run for a bad payload")
	}
}

func TestPoolHandle_ExecutorErrorPropagates(t *testing.T) {
	fe := &fakeExecutor{err: errors.New("db unavailable")}
	p := NewPool(nil, fe, zap.NewNop(), PoolConfig{})

	data, _ := json.Marshal(queue.TaskMessage{TaskID: uuid.NewString(), Attempt: 1})
	msg := &nats.Msg{Subject: queue.SubjectDispatch, Data: data}

	if err := p.handle(context.Background(), msg); err == nil {
		t.Fatal("expected error to propagate for redelivery")
	}
}

type fakeEventHandler struct {
	events []queue.EventMessage
	err    error
}

func (f *fakeEventHandler) Evaluate(ctx context.Context, ev queue.EventMessage) (*store.EvaluationRecord, error) {
	f.events = append(f.events, ev)
	if f.err != nil {
		return nil, f.err
	}
	return &store.EvaluationRecord{EventID: ev.EventID}, nil
}

func TestEventConsumerHandle_EvaluatesEvent(t *testing.T) {
	fh := &fakeEventHandler{}
	c := NewEventConsumer(nil, fh, zap.NewNop(), 0)

	data, _ := json.Marshal(queue.EventMessage{
		EventID:  "evt-9",
		OwnerID:  "owner-1",
		Title:    "Dentist",
		StartsAt: time.Now().Add(24 * time.Hour),
	})
	msg := &nats.Msg{Subject: queue.SubjectEvents, Data: data}

	if err := c.handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(fh.events) != 1 || fh.events[0].EventID != "evt-9" {
		t.Fatalf("expected event evaluated, got %+v", fh.events)
	}
}

func TestEventConsumerHandle_BadPayloadDropped(t *testing.T) {
	fh := &fakeEventHandler{}
	c := NewEventConsumer(nil, fh, zap.NewNop(), 0)

	msg := &nats.Msg{Subject: queue.SubjectEvents, Data: []byte("{broken")}
	if err := c.handle(context.Background(), msg); err != nil {
		t.Fatalf("expected bad payload dropped, got %v", err)
	}
	if len(fh.events) != 0 {
		t.Fatal("evaluator must not run for a bad payload")
	}
}
