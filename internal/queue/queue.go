// Package queue wraps the NATS JetStream stream that carries claimed task
// dispatches, incoming calendar events and dead-lettered tasks.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectDispatch   = "taskmind.dispatch"
	SubjectEvents     = "taskmind.events.calendar"
	SubjectDeadLetter = "taskmind.deadletter"
)

type Config struct {
	NATSURL      string
	StreamName   string
	ConsumerName string
	AckWait      time.Duration
	MaxDeliver   int
}

type Queue struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	cfg Config
}

// TaskMessage announces a claimed task to the worker pool.
type TaskMessage struct {
	TaskID  string `json:"task_id"`
	OwnerID string `json:"owner_id"`
	Attempt int    `json:"attempt"`
}

// EventMessage is a calendar-like event entering the evaluation pipeline.
type EventMessage struct {
	EventID     string    `json:"event_id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at,omitempty"`
	Recurrence  string    `json:"recurrence,omitempty"`
}

// DeadLetterMessage records a task that exhausted its retries.
type DeadLetterMessage struct {
	TaskID   string    `json:"task_id"`
	OwnerID  string    `json:"owner_id"`
	Title    string    `json:"title"`
	Attempt  int       `json:"attempt"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.AckWait == 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = 5
	}

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	q := &Queue{nc: nc, js: js, cfg: cfg}
	if err := q.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) Close() {
	if q.nc != nil {
		q.nc.Close()
	}
}

func (q *Queue) ensureStream(ctx context.Context) error {
	desired := []string{SubjectDispatch, SubjectEvents, SubjectDeadLetter}

	// If the stream exists: merge subjects and update only if needed.
	if info, err := q.js.StreamInfo(q.cfg.StreamName); err == nil && info != nil {
		merged, changed := mergeSubjects(info.Config.Subjects, desired)
		if !changed {
			return nil
		}

		sc := info.Config
		sc.Subjects = merged
		sc.Name = q.cfg.StreamName

		if _, err := q.js.UpdateStream(&sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		return nil
	}

	sc := &nats.StreamConfig{
		Name:      q.cfg.StreamName,
		Subjects:  desired,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	}
	if _, err := q.js.AddStream(sc); err != nil {
		return fmt.Errorf("add stream: %w", err)
	}
	return nil
}

func mergeSubjects(existing, desired []string) ([]string, bool) {
	set := make(map[string]struct{}, len(existing)+len(desired))
	out := make([]string, 0, len(existing)+len(desired))

	for _, s := range existing {
		if _, ok := set[s]; ok {
			continue
		}
		set[s] = struct{}{}
		out = append(out, s)
	}

	changed := false
	for _, s := range desired {
		if _, ok := set[s]; ok {
			continue
		}
		set[s] = struct{}{}
		out = append(out, s)
		changed = true
	}

	return out, changed
}

func (q *Queue) publish(subject string, v any, hdr nats.Header) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := &nats.Msg{Subject: subject, Data: b, Header: hdr}
	_, err = q.js.PublishMsg(msg)
	return err
}

func (q *Queue) PublishDispatch(ctx context.Context, msg TaskMessage, hdr nats.Header) error {
	return q.publish(SubjectDispatch, msg, hdr)
}

func (q *Queue) PublishEvent(ctx context.Context, msg EventMessage, hdr nats.Header) error {
	return q.publish(SubjectEvents, msg, hdr)
}

func (q *Queue) PublishDeadLetter(ctx context.Context, msg DeadLetterMessage, hdr nats.Header) error {
	return q.publish(SubjectDeadLetter, msg, hdr)
}

// PullSubscribe binds a durable pull consumer for one of the stream subjects.
func (q *Queue) PullSubscribe(subject, durable string) (*nats.Subscription, error) {
	return q.js.PullSubscribe(subject, durable,
		nats.BindStream(q.cfg.StreamName),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
}

// PendingDispatches reports the dispatch consumer backlog for monitoring.
func (q *Queue) PendingDispatches() (int, error) {
	info, err := q.js.ConsumerInfo(q.cfg.StreamName, q.cfg.ConsumerName)
	if err != nil {
		return 0, err
	}
	return int(info.NumPending), nil
}

func (q *Queue) JetStream() nats.JetStreamContext {
	return q.js
}
