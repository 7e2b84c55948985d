// Package notify fans an execution outcome out across the task's configured
// channels. Channels are independent: one failing sender never blocks the
// next, and no notification outcome ever feeds back into task status.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/avolokh/taskmind/internal/store"
)

type Message struct {
	Subject string
	Body    string
}

// Sender delivers a message to one owner over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, ownerID string, msg Message) error
}

// DedupStore records delivery attempts keyed by (execution_id, channel).
type DedupStore interface {
	MarkDelivery(ctx context.Context, executionID uuid.UUID, channel string) (bool, error)
}

type ChannelReport struct {
	Channel   string `json:"channel"`
	Delivered bool   `json:"delivered"`
	Deduped   bool   `json:"deduped,omitempty"`
	Error     string `json:"error,omitempty"`
}

type DeliveryReport struct {
	ExecutionID uuid.UUID       `json:"execution_id"`
	Channels    []ChannelReport `json:"channels"`
}

type Notifier struct {
	senders  map[string]Sender
	dedup    DedupStore
	fallback []string // channel order used when a task configures none
	logger   *zap.Logger
}

func New(dedup DedupStore, fallback []string, logger *zap.Logger, senders ...Sender) *Notifier {
	m := make(map[string]Sender, len(senders))
	for _, s := range senders {
		m[s.Name()] = s
	}
	return &Notifier{senders: m, dedup: dedup, fallback: fallback, logger: logger}
}

// Notify attempts delivery on every requested channel, deduplicating by
// execution id so a retried execution cannot produce a second user-visible
// message for the same logical outcome.
func (n *Notifier) Notify(ctx context.Context, task *store.Task, exec *store.TaskExecution) DeliveryReport {
	channels := task.Channels
	if len(channels) == 0 {
		channels = n.fallback
	}

	report := DeliveryReport{
		ExecutionID: exec.ID,
		Channels:    make([]ChannelReport, len(channels)),
	}
	msg := Format(task, exec)

	g := new(errgroup.Group)
	for i, name := range channels {
		g.Go(func() error {
			report.Channels[i] = n.deliver(ctx, name, task, exec, msg)
			return nil
		})
	}
	_ = g.Wait()

	for _, cr := range report.Channels {
		if cr.Error != "" {
			n.logger.Warn("notification delivery failed",
				zap.String("task_id", task.ID.String()),
				zap.String("execution_id", exec.ID.String()),
				zap.String("channel", cr.Channel),
				zap.String("error", cr.Error),
			)
		}
	}
	return report
}

func (n *Notifier) deliver(ctx context.Context, channel string, task *store.Task, exec *store.TaskExecution, msg Message) ChannelReport {
	cr := ChannelReport{Channel: channel}

	sender, ok := n.senders[channel]
	if !ok {
		cr.Error = fmt.Sprintf("no sender for channel %q", channel)
		return cr
	}

	// The mark lands before Send, so two workers racing the same execution
	// can never both message the owner. The flip side is that a send failing
	// after the mark stays suppressed for this execution id; redelivery
	// happens through the retry path, which opens a new execution record
	// and with it a fresh dedup key.
	first, err := n.dedup.MarkDelivery(ctx, exec.ID, channel)
	if err != nil {
		cr.Error = "dedup check failed: " + err.Error()
		return cr
	}
	if !first {
		cr.Deduped = true
		return cr
	}

	if err := sender.Send(ctx, task.OwnerID, msg); err != nil {
		cr.Error = err.Error()
		return cr
	}
	cr.Delivered = true
	return cr
}

// Format renders a channel-agnostic message from the execution outcome.
func Format(task *store.Task, exec *store.TaskExecution) Message {
	switch exec.Status {
	case store.ExecSuccess:
		return Message{
			Subject: fmt.Sprintf("✅ %s", task.Title),
			Body:    fmt.Sprintf("Task %q completed.", task.Title),
		}
	case store.ExecPartial:
		return Message{
			Subject: fmt.Sprintf("⚠️ %s", task.Title),
			Body:    fmt.Sprintf("Task %q completed with some failed actions.", task.Title),
		}
	default:
		body := fmt.Sprintf("Task %q failed.", task.Title)
		if exec.Error != nil && *exec.Error != "" {
			body = fmt.Sprintf("Task %q failed: %s", task.Title, *exec.Error)
		}
		return Message{
			Subject: fmt.Sprintf("❌ %s", task.Title),
			Body:    body,
		}
	}
}
