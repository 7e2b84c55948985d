package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/avolokh/taskmind/internal/observability"
	"github.com/avolokh/taskmind/internal/queue"
	"github.com/avolokh/taskmind/internal/store"
)

// EventHandler evaluates one incoming event. The evaluator satisfies this.
type EventHandler interface {
	Evaluate(ctx context.Context, ev queue.EventMessage) (*store.EvaluationRecord, error)
}

// EventConsumer pulls calendar events off the stream and hands them to the
// evaluator one at a time. Evaluation involves a model round trip, so unlike
// the dispatch pool there is no fan-out; throughput here is not a concern.
type EventConsumer struct {
	sub         fetcher
	handler     EventHandler
	logger      *zap.Logger
	pollTimeout time.Duration
}

func NewEventConsumer(sub fetcher, h EventHandler, logger *zap.Logger, pollTimeout time.Duration) *EventConsumer {
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &EventConsumer{sub: sub, handler: h, logger: logger, pollTimeout: pollTimeout}
}

func (c *EventConsumer) Run(ctx context.Context) {
	c.logger.Info("event consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("event consumer stopped")
			return
		default:
		}

		msgs, err := c.sub.Fetch(1, nats.MaxWait(c.pollTimeout))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			c.logger.Warn("fetch error", zap.Error(err))
			continue
		}

		for _, m := range msgs {
			if err := c.handle(ctx, m); err != nil {
				c.logger.Error("handle event failed", zap.Error(err))
				_ = m.Nak()
				continue
			}
			_ = m.Ack()
		}
	}
}

func (c *EventConsumer) handle(ctx context.Context, m *nats.Msg) error {
	if m.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, observability.NATSHeaderCarrier{H: m.Header})
	}
	tr := otel.Tracer("taskmind/orchestrator")
	ctx, span := tr.Start(ctx, "taskmind.handle_event")
	defer span.End()

	var ev queue.EventMessage
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad_event")
		c.logger.Error("bad event payload", zap.Error(err), zap.String("subject", m.Subject))
		return nil
	}

	span.SetAttributes(
		attribute.String("event.id", ev.EventID),
		attribute.String("event.owner_id", ev.OwnerID),
	)

	rec, err := c.handler.Evaluate(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.logger.Info("event handled",
		zap.String("event_id", ev.EventID),
		zap.Bool("should_process", rec.ShouldProcess),
	)
	return nil
}
