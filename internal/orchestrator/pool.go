package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/avolokh/taskmind/internal/observability"
	"github.com/avolokh/taskmind/internal/queue"
	"github.com/avolokh/taskmind/internal/store"
)

// Executor runs one attempt for a dispatched task.
type Executor interface {
	Execute(ctx context.Context, taskID uuid.UUID) (*store.TaskExecution, error)
}

// fetcher is the slice of *nats.Subscription the pool pulls from.
type fetcher interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

type PoolConfig struct {
	Concurrency int
	PollTimeout time.Duration
}

func (c *PoolConfig) defaults() {
	if c.Concurrency < 1 {
		c.Concurrency = 4
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Second
	}
}

// Pool drains the dispatch subject with a bounded set of goroutines. Retry
// policy lives in the store (a failed attempt is requeued with a deferred
// next_run_at), so the queue itself only redelivers on infrastructure errors.
type Pool struct {
	sub    fetcher
	exec   Executor
	logger *zap.Logger
	cfg    PoolConfig
}

func NewPool(sub fetcher, exec Executor, logger *zap.Logger, cfg PoolConfig) *Pool {
	cfg.defaults()
	return &Pool{sub: sub, exec: exec, logger: logger, cfg: cfg}
}

func (p *Pool) Run(ctx context.Context) {
	wg := &sync.WaitGroup{}
	sem := make(chan struct{}, p.cfg.Concurrency)

	p.logger.Info("dispatch pool started",
		zap.Int("concurrency", p.cfg.Concurrency),
		zap.Duration("poll_timeout", p.cfg.PollTimeout),
	)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			p.logger.Info("dispatch pool stopped")
			return
		default:
		}

		msgs, err := p.sub.Fetch(1, nats.MaxWait(p.cfg.PollTimeout))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			p.logger.Warn("fetch error", zap.Error(err))
			continue
		}

		for _, m := range msgs {
			sem <- struct{}{}
			wg.Add(1)

			go func(m *nats.Msg) {
				defer wg.Done()
				defer func() { <-sem }()

				if err := p.handle(ctx, m); err != nil {
					p.logger.Error("handle dispatch failed", zap.Error(err))
					_ = m.Nak()
					return
				}
				_ = m.Ack()
			}(m)
		}
	}
}

func (p *Pool) handle(ctx context.Context, m *nats.Msg) error {
	if m.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, observability.NATSHeaderCarrier{H: m.Header})
	}
	tr := otel.Tracer("taskmind/orchestrator")
	ctx, span := tr.Start(ctx, "taskmind.handle_dispatch")
	defer span.End()

	var tm queue.TaskMessage
	if err := json.Unmarshal(m.Data, &tm); err != nil {
		// Unparseable payloads are dropped; redelivery cannot fix them.
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad_message")
		p.logger.Error("bad dispatch payload", zap.Error(err), zap.String("subject", m.Subject))
		return nil
	}

	taskID, err := uuid.Parse(tm.TaskID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad_task_id")
		p.logger.Error("bad task id in dispatch", zap.Error(err), zap.String("task_id", tm.TaskID))
		return nil
	}

	span.SetAttributes(
		attribute.String("messaging.subject", m.Subject),
		attribute.String("task.id", taskID.String()),
		attribute.Int("task.attempt", tm.Attempt),
	)

	if _, err := p.exec.Execute(ctx, taskID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
