package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/avolokh/taskmind/internal/config"
	"github.com/avolokh/taskmind/internal/logging"
	"github.com/avolokh/taskmind/internal/queue"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Dev: cfg.Env == "dev"})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	q, err := queue.New(context.Background(), queue.Config{
		NATSURL:      cfg.NATSURL,
		StreamName:   cfg.NATSStreamName,
		ConsumerName: "deadletter-reader",
		AckWait:      30 * time.Second,
		MaxDeliver:   5,
	})
	if err != nil {
		logger.Fatal("nats connection failed", zap.Error(err))
	}
	defer q.Close()

	sub, err := q.PullSubscribe(queue.SubjectDeadLetter, "deadletter-reader")
	if err != nil {
		logger.Fatal("pull subscribe failed", zap.Error(err))
	}

	logger.Info("listening for dead letters", zap.String("subject", queue.SubjectDeadLetter))

	for {
		msgs, err := sub.Fetch(10, nats.MaxWait(2*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			logger.Fatal("fetch failed", zap.Error(err))
		}

		for _, m := range msgs {
			var dl queue.DeadLetterMessage
			if err := json.Unmarshal(m.Data, &dl); err != nil {
				logger.Error("bad dead letter JSON", zap.Error(err))
				_ = m.Ack()
				continue
			}

			pretty, _ := json.MarshalIndent(dl, "", "  ")
			logger.Info("dead letter", zap.String("json", string(pretty)))

			_ = m.Ack()
		}
	}
}
