package main

import (
	"context"
	"fmt"
	"time"

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
		ConsumerName: "js-info",
		AckWait:      30 * time.Second,
		MaxDeliver:   5,
	})
	if err != nil {
		logger.Fatal("nats connection failed", zap.Error(err))
	}
	defer q.Close()

	js := q.JetStream()

	info, err := js.StreamInfo(cfg.NATSStreamName)
	if err != nil {
		logger.Fatal("StreamInfo failed", zap.Error(err))
	}

	fmt.Println("STREAM:", info.Config.Name)
	fmt.Println("SUBJECTS:")
	for _, s := range info.Config.Subjects {
		fmt.Println(" -", s)
	}
	fmt.Println("STATE:", "msgs=", info.State.Msgs, "bytes=", info.State.Bytes)

	fmt.Println("CONSUMERS:")
	for ci := range js.Consumers(cfg.NATSStreamName) {
		fmt.Printf(" - %s pending=%d ack_pending=%d redelivered=%d\n",
			ci.Name, ci.NumPending, ci.NumAckPending, ci.NumRedelivered)
	}
}
