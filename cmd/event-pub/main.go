// event-pub publishes a synthetic calendar event onto the evaluation subject.
// Useful for exercising the evaluator pipeline without a calendar source.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/avolokh/taskmind/internal/config"
	"github.com/avolokh/taskmind/internal/queue"
)

func main() {
	var (
		ownerID    = flag.String("owner-id", "", "Owner the event belongs to")
		title      = flag.String("title", "", "Event title")
		desc       = flag.String("description", "", "Event description")
		location   = flag.String("location", "", "Event location")
		startsIn   = flag.Duration("starts-in", 24*time.Hour, "How far in the future the event starts")
		recurrence = flag.String("recurrence", "", "Declared recurrence (daily|weekly|monthly)")
		count      = flag.Int("count", 1, "How many times to publish the same event")
		interval   = flag.Duration("interval", 50*time.Millisecond, "Delay between publishes")
	)
	flag.Parse()

	if *ownerID == "" {
		panic("missing --owner-id")
	}
	if *title == "" {
		panic("missing --title")
	}
	if *count <= 0 {
		panic("--count must be > 0")
	}

	cfg := config.Load()

	q, err := queue.New(context.Background(), queue.Config{
		NATSURL:      cfg.NATSURL,
		StreamName:   cfg.NATSStreamName,
		ConsumerName: cfg.NATSConsumerName,
		AckWait:      30 * time.Second,
		MaxDeliver:   5,
	})
	if err != nil {
		panic(err)
	}
	defer q.Close()

	msg := queue.EventMessage{
		EventID:     uuid.NewString(),
		OwnerID:     *ownerID,
		Title:       *title,
		Description: *desc,
		Location:    *location,
		StartsAt:    time.Now().Add(*startsIn),
		Recurrence:  *recurrence,
	}

	b, _ := json.Marshal(msg)
	fmt.Printf("publishing %d time(s) to %s: %s\n", *count, queue.SubjectEvents, string(b))

	for i := 0; i < *count; i++ {
		hdr := nats.Header{}
		hdr.Set("event_id", msg.EventID)
		if err := q.PublishEvent(context.Background(), msg, hdr); err != nil {
			panic(err)
		}
		time.Sleep(*interval)
	}

	fmt.Println("done")
}
