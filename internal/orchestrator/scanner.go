// Package orchestrator drives the scheduling side of the engine: a periodic
// scan that claims due tasks and pushes them onto the dispatch queue, a
// reclaim pass for tasks abandoned by crashed workers, and the consumer pools
// that drain the queue. Multiple instances may run side by side; correctness
// rests entirely on the store's atomic claim, not on any coordination here.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/avolokh/taskmind/internal/observability"
	"github.com/avolokh/taskmind/internal/queue"
	"github.com/avolokh/taskmind/internal/store"
)

// State is the scanner's position in its cycle: idle between ticks, scanning
// while querying due tasks, dispatching while claiming and publishing.
type State string

const (
	StateIdle        State = "idle"
	StateScanning    State = "scanning"
	StateDispatching State = "dispatching"
)

// ScanStore is the slice of the persistence layer the scanner needs.
type ScanStore interface {
	DueTasks(ctx context.Context, now time.Time, ownerID *string) ([]store.Task, error)
	ClaimTask(ctx context.Context, id uuid.UUID) (*store.Task, error)
	ReclaimStale(ctx context.Context, olderThan time.Duration) ([]store.Task, error)
}

type Dispatcher interface {
	PublishDispatch(ctx context.Context, msg queue.TaskMessage, hdr nats.Header) error
}

type ScannerConfig struct {
	Interval        time.Duration
	ReclaimInterval time.Duration
	StaleAfter      time.Duration
}

func (c *ScannerConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
}

// Snapshot is the scanner's contribution to the operational surface.
type Snapshot struct {
	State          State      `json:"state"`
	LastScanAt     *time.Time `json:"last_scan_at,omitempty"`
	LastDispatched int        `json:"last_dispatched"`
}

type Scanner struct {
	store    ScanStore
	dispatch Dispatcher
	logger   *zap.Logger
	cfg      ScannerConfig

	mu             sync.Mutex
	state          State
	lastScanAt     *time.Time
	lastDispatched int
}

func NewScanner(st ScanStore, d Dispatcher, logger *zap.Logger, cfg ScannerConfig) *Scanner {
	cfg.defaults()
	return &Scanner{
		store:    st,
		dispatch: d,
		logger:   logger,
		cfg:      cfg,
		state:    StateIdle,
	}
}

func (s *Scanner) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:          s.state,
		LastScanAt:     s.lastScanAt,
		LastDispatched: s.lastDispatched,
	}
}

func (s *Scanner) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run scans on the configured interval and reclaims stale tasks on a slower
// one, until the context is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	scanTick := time.NewTicker(s.cfg.Interval)
	defer scanTick.Stop()
	reclaimTick := time.NewTicker(s.cfg.ReclaimInterval)
	defer reclaimTick.Stop()

	s.logger.Info("scanner started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("reclaim_interval", s.cfg.ReclaimInterval),
		zap.Duration("stale_after", s.cfg.StaleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scanner stopped")
			return ctx.Err()
		case <-scanTick.C:
			if _, err := s.ScanOnce(ctx); err != nil {
				s.logger.Error("scan cycle failed", zap.Error(err))
			}
		case <-reclaimTick.C:
			if err := s.reclaimOnce(ctx); err != nil {
				s.logger.Error("reclaim pass failed", zap.Error(err))
			}
		}
	}
}

// ScanOnce runs one idle -> scanning -> dispatching -> idle cycle and returns
// how many tasks were dispatched. A lost claim race is an expected outcome of
// running concurrent scanner instances and is skipped without logging noise.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	tr := otel.Tracer("taskmind/orchestrator")
	ctx, span := tr.Start(ctx, "taskmind.scan_cycle")
	defer span.End()

	s.setState(StateScanning)
	defer s.setState(StateIdle)

	due, err := s.store.DueTasks(ctx, time.Now(), nil)
	if err != nil {
		return 0, err
	}
	observability.ScanCyclesTotal.Inc()

	now := time.Now()
	s.mu.Lock()
	s.lastScanAt = &now
	s.mu.Unlock()

	if len(due) == 0 {
		s.mu.Lock()
		s.lastDispatched = 0
		s.mu.Unlock()
		return 0, nil
	}

	s.setState(StateDispatching)

	dispatched := 0
	for _, t := range due {
		claimed, err := s.store.ClaimTask(ctx, t.ID)
		if err != nil {
			if errors.Is(err, store.ErrClaimConflict) || errors.Is(err, store.ErrNotFound) {
				observability.ClaimsTotal.WithLabelValues("lost").Inc()
				continue
			}
			s.logger.Error("claim failed", zap.Error(err), zap.String("task_id", t.ID.String()))
			continue
		}
		observability.ClaimsTotal.WithLabelValues("won").Inc()

		hdr := nats.Header{}
		otel.GetTextMapPropagator().Inject(ctx, observability.NATSHeaderCarrier{H: hdr})
		hdr.Set("task_id", claimed.ID.String())

		msg := queue.TaskMessage{
			TaskID:  claimed.ID.String(),
			OwnerID: claimed.OwnerID,
			Attempt: claimed.Retries + 1,
		}
		if err := s.dispatch.PublishDispatch(ctx, msg, hdr); err != nil {
			// The task stays claimed; the stale-reclaim pass recovers it.
			s.logger.Error("dispatch publish failed",
				zap.Error(err),
				zap.String("task_id", claimed.ID.String()),
			)
			continue
		}
		dispatched++
	}

	s.mu.Lock()
	s.lastDispatched = dispatched
	s.mu.Unlock()

	if dispatched > 0 {
		s.logger.Info("scan cycle dispatched tasks",
			zap.Int("due", len(due)),
			zap.Int("dispatched", dispatched),
		)
	}
	return dispatched, nil
}

func (s *Scanner) reclaimOnce(ctx context.Context) error {
	reclaimed, err := s.store.ReclaimStale(ctx, s.cfg.StaleAfter)
	if err != nil {
		return err
	}
	if len(reclaimed) == 0 {
		return nil
	}

	observability.TasksReclaimedTotal.Add(float64(len(reclaimed)))
	for _, t := range reclaimed {
		s.logger.Warn("reclaimed stale task",
			zap.String("task_id", t.ID.String()),
			zap.Int("retries", t.Retries),
		)
	}
	return nil
}
