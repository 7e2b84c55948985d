package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/avolokh/taskmind/internal/config"
	"github.com/avolokh/taskmind/internal/evaluator"
	"github.com/avolokh/taskmind/internal/executor"
	"github.com/avolokh/taskmind/internal/logging"
	"github.com/avolokh/taskmind/internal/notify"
	"github.com/avolokh/taskmind/internal/observability"
	"github.com/avolokh/taskmind/internal/orchestrator"
	"github.com/avolokh/taskmind/internal/queue"
	"github.com/avolokh/taskmind/internal/reasoning"
	"github.com/avolokh/taskmind/internal/store"
	"github.com/avolokh/taskmind/internal/tools"
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

	observability.RegisterMetrics()

	shutdownTracing, err := observability.InitTracing(context.Background(), observability.OTelConfig{
		ServiceName: firstNonEmpty(cfg.OTELServiceName, "taskmind-orchestrator"),
		Endpoint:    cfg.OTELExporterOTLPEndpoint,
		Env:         cfg.Env,
	})
	if err != nil {
		logger.Fatal("otel init failed", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	st, err := store.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connection failed", zap.Error(err))
	}
	defer st.Close()

	q, err := queue.New(context.Background(), queue.Config{
		NATSURL:      cfg.NATSURL,
		StreamName:   cfg.NATSStreamName,
		ConsumerName: cfg.NATSConsumerName,
		AckWait:      30 * time.Second,
		MaxDeliver:   5,
	})
	if err != nil {
		logger.Fatal("nats connection failed", zap.Error(err))
	}
	defer q.Close()

	gateway := reasoning.NewOpenAIGateway(reasoning.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.ReasoningModel,
		Timeout: cfg.ReasoningTimeout,
	}, logger)

	actions := tools.NewHTTPActions(cfg.ActionsBaseURL)
	registry := tools.NewRegistry()
	registry.Register(tools.NewEmailTool(actions))
	registry.Register(tools.NewNoteTool(actions))
	registry.Register(tools.NewCalendarTool(actions))
	registry.Register(tools.NewSMSTool(actions))

	notifier := buildNotifier(cfg, st, logger)

	exec := executor.New(st, gateway, registry, notifier, q, logger, executor.Config{
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
	})

	eval := evaluator.New(st, gateway, logger, evaluator.Config{
		ConfidenceThreshold: cfg.EvalConfidenceThreshold,
		ReminderLead:        cfg.EvalReminderLead,
	})

	scanner := orchestrator.NewScanner(st, q, logger, orchestrator.ScannerConfig{
		Interval:        cfg.ScanInterval,
		ReclaimInterval: cfg.ReclaimInterval,
		StaleAfter:      cfg.StaleAfter,
	})

	dispatchSub, err := q.PullSubscribe(queue.SubjectDispatch, cfg.NATSConsumerName)
	if err != nil {
		logger.Fatal("create dispatch consumer failed", zap.Error(err))
	}
	pool := orchestrator.NewPool(dispatchSub, exec, logger, orchestrator.PoolConfig{
		Concurrency: cfg.WorkerConcurrency,
		PollTimeout: cfg.WorkerPollTimeout,
	})

	eventSub, err := q.PullSubscribe(queue.SubjectEvents, cfg.NATSConsumerName+"-events")
	if err != nil {
		logger.Fatal("create event consumer failed", zap.Error(err))
	}
	events := orchestrator.NewEventConsumer(eventSub, eval, logger, cfg.WorkerPollTimeout)

	// Metrics and liveness endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(scanner.Snapshot())
		})
		addr := fmt.Sprintf(":%d", cfg.WorkerMetricsPort)
		logger.Info("orchestrator metrics server starting", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, mux)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.Info("orchestrator started",
		zap.Duration("scan_interval", cfg.ScanInterval),
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("max_attempts", cfg.MaxAttempts),
	)

	wg := &sync.WaitGroup{}
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := scanner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scanner exited", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		events.Run(ctx)
	}()

	wg.Wait()
	logger.Info("orchestrator stopped")
}

func buildNotifier(cfg *config.Config, st *store.Store, logger *zap.Logger) *notify.Notifier {
	var senders []notify.Sender

	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegramSender(cfg.TelegramBotToken, func(ctx context.Context, ownerID string) (int64, error) {
			owner, err := st.GetOwner(ctx, ownerID)
			if err != nil {
				return 0, err
			}
			if owner.TelegramChatID == nil {
				return 0, fmt.Errorf("owner %s has no telegram chat", ownerID)
			}
			return *owner.TelegramChatID, nil
		})
		if err != nil {
			logger.Warn("telegram sender unavailable", zap.Error(err))
		} else {
			senders = append(senders, tg)
		}
	}

	senders = append(senders, notify.NewWebhookSender(func(ctx context.Context, ownerID string) (string, error) {
		owner, err := st.GetOwner(ctx, ownerID)
		if err != nil {
			return "", err
		}
		if owner.WebhookURL == nil || *owner.WebhookURL == "" {
			return "", fmt.Errorf("owner %s has no webhook url", ownerID)
		}
		return *owner.WebhookURL, nil
	}))

	return notify.New(st, cfg.NotifyFallbackChannels, logger, senders...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
