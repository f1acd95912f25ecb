package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/jungseoik/abnormal-leaderboard/internal/app/bench"
	"github.com/jungseoik/abnormal-leaderboard/internal/app/cluster"
	"github.com/jungseoik/abnormal-leaderboard/internal/app/leaderboard"
	"github.com/jungseoik/abnormal-leaderboard/internal/app/queue"
	"github.com/jungseoik/abnormal-leaderboard/internal/app/worker"
	"github.com/jungseoik/abnormal-leaderboard/internal/config"
	"github.com/jungseoik/abnormal-leaderboard/internal/domain/events"
	domain "github.com/jungseoik/abnormal-leaderboard/internal/domain/queue"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/cluster/kubernetes"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/eventbus/kafka"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/eventbus/memory"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/sheets"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/otel"
	"github.com/jungseoik/abnormal-leaderboard/pkg/metrics"
)

var build = "develop"

const serviceType = "leaderboard-worker"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	configPath := flag.String("config", os.Getenv("LEADERBOARD_CONFIG"), "path to a YAML config file")
	flag.Parse()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	cfg, err := config.NewViperLoader(*configPath).Load(context.Background())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	svcName := fmt.Sprintf("WORKER-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
		"build":     build,
	}

	logr := logger.NewWithMetadata(os.Stdout, logger.ParseLevel(cfg.LogLevel), svcName, otel.GetTraceID, logEvents, metadata)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logr, cfg, hostname); err != nil {
		logr.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, cfg *config.Config, hostname string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Tracing
	tp, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      serviceType,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		Probability:      cfg.Telemetry.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(context.Background())

	tracer := tp.Tracer(serviceType)

	// -------------------------------------------------------------------------
	// Probes and metrics
	var ready atomic.Bool
	healthServer := common.NewHealthServerOn(cfg.HealthAddr, &ready)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthServer.Shutdown(shutdownCtx)
	}()

	m := metrics.New("leaderboard_worker")
	go func() {
		log.Info(ctx, "startup", "status", "metrics server started", "addr", cfg.MetricsAddr)
		if err := common.RunMetricsServer(cfg.MetricsAddr); err != nil {
			log.Error(ctx, "metrics server stopped", "error", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Spreadsheet
	log.Info(ctx, "startup", "status", "opening table", "backend", cfg.Table.Backend)
	table, err := sheets.Open(ctx, cfg.TableOptions(), tracer)
	if err != nil {
		return fmt.Errorf("opening table: %w", err)
	}
	defer table.Close()

	// -------------------------------------------------------------------------
	// Event bus
	g, gctx := errgroup.WithContext(ctx)

	publisher, closeBus, err := newPublisher(gctx, g, cfg, log, m, tracer)
	if err != nil {
		return err
	}
	defer closeBus()

	// -------------------------------------------------------------------------
	// Benchmark pipeline
	recorder, err := leaderboard.NewRecorder(ctx, table, cfg.LeaderboardConfig(), log, tracer)
	if err != nil {
		return fmt.Errorf("creating recorder: %w", err)
	}
	runner, err := bench.NewCommandRunner(cfg.CommandConfig(), log, tracer)
	if err != nil {
		return fmt.Errorf("creating bench runner: %w", err)
	}
	pipeline, err := bench.NewPipeline(runner, recorder, log, tracer)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	newDispatcher := func() (worker.Runner, error) {
		store, err := queue.NewStore(gctx, table, cfg.StoreConfig(), log, tracer)
		if err != nil {
			return nil, fmt.Errorf("connecting queue: %w", err)
		}
		monitor := queue.NewMonitor(store, queue.MonitorConfig{
			CheckInterval: cfg.Queue.CheckInterval,
			Metrics:       m,
		}, log, tracer)
		return queue.NewDispatcher(store, monitor, pipeline.Handle, cfg.DispatcherConfig(), m, publisher, log, tracer)
	}

	// -------------------------------------------------------------------------
	// Leadership
	var coord cluster.Coordinator = cluster.NewStandalone()
	if k8sCfg := cfg.K8sConfig(hostname); k8sCfg != nil {
		kc, err := kubernetes.NewCoordinator(k8sCfg, log, tracer)
		if err != nil {
			return fmt.Errorf("creating coordinator: %w", err)
		}
		coord = kc
	}

	w, err := worker.New(coord, newDispatcher, log, tracer)
	if err != nil {
		return fmt.Errorf("creating worker: %w", err)
	}

	g.Go(func() error {
		return w.Run(gctx)
	})

	ready.Store(true)
	log.Info(ctx, "startup", "status", "worker started", "queue", cfg.Queue.Worksheet)

	err = g.Wait()
	ready.Store(false)
	log.Info(context.Background(), "shutdown", "status", "worker stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newPublisher connects Kafka when brokers are configured and otherwise
// falls back to an in-process broker. Either way the worker logs the job
// events it can see.
func newPublisher(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	log *logger.Logger,
	m *metrics.Metrics,
	tracer trace.Tracer,
) (events.DomainEventPublisher, func(), error) {
	logEvent := func(ctx context.Context, evt events.EventEnvelope) error {
		log.Info(ctx, "Job event", "type", evt.Type, "key", evt.Key)
		return nil
	}

	if kcfg := cfg.KafkaConfig(); kcfg != nil {
		log.Info(ctx, "startup", "status", "connecting event bus", "brokers", kcfg.Brokers)
		bus, err := kafka.ConnectWithRetry(ctx, kcfg, time.Minute, log, m, tracer)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting event bus: %w", err)
		}
		if kcfg.GroupID != "" {
			watched := []events.EventType{domain.EventTypeJobSubmitted, domain.EventTypeJobCancelled}
			if err := bus.Subscribe(ctx, watched, logEvent); err != nil {
				_ = bus.Close()
				return nil, nil, fmt.Errorf("subscribing to job events: %w", err)
			}
		}
		return kafka.NewDomainEventPublisher(bus), func() { _ = bus.Close() }, nil
	}

	broker := memory.NewBroker()
	g.Go(func() error {
		return broker.Subscribe(ctx, nil, logEvent)
	})
	return memory.NewPublisher(broker), func() { _ = broker.Close() }, nil
}
