package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	otelglobal "go.opentelemetry.io/otel"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/jungseoik/abnormal-leaderboard/internal/api"
	"github.com/jungseoik/abnormal-leaderboard/internal/app/leaderboard"
	"github.com/jungseoik/abnormal-leaderboard/internal/app/queue"
	"github.com/jungseoik/abnormal-leaderboard/internal/app/submission"
	"github.com/jungseoik/abnormal-leaderboard/internal/config"
	"github.com/jungseoik/abnormal-leaderboard/internal/domain/events"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/eventbus/kafka"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/sheets"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/otel"
	"github.com/jungseoik/abnormal-leaderboard/pkg/metrics"
)

var build = "develop"

const serviceType = "leaderboard-api"

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

	svcName := fmt.Sprintf("API-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
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
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0))

	// -------------------------------------------------------------------------
	// Tracing
	otelCfg := otel.Config{
		ServiceName:      serviceType,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/readiness": {},
			"/v1/health":    {},
			"/metrics":      {},
		},
		Probability: cfg.Telemetry.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	}
	tp, teardown, err := otel.InitTelemetry(log, otelCfg)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(context.Background())

	tracer := tp.Tracer(serviceType)

	apiMetrics, err := api.NewAPIMetrics(otelglobal.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("creating metrics collector: %w", err)
	}

	promMetrics := metrics.New("leaderboard_api")
	go func() {
		log.Info(ctx, "startup", "status", "metrics server started", "addr", cfg.MetricsAddr)
		if err := common.RunMetricsServer(cfg.MetricsAddr); err != nil {
			log.Error(ctx, "metrics server stopped", "error", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Spreadsheet
	table, err := sheets.Open(ctx, cfg.TableOptions(), tracer)
	if err != nil {
		return fmt.Errorf("opening table: %w", err)
	}
	defer table.Close()

	// -------------------------------------------------------------------------
	// Event bus. Without brokers submissions are not announced.
	var publisher events.DomainEventPublisher
	if kcfg := cfg.KafkaConfig(); kcfg != nil {
		// The API only publishes, so it never joins a consumer group.
		kcfg.GroupID = ""
		bus, err := kafka.ConnectWithRetry(ctx, kcfg, time.Minute, log, apiMetrics, tracer)
		if err != nil {
			return fmt.Errorf("connecting event bus: %w", err)
		}
		defer bus.Close()
		publisher = kafka.NewDomainEventPublisher(bus)
	}

	// -------------------------------------------------------------------------
	// Services
	store, err := queue.NewStore(ctx, table, cfg.StoreConfig(), log, tracer)
	if err != nil {
		return fmt.Errorf("connecting queue: %w", err)
	}
	submissions, err := submission.NewService(store, cfg.SubmissionConfig(), publisher, promMetrics, log, tracer)
	if err != nil {
		return fmt.Errorf("creating submission service: %w", err)
	}
	if err := apiMetrics.ObserveQueueDepth(func(ctx context.Context) (int, error) {
		jobs, err := submissions.Queue(ctx)
		return len(jobs), err
	}); err != nil {
		return fmt.Errorf("registering queue depth gauge: %w", err)
	}

	board, err := leaderboard.NewBoard(ctx, table, cfg.LeaderboardConfig(), log, tracer)
	if err != nil {
		return fmt.Errorf("creating leaderboard: %w", err)
	}

	server, err := api.NewServer(api.Config{
		Host:  cfg.API.Host,
		Port:  cfg.API.Port,
		Build: build,
		Otel:  otelCfg,
	}, submissions, board, apiMetrics, log, tracer)
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}

	// -------------------------------------------------------------------------
	// Serve until signalled
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	log.Info(context.Background(), "shutdown", "status", "shutdown complete")
	return nil
}
