package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

// ConnectWithRetry dials Kafka with exponential backoff, giving up after
// maxElapsed or when ctx is done.
func ConnectWithRetry(
	ctx context.Context,
	cfg *Config,
	maxElapsed time.Duration,
	logger *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxElapsedTime = maxElapsed

	var bus *EventBus
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		bus, err = NewEventBusFromConfig(cfg, logger, metrics, tracer)
		if err != nil {
			logger.Warn(ctx, "Kafka connection attempt failed", "attempt", attempt, "error", err)
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after %d attempts: %w", attempt, err)
	}
	return bus, nil
}
