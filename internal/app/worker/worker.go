// Package worker runs the dispatch loop on whichever replica currently
// holds leadership.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/jungseoik/abnormal-leaderboard/internal/app/cluster"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

// Runner is a single-use loop, satisfied by *queue.Dispatcher.
type Runner interface {
	Run(ctx context.Context) error
	Stop()
}

// RunnerFactory builds a fresh Runner for each leadership term.
type RunnerFactory func() (Runner, error)

// Worker starts a Runner when leadership is gained and stops it when
// leadership is lost.
type Worker struct {
	coordinator cluster.Coordinator
	newRunner   RunnerFactory

	mu      sync.Mutex
	current Runner
	done    chan struct{}
	terms   atomic.Int64
	active  atomic.Bool

	logger *logger.Logger
	tracer trace.Tracer
}

// New creates a Worker.
func New(coordinator cluster.Coordinator, newRunner RunnerFactory, logger *logger.Logger, tracer trace.Tracer) (*Worker, error) {
	if coordinator == nil || newRunner == nil {
		return nil, errors.New("worker requires a coordinator and a runner factory")
	}
	return &Worker{
		coordinator: coordinator,
		newRunner:   newRunner,
		logger:      logger.With("component", "worker"),
		tracer:      tracer,
	}, nil
}

// Run blocks until ctx is done, then stops any active runner.
func (w *Worker) Run(ctx context.Context) error {
	w.coordinator.OnLeadershipChange(func(isLeader bool) {
		if isLeader {
			w.startRunner(ctx)
			return
		}
		w.stopRunner(ctx)
	})

	err := w.coordinator.Start(ctx)
	w.stopRunner(context.WithoutCancel(ctx))
	if stopErr := w.coordinator.Stop(); stopErr != nil {
		w.logger.Warn(ctx, "Failed to stop coordinator", "error", stopErr)
	}
	return err
}

// Active reports whether a runner is currently dispatching.
func (w *Worker) Active() bool { return w.active.Load() }

// Terms reports how many leadership terms have started a runner.
func (w *Worker) Terms() int64 { return w.terms.Load() }

func (w *Worker) startRunner(ctx context.Context) {
	ctx, span := w.tracer.Start(ctx, "worker.start_runner")
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil {
		return
	}

	r, err := w.newRunner()
	if err != nil {
		span.RecordError(err)
		w.logger.Error(ctx, "Failed to build dispatcher for leadership term", "error", err)
		return
	}

	done := make(chan struct{})
	w.current, w.done = r, done
	w.terms.Add(1)
	w.active.Store(true)
	w.logger.Info(ctx, "Leadership acquired, dispatching")

	go func() {
		defer close(done)
		defer w.active.Store(false)
		if err := r.Run(ctx); err != nil {
			w.logger.Error(ctx, "Dispatcher exited with error", "error", err)
		}
	}()
}

func (w *Worker) stopRunner(ctx context.Context) {
	w.mu.Lock()
	r, done := w.current, w.done
	w.current, w.done = nil, nil
	w.mu.Unlock()

	if r == nil {
		return
	}
	w.logger.Info(ctx, "Leadership lost, stopping dispatcher")
	r.Stop()
	<-done
}
