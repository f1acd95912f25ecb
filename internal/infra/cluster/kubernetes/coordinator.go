// Package kubernetes elects the dispatching worker replica with a
// coordination.k8s.io Lease.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/jungseoik/abnormal-leaderboard/internal/app/cluster"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

var _ cluster.Coordinator = (*Coordinator)(nil)

// Coordinator runs lease-based leader election. Only one worker holds the
// lease at a time.
type Coordinator struct {
	config K8sConfig
	client kubernetes.Interface

	leaderElector *leaderelection.LeaderElector

	mu                 sync.Mutex
	leadershipChangeCB func(isLeader bool)
	cancel             context.CancelFunc

	logger *logger.Logger
	tracer trace.Tracer
}

// NewCoordinator creates a coordinator using the in-cluster config or the
// local kubeconfig.
func NewCoordinator(cfg *K8sConfig, logger *logger.Logger, tracer trace.Tracer) (*Coordinator, error) {
	client, err := getKubernetesClient()
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client for coordinator: %w", err)
	}
	return NewCoordinatorWithClient(client, cfg, logger, tracer)
}

// NewCoordinatorWithClient creates a coordinator over an existing client.
func NewCoordinatorWithClient(
	client kubernetes.Interface,
	cfg *K8sConfig,
	logger *logger.Logger,
	tracer trace.Tracer,
) (*Coordinator, error) {
	_, span := tracer.Start(context.Background(), "kubernetes_coordinator.new")
	defer span.End()

	if cfg == nil {
		err := errors.New("config is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if cfg.Namespace == "" || cfg.LeaderLockID == "" || cfg.Identity == "" {
		err := errors.New("namespace, leader lock id and identity are required")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("namespace", cfg.Namespace),
		attribute.String("identity", cfg.Identity),
	)

	c := &Coordinator{
		config: cfg.withDefaults(),
		client: client,
		logger: logger.With(
			"component", "kubernetes_coordinator",
			"namespace", cfg.Namespace,
			"leader_lock_id", cfg.LeaderLockID,
			"identity", cfg.Identity,
		),
		tracer: tracer,
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      c.config.LeaderLockID,
			Namespace: c.config.Namespace,
		},
		Client: client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: c.config.Identity,
		},
	}

	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   c.config.LeaseDuration,
		RenewDeadline:   c.config.RenewDeadline,
		RetryPeriod:     c.config.RetryPeriod,
		ReleaseOnCancel: true,
		Name:            c.config.LeaderLockID,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: c.onStartedLeading,
			OnStoppedLeading: c.onStoppedLeading,
			OnNewLeader:      c.onNewLeader,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create leader elector")
		return nil, fmt.Errorf("creating leader elector: %w", err)
	}
	c.leaderElector = elector
	span.AddEvent("leader_elector_created")

	return c, nil
}

// Start contends for the lease until ctx is done or Stop is called. A lost
// lease is contended for again.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	c.logger.Info(ctx, "Starting leader elector")
	for {
		// Run blocks while contending or leading and returns once leadership
		// is lost or ctx is done.
		c.leaderElector.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn(ctx, "Leader election round ended, contending again")
	}
}

// Stop releases the lease if held and ends Start.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.logger.Info(context.Background(), "Stopping leader elector")
	return nil
}

// OnLeadershipChange registers the callback invoked when this instance
// gains or loses the lease.
func (c *Coordinator) OnLeadershipChange(cb func(isLeader bool)) {
	c.mu.Lock()
	c.leadershipChangeCB = cb
	c.mu.Unlock()
}

// IsLeader reports whether this instance currently holds the lease.
func (c *Coordinator) IsLeader() bool { return c.leaderElector.IsLeader() }

func (c *Coordinator) callback() func(bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leadershipChangeCB
}

func (c *Coordinator) onStartedLeading(ctx context.Context) {
	_, span := c.tracer.Start(ctx, "kubernetes_coordinator.on_started_leading")
	defer span.End()

	c.logger.Info(ctx, "Became leader")
	if cb := c.callback(); cb != nil {
		cb(true)
	}
}

func (c *Coordinator) onStoppedLeading() {
	ctx, span := c.tracer.Start(context.Background(), "kubernetes_coordinator.on_stopped_leading")
	defer span.End()

	c.logger.Info(ctx, "Lost leadership")
	if cb := c.callback(); cb != nil {
		cb(false)
	}
}

func (c *Coordinator) onNewLeader(identity string) {
	if identity == c.config.Identity {
		return
	}
	c.logger.Info(context.Background(), "Observed leader", "leader", identity)
}
