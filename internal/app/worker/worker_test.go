package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jungseoik/abnormal-leaderboard/internal/app/cluster"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

// fakeRunner blocks in Run until Stop or ctx cancellation.
type fakeRunner struct {
	stopOnce sync.Once
	stopCh   chan struct{}
	runs     *atomic.Int32
}

func newFakeRunner(runs *atomic.Int32) *fakeRunner {
	return &fakeRunner{stopCh: make(chan struct{}), runs: runs}
}

func (r *fakeRunner) Run(ctx context.Context) error {
	r.runs.Add(1)
	select {
	case <-r.stopCh:
	case <-ctx.Done():
	}
	return nil
}

func (r *fakeRunner) Stop() { r.stopOnce.Do(func() { close(r.stopCh) }) }

// manualCoordinator lets the test flip leadership.
type manualCoordinator struct {
	mu sync.Mutex
	cb func(bool)
}

func (c *manualCoordinator) OnLeadershipChange(cb func(bool)) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

func (c *manualCoordinator) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (c *manualCoordinator) Stop() error { return nil }

func (c *manualCoordinator) set(isLeader bool) {
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()
	cb(isLeader)
}

var _ cluster.Coordinator = (*manualCoordinator)(nil)

func TestWorker_StandaloneDispatchesUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	w, err := New(cluster.NewStandalone(), func() (Runner, error) { return newFakeRunner(&runs), nil },
		logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, w.Active, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.False(t, w.Active())
	assert.Equal(t, int32(1), runs.Load())
}

func TestWorker_FollowsLeadership(t *testing.T) {
	var runs atomic.Int32
	coord := new(manualCoordinator)
	w, err := New(coord, func() (Runner, error) { return newFakeRunner(&runs), nil },
		logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool {
		coord.mu.Lock()
		defer coord.mu.Unlock()
		return coord.cb != nil
	}, time.Second, time.Millisecond)

	coord.set(true)
	coord.set(true)
	assert.Eventually(t, w.Active, time.Second, time.Millisecond)
	assert.Equal(t, int64(1), w.Terms())

	coord.set(false)
	assert.False(t, w.Active())

	coord.set(true)
	assert.Eventually(t, w.Active, time.Second, time.Millisecond)
	assert.Equal(t, int64(2), w.Terms())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(2), runs.Load())
}

func TestWorker_FactoryErrorLeavesIdle(t *testing.T) {
	coord := new(manualCoordinator)
	w, err := New(coord, func() (Runner, error) { return nil, errors.New("no table") },
		logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool {
		coord.mu.Lock()
		defer coord.mu.Unlock()
		return coord.cb != nil
	}, time.Second, time.Millisecond)
	coord.set(true)

	assert.False(t, w.Active())
	assert.Equal(t, int64(0), w.Terms())
	cancel()
	require.NoError(t, <-done)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	assert.Error(t, err)
}
