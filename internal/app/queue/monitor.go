package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

// ErrMonitorNotRunning is returned by Pause when the poll loop is not running.
var ErrMonitorNotRunning = errors.New("monitor is not running")

// DefaultCheckInterval is the poll cadence used when none is configured.
const DefaultCheckInterval = 10 * time.Second

// ValueSource is the read side of the queue the monitor polls.
type ValueSource interface {
	Values(ctx context.Context) ([]string, error)
}

var _ ValueSource = (*Store)(nil)

// MonitorMetrics records poll outcomes.
type MonitorMetrics interface {
	IncPollErrors()
	SetQueueHasData(bool)
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	CheckInterval time.Duration
	Metrics       MonitorMetrics
}

// MonitorState describes the lifecycle position of a Monitor.
type MonitorState int32

const (
	MonitorStopped MonitorState = iota
	MonitorRunning
	MonitorPaused
)

func (s MonitorState) String() string {
	switch s {
	case MonitorRunning:
		return "running"
	case MonitorPaused:
		return "paused"
	default:
		return "stopped"
	}
}

// pauseRequest is one pause/resume rendezvous. The poll loop closes ack once
// it has parked, and stays parked until release is closed.
type pauseRequest struct {
	ack     chan struct{}
	release chan struct{}
}

func newPauseRequest() *pauseRequest {
	return &pauseRequest{ack: make(chan struct{}), release: make(chan struct{})}
}

// Monitor polls a ValueSource in the background and maintains a
// level-triggered has-data flag: set while the queue is non-empty, cleared
// when it is observed empty.
type Monitor struct {
	source   ValueSource
	interval time.Duration
	metrics  MonitorMetrics

	running atomic.Bool
	// wake interrupts the inter-poll sleep so that pause and stop requests
	// are observed promptly.
	wake chan struct{}

	mu      sync.Mutex
	pending *pauseRequest
	paused  *pauseRequest
	done    chan struct{}
	hasData bool
	// dataCh is closed while hasData is set and replaced when it is cleared.
	dataCh chan struct{}

	logger *logger.Logger
	tracer trace.Tracer
}

// NewMonitor creates a stopped Monitor over source.
func NewMonitor(source ValueSource, cfg MonitorConfig, logger *logger.Logger, tracer trace.Tracer) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noOpMonitorMetrics{}
	}

	return &Monitor{
		source:   source,
		interval: cfg.CheckInterval,
		metrics:  cfg.Metrics,
		wake:     make(chan struct{}, 1),
		dataCh:   make(chan struct{}),
		logger:   logger.With("component", "change_monitor"),
		tracer:   tracer,
	}
}

// Start launches the poll loop. Calling Start on a running monitor only logs
// a warning.
func (m *Monitor) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Warn(ctx, "Monitoring is already running")
		return
	}

	done := make(chan struct{})
	m.mu.Lock()
	m.pending, m.paused, m.done = nil, nil, done
	m.mu.Unlock()

	// A wake token left over from a previous run would cut the first sleep short.
	select {
	case <-m.wake:
	default:
	}

	go m.loop(ctx, done)
	m.logger.Info(ctx, "Started monitoring", "check_interval", m.interval.String())
}

// Stop clears the running flag, releases a parked loop and waits for the
// poll goroutine to exit. A probe already in flight completes first. The wait
// also happens when the loop has already cleared the flag on context
// cancellation.
func (m *Monitor) Stop() {
	wasRunning := m.running.CompareAndSwap(true, false)

	m.mu.Lock()
	parked, done := m.paused, m.done
	m.pending, m.paused = nil, nil
	m.mu.Unlock()

	if parked != nil {
		close(parked.release)
	}
	if done == nil {
		return
	}
	m.nudge()

	<-done
	if wasRunning {
		m.logger.Info(context.Background(), "Stopped monitoring")
	}
}

// Pause asks the poll loop to park and blocks until it has. While paused
// the monitor makes no calls on its source.
func (m *Monitor) Pause(ctx context.Context) error {
	if !m.running.Load() {
		return ErrMonitorNotRunning
	}

	m.mu.Lock()
	if m.paused != nil {
		m.mu.Unlock()
		return nil
	}
	req := m.pending
	if req == nil {
		req = newPauseRequest()
		m.pending = req
	}
	done := m.done
	m.mu.Unlock()

	m.nudge()

	select {
	case <-req.ack:
		m.logger.Debug(ctx, "Monitoring paused")
		return nil

	case <-done:
		return ErrMonitorNotRunning

	case <-ctx.Done():
		m.mu.Lock()
		if m.pending == req {
			m.pending = nil
			m.mu.Unlock()
			return ctx.Err()
		}
		m.mu.Unlock()

		// The loop already took the request; undo the park it is entering.
		select {
		case <-req.ack:
			m.releaseParked(req)
		case <-done:
		}
		return ctx.Err()
	}
}

// Resume re-probes the source once so the has-data flag is current, then
// lets the poll loop continue. It is a no-op when the monitor is not paused.
func (m *Monitor) Resume(ctx context.Context) {
	m.mu.Lock()
	req := m.paused
	m.mu.Unlock()
	if req == nil {
		return
	}

	m.probe(ctx)
	m.releaseParked(req)
	m.logger.Debug(ctx, "Monitoring resumed")
}

// HasData reports the current level of the has-data flag.
func (m *Monitor) HasData() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasData
}

// WaitForData blocks until the has-data flag is set, timeout elapses or ctx
// is done, and reports whether the flag is set.
func (m *Monitor) WaitForData(ctx context.Context, timeout time.Duration) bool {
	m.mu.Lock()
	if m.hasData {
		m.mu.Unlock()
		return true
	}
	ch := m.dataCh
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// ClearData resets the has-data flag.
func (m *Monitor) ClearData() { m.setHasData(false) }

// State reports whether the monitor is stopped, running or paused.
func (m *Monitor) State() MonitorState {
	if !m.running.Load() {
		return MonitorStopped
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused != nil {
		return MonitorPaused
	}
	return MonitorRunning
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for m.running.Load() {
		if req := m.takePauseRequest(); req != nil {
			close(req.ack)
			select {
			case <-req.release:
			case <-ctx.Done():
				m.running.Store(false)
				return
			}
			continue
		}

		m.probe(ctx)

		select {
		case <-time.After(m.interval):
		case <-m.wake:
		case <-ctx.Done():
			m.running.Store(false)
			return
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "change_monitor.probe")
	defer span.End()

	values, err := m.source.Values(ctx)
	if err != nil {
		m.metrics.IncPollErrors()
		span.RecordError(err)
		span.SetStatus(codes.Error, "probe failed")
		m.logger.Error(ctx, "Error in monitoring loop", "error", err)
		return
	}

	span.SetAttributes(attribute.Int("queue_length", len(values)))
	if m.setHasData(len(values) > 0) && len(values) > 0 {
		m.logger.Info(ctx, "Detected data in queue", "queue_length", len(values))
	}
}

// setHasData updates the flag and reports whether it changed.
func (m *Monitor) setHasData(v bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.SetQueueHasData(v)
	if v == m.hasData {
		return false
	}
	m.hasData = v
	if v {
		close(m.dataCh)
	} else {
		m.dataCh = make(chan struct{})
	}
	return true
}

func (m *Monitor) takePauseRequest() *pauseRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	req := m.pending
	if req != nil {
		m.pending = nil
		m.paused = req
	}
	return req
}

func (m *Monitor) releaseParked(req *pauseRequest) {
	m.mu.Lock()
	if m.paused != req {
		m.mu.Unlock()
		return
	}
	m.paused = nil
	m.mu.Unlock()
	close(req.release)
}

func (m *Monitor) nudge() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

type noOpMonitorMetrics struct{}

func (noOpMonitorMetrics) IncPollErrors()       {}
func (noOpMonitorMetrics) SetQueueHasData(bool) {}
