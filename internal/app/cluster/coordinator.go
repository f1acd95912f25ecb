// Package cluster decides which worker replica owns the dispatch loop. Only
// the leader pops from the queue, so two replicas never race on the same
// worksheet.
package cluster

import (
	"context"
	"sync"
)

// Coordinator manages leader election to ensure only one instance actively
// dispatches jobs.
type Coordinator interface {
	// Start initiates coordination and blocks until context cancellation or error.
	Start(ctx context.Context) error
	// Stop gracefully terminates coordination.
	Stop() error
	// OnLeadershipChange registers a callback for leadership status changes.
	OnLeadershipChange(cb func(isLeader bool))
}

var _ Coordinator = (*Standalone)(nil)

// Standalone is a Coordinator for single-replica deployments. It reports
// leadership as soon as Start is called and gives it up when ctx ends.
type Standalone struct {
	mu sync.Mutex
	cb func(isLeader bool)
}

// NewStandalone creates a Standalone coordinator.
func NewStandalone() *Standalone { return new(Standalone) }

func (s *Standalone) OnLeadershipChange(cb func(isLeader bool)) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

func (s *Standalone) Start(ctx context.Context) error {
	s.notify(true)
	<-ctx.Done()
	s.notify(false)
	return nil
}

func (s *Standalone) Stop() error { return nil }

func (s *Standalone) notify(isLeader bool) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb(isLeader)
	}
}
