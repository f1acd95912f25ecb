package common

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

// DefaultHealthAddr is where probes are served unless overridden.
const DefaultHealthAddr = ":8080"

// HealthServer answers liveness and readiness probes for a process.
type HealthServer struct {
	ready  *atomic.Bool
	server *http.Server
}

// NewHealthServer starts serving probes on DefaultHealthAddr. Readiness
// reports 503 until ready is set.
func NewHealthServer(ready *atomic.Bool) *HealthServer {
	return NewHealthServerOn(DefaultHealthAddr, ready)
}

// NewHealthServerOn is NewHealthServer with an explicit listen address.
func NewHealthServerOn(addr string, ready *atomic.Bool) *HealthServer {
	hs := &HealthServer{ready: ready}

	r := chi.NewRouter()
	r.Get("/v1/health", hs.health)
	r.Get("/v1/readiness", hs.readiness)

	hs.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := hs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("health server error: %v", err)
		}
	}()

	return hs
}

// Server exposes the underlying http.Server for shutdown.
func (hs *HealthServer) Server() *http.Server { return hs.server }

// Handler returns the probe router, mainly for tests.
func (hs *HealthServer) Handler() http.Handler { return hs.server.Handler }

// Shutdown stops the probe listener.
func (hs *HealthServer) Shutdown(ctx context.Context) error { return hs.server.Shutdown(ctx) }

func (hs *HealthServer) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (hs *HealthServer) readiness(w http.ResponseWriter, _ *http.Request) {
	if !hs.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
