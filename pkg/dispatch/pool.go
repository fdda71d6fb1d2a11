package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/huddle/pkg/config"
	"github.com/codeready-toolchain/huddle/pkg/events"
	"github.com/codeready-toolchain/huddle/pkg/metrics"
	"github.com/codeready-toolchain/huddle/pkg/session"
)

// Pool manages the dispatch workers that drain prompt queues.
type Pool struct {
	config   *config.DispatchConfig
	sessions *session.Store
	invoker  Invoker
	bus      *events.Bus
	metrics  *metrics.Metrics
	workers  []*worker

	// In-flight invocation registry: session_id → cancel function.
	mu       sync.RWMutex
	inflight map[string]context.CancelFunc

	started     bool
	unsubscribe func()
}

// NewPool creates a dispatch pool. m may be nil (metrics disabled).
func NewPool(cfg *config.DispatchConfig, sessions *session.Store, invoker Invoker, bus *events.Bus, m *metrics.Metrics) *Pool {
	return &Pool{
		config:   cfg,
		sessions: sessions,
		invoker:  invoker,
		bus:      bus,
		metrics:  m,
		workers:  make([]*worker, 0, cfg.Workers),
		inflight: make(map[string]context.CancelFunc),
	}
}

// Start spawns the worker goroutines and wires deletion-triggered
// cancellation. It is safe to call multiple times; subsequent calls
// are no-ops.
func (p *Pool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Dispatch pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	slog.Info("Starting dispatch pool", "workers", p.config.Workers)

	// Deleting a session aborts its in-flight invocation.
	p.unsubscribe = p.bus.Subscribe(func(evt events.Event) {
		if del, ok := evt.(events.SessionDeleted); ok {
			p.CancelInvocation(del.SessionID)
		}
	})

	for i := 0; i < p.config.Workers; i++ {
		w := newWorker(fmt.Sprintf("dispatch-worker-%d", i), p)
		p.workers = append(p.workers, w)
		w.start(ctx)
	}

	slog.Info("Dispatch pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish their
// current dispatch. Invocations still in flight when the graceful
// shutdown timeout elapses are cancelled.
func (p *Pool) Stop() {
	if !p.started {
		return
	}

	slog.Info("Stopping dispatch pool gracefully")

	if p.unsubscribe != nil {
		p.unsubscribe()
	}

	if ids := p.inflightSessionIDs(); len(ids) > 0 {
		slog.Info("Waiting for in-flight invocations to finish",
			"count", len(ids),
			"session_ids", ids)
	}

	for _, w := range p.workers {
		w.signalStop()
	}

	done := make(chan struct{})
	go func() {
		for _, w := range p.workers {
			w.wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.config.GracefulShutdownTimeout):
		slog.Warn("Shutdown grace period elapsed, cancelling in-flight invocations")
		p.cancelAll()
		<-done
	}

	slog.Info("Dispatch pool stopped gracefully")
}

// CancelInvocation aborts the in-flight invocation for a session.
// Returns true if one was found and cancelled.
func (p *Pool) CancelInvocation(sessionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.inflight[sessionID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *Pool) Health() PoolHealth {
	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, w := range p.workers {
		stats := w.health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	p.mu.RLock()
	inflight := len(p.inflight)
	p.mu.RUnlock()

	return PoolHealth{
		IsHealthy:           p.started && len(p.workers) > 0,
		ActiveWorkers:       activeWorkers,
		TotalWorkers:        len(p.workers),
		RunnableSessions:    len(p.sessions.Runnable()),
		InflightInvocations: inflight,
		WorkerStats:         workerStats,
	}
}

// registerInflight stores a cancel function for the duration of one
// invocation.
func (p *Pool) registerInflight(sessionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight[sessionID] = cancel
}

// unregisterInflight removes the cancel function when the invocation ends.
func (p *Pool) unregisterInflight(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, sessionID)
}

// cancelAll aborts every in-flight invocation (shutdown deadline hit).
func (p *Pool) cancelAll() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, cancel := range p.inflight {
		cancel()
	}
}

// inflightSessionIDs returns IDs of sessions with invocations in flight
// (for logging).
func (p *Pool) inflightSessionIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.inflight))
	for id := range p.inflight {
		ids = append(ids, id)
	}
	return ids
}
