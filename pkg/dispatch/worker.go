package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/codeready-toolchain/huddle/pkg/models"
)

// worker is a single dispatch goroutine: it polls for runnable
// sessions, claims queue heads, and drives the agent invocation.
type worker struct {
	id       string
	pool     *Pool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu                sync.RWMutex
	status            WorkerStatus
	currentSessionID  string
	promptsDispatched int
	lastActivity      time.Time
}

func newWorker(id string, pool *Pool) *worker {
	return &worker{
		id:           id,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// start begins the worker polling loop in a goroutine.
func (w *worker) start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// signalStop asks the worker to exit after its current dispatch.
func (w *worker) signalStop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// wait blocks until the polling loop has exited.
func (w *worker) wait() {
	w.wg.Wait()
}

// health returns the worker's slice of the pool snapshot.
func (w *worker) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                w.id,
		Status:            string(w.status),
		CurrentSessionID:  w.currentSessionID,
		PromptsDispatched: w.promptsDispatched,
		LastActivity:      w.lastActivity,
	}
}

// run is the main worker loop.
func (w *worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Dispatch worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Dispatch worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, dispatch worker shutting down")
			return
		default:
			if err := w.pollAndDispatch(ctx); err != nil {
				if errors.Is(err, ErrNothingRunnable) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error dispatching prompt", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndDispatch scans for runnable sessions, claims the first queue
// head it can, and runs the invocation to completion.
func (w *worker) pollAndDispatch(ctx context.Context) error {
	// 1. Scan for sessions with a claimable queue head.
	runnable := w.pool.sessions.Runnable()
	if len(runnable) == 0 {
		return ErrNothingRunnable
	}

	// 2. Claim one. Another worker may win any given session, and a
	//    session can vanish between scan and claim; keep trying the
	//    rest of the scan before backing off.
	for _, sessionID := range runnable {
		prompt, err := w.pool.sessions.StartNext(sessionID)
		if err != nil || prompt == nil {
			continue
		}
		w.dispatch(ctx, sessionID, *prompt)
		return nil
	}
	return ErrNothingRunnable
}

// dispatch runs one claimed prompt through the invoker and completes
// it. A failed invocation must not wedge the queue head: the prompt
// completes regardless so the next one can run.
func (w *worker) dispatch(ctx context.Context, sessionID string, prompt models.Prompt) {
	log := slog.With("worker_id", w.id, "session_id", sessionID, "prompt_id", prompt.PromptID)
	log.Info("Prompt claimed")

	w.setStatus(WorkerStatusWorking, sessionID)
	defer w.setStatus(WorkerStatusIdle, "")

	inv := Invocation{
		SessionID: sessionID,
		PromptID:  prompt.PromptID,
		Prompt:    prompt.Content,
	}
	if sess, err := w.pool.sessions.Get(sessionID); err == nil {
		inv.ExternalSessionID = sess.ExternalSessionID
		inv.SandboxID = sess.SandboxID
	}

	// 1. Bound the call and register it for deletion-triggered cancellation.
	invokeCtx, cancel := context.WithTimeout(ctx, w.pool.config.InvokeTimeout)
	defer cancel()
	w.pool.registerInflight(sessionID, cancel)
	defer w.pool.unregisterInflight(sessionID)

	// 2. Make the opaque agent call.
	result, err := w.pool.invoker.Invoke(invokeCtx, inv)
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(invokeCtx.Err(), context.DeadlineExceeded):
		outcome = "timeout"
		log.Error("Agent invocation timed out", "timeout", w.pool.config.InvokeTimeout)
	case errors.Is(invokeCtx.Err(), context.Canceled):
		outcome = "cancelled"
		log.Info("Agent invocation cancelled")
	default:
		outcome = "error"
		log.Error("Agent invocation failed", "error", err)
	}
	w.pool.metrics.ObserveInvocation(outcome)

	// 3. Complete regardless of the invocation outcome. The session may
	//    have been deleted mid-flight; that only means there is nothing
	//    left to complete.
	if _, err := w.pool.sessions.Complete(sessionID); err != nil {
		log.Warn("Completing prompt failed", "error", err)
	}

	w.mu.Lock()
	w.promptsDispatched++
	w.mu.Unlock()

	if err == nil {
		log.Info("Prompt dispatched", "status", result.Status)
	}
}

// pollInterval returns the poll duration with jitter.
func (w *worker) pollInterval() time.Duration {
	base := w.pool.config.PollInterval
	jitter := w.pool.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *worker) setStatus(status WorkerStatus, sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentSessionID = sessionID
	w.lastActivity = time.Now()
}
