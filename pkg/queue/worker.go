package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/redloop-ai/redloop/pkg/config"
	"github.com/redloop-ai/redloop/pkg/models"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and processes experiments.
type Worker struct {
	id       string
	podID    string
	store    ExperimentStore
	config   *config.QueueConfig
	executor ExperimentExecutor
	pool     ExperimentRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu                   sync.RWMutex
	status               WorkerStatus
	currentExperimentID  string
	experimentsProcessed int
	lastActivity         time.Time
}

// ExperimentRegistry is the subset of WorkerPool used by Worker for
// cancel-function registration.
type ExperimentRegistry interface {
	RegisterExperiment(experimentID string, cancel context.CancelFunc)
	UnregisterExperiment(experimentID string)
}

// NewWorker creates a new queue worker.
func NewWorker(id, podID string, st ExperimentStore, cfg *config.QueueConfig, executor ExperimentExecutor, pool ExperimentRegistry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		store:        st,
		config:       cfg,
		executor:     executor,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                   w.id,
		Status:               string(w.status),
		CurrentExperimentID:  w.currentExperimentID,
		ExperimentsProcessed: w.experimentsProcessed,
		LastActivity:         w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoExperimentsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing experiment", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims an experiment, and processes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// Global capacity check is best-effort; racy with concurrent workers
	// but bounded by WorkerCount and mitigated by poll jitter.
	activeCount, err := w.store.CountByStatus(ctx, models.StatusRunning)
	if err != nil {
		return fmt.Errorf("checking active experiments: %w", err)
	}
	if activeCount >= w.config.MaxConcurrentExperiments {
		return ErrAtCapacity
	}

	exp, err := w.store.ClaimPending(ctx)
	if err != nil {
		return fmt.Errorf("claiming experiment: %w", err)
	}
	if exp == nil {
		return ErrNoExperimentsAvailable
	}

	log := slog.With("experiment_id", exp.ID, "worker_id", w.id)
	log.Info("Experiment claimed")

	w.setStatus(WorkerStatusWorking, exp.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	expCtx, cancelExp := context.WithCancel(ctx)
	defer cancelExp()

	// Register for API-triggered cancellation.
	w.pool.RegisterExperiment(exp.ID, cancelExp)
	defer w.pool.UnregisterExperiment(exp.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(expCtx)
	go w.runHeartbeat(heartbeatCtx, exp.ID)

	err = w.executor.Execute(expCtx, exp)
	cancelHeartbeat()

	// The terminal write uses a background context because expCtx may
	// already be cancelled.
	status, errMsg := terminalOutcome(err)
	if uerr := w.store.UpdateStatus(context.Background(), exp.ID, status, errMsg); uerr != nil {
		// A cancel endpoint may have written cancelled first; the
		// transition conflict is then expected and harmless.
		if errors.Is(uerr, models.ErrConflict) {
			log.Info("Terminal status already written", "status", status)
		} else {
			log.Error("Failed to update experiment terminal status", "error", uerr)
			return uerr
		}
	}

	w.mu.Lock()
	w.experimentsProcessed++
	w.mu.Unlock()

	log.Info("Experiment processing complete", "status", status)
	return nil
}

// terminalOutcome maps an executor result to a terminal experiment status.
func terminalOutcome(err error) (models.ExperimentStatus, string) {
	switch {
	case err == nil:
		return models.StatusCompleted, ""
	case errors.Is(err, models.ErrTimeoutExceeded):
		return models.StatusFailed, "timeout exceeded"
	case errors.Is(err, context.Canceled):
		return models.StatusCancelled, "cancelled"
	default:
		return models.StatusFailed, err.Error()
	}
}

// runHeartbeat periodically refreshes last_activity_at for orphan detection.
func (w *Worker) runHeartbeat(ctx context.Context, experimentID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, experimentID); err != nil {
				slog.Warn("Heartbeat update failed", "experiment_id", experimentID, "error", err)
			}
		}
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, experimentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentExperimentID = experimentID
	w.lastActivity = time.Now()
}
