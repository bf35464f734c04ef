package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redloop-ai/redloop/pkg/config"
	"github.com/redloop-ai/redloop/pkg/events"
	"github.com/redloop-ai/redloop/pkg/models"
)

// busGracePeriod keeps an experiment's event bus alive after the terminal
// status so WebSocket clients can receive the final events.
const busGracePeriod = 60 * time.Second

// WorkerPool manages a pool of queue workers.
type WorkerPool struct {
	podID    string
	store    ExperimentStore
	config   *config.QueueConfig
	executor ExperimentExecutor
	hub      *events.Hub
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Experiment cancel registry: experiment_id → cancel function
	activeExperiments map[string]context.CancelFunc
	mu                sync.RWMutex
	started           bool

	// Orphan detection state
	orphans orphanState
}

// NewWorkerPool creates a new worker pool. hub may be nil (no bus cleanup).
func NewWorkerPool(podID string, st ExperimentStore, cfg *config.QueueConfig, executor ExperimentExecutor, hub *events.Hub) *WorkerPool {
	return &WorkerPool{
		podID:             podID,
		store:             st,
		config:            cfg,
		executor:          executor,
		hub:               hub,
		workers:           make([]*Worker, 0, cfg.WorkerCount),
		stopCh:            make(chan struct{}),
		activeExperiments: make(map[string]context.CancelFunc),
	}
}

// Start recovers orphans from a previous run, then spawns worker goroutines
// and the periodic orphan scan. It is safe to call multiple times;
// subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	n, err := p.store.RecoverOrphans(ctx, p.config.OrphanThreshold)
	if err != nil {
		return fmt.Errorf("startup orphan recovery failed: %w", err)
	}
	if n > 0 {
		slog.Warn("Recovered orphaned experiments from previous run", "count", n)
		p.orphans.record(n)
	}

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.store, p.config, p.executor, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// Workers finish their current experiments before exiting.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.getActiveExperimentIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active experiments to complete",
			"count", len(active),
			"experiment_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// RegisterExperiment stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterExperiment(experimentID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeExperiments[experimentID] = cancel
}

// UnregisterExperiment removes the cancel function when processing ends and
// schedules the experiment's event bus for removal after a grace period.
func (p *WorkerPool) UnregisterExperiment(experimentID string) {
	p.mu.Lock()
	delete(p.activeExperiments, experimentID)
	p.mu.Unlock()

	if p.hub != nil {
		time.AfterFunc(busGracePeriod, func() {
			p.hub.Remove(experimentID)
		})
	}
}

// CancelExperiment triggers context cancellation for an experiment running
// on this pod. Returns true if it was found and cancelled here.
func (p *WorkerPool) CancelExperiment(experimentID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeExperiments[experimentID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, errQ := p.store.CountByStatus(ctx, models.StatusPending)
	if errQ != nil {
		slog.Error("Failed to query queue depth for health check",
			"pod_id", p.podID, "error", errQ)
	}

	activeExperiments, errA := p.store.CountByStatus(ctx, models.StatusRunning)
	if errA != nil {
		slog.Error("Failed to query active experiments for health check",
			"pod_id", p.podID, "error", errA)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	// DB errors affect health status; unreachable storage means not healthy.
	dbHealthy := errQ == nil && errA == nil
	isHealthy := len(p.workers) > 0 && activeExperiments <= p.config.MaxConcurrentExperiments && dbHealthy

	lastScan, recovered := p.orphans.snapshot()

	var dbError string
	if !dbHealthy {
		if errQ != nil {
			dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
		} else {
			dbError = fmt.Sprintf("active experiments query failed: %v", errA)
		}
	}

	return &PoolHealth{
		IsHealthy:         isHealthy,
		DBReachable:       dbHealthy,
		DBError:           dbError,
		PodID:             p.podID,
		ActiveWorkers:     activeWorkers,
		TotalWorkers:      len(p.workers),
		ActiveExperiments: activeExperiments,
		MaxConcurrent:     p.config.MaxConcurrentExperiments,
		QueueDepth:        queueDepth,
		WorkerStats:       workerStats,
		LastOrphanScan:    lastScan,
		OrphansRecovered:  recovered,
	}
}

// getActiveExperimentIDs returns ids of currently processing experiments.
func (p *WorkerPool) getActiveExperimentIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeExperiments))
	for id := range p.activeExperiments {
		ids = append(ids, id)
	}
	return ids
}
