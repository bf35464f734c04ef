// Package queue provides experiment queue management and processing
// infrastructure. Workers poll the database for pending experiments, claim
// them with SKIP LOCKED, and hand them to the executor.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redloop-ai/redloop/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoExperimentsAvailable indicates no pending experiments are queued.
	ErrNoExperimentsAvailable = errors.New("no experiments available")

	// ErrAtCapacity indicates the global concurrent experiment limit has
	// been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// ExperimentStore is the persistence surface workers need: claiming,
// liveness, terminal status writes, and capacity counts.
type ExperimentStore interface {
	ClaimPending(ctx context.Context) (*models.Experiment, error)
	Heartbeat(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status models.ExperimentStatus, errMsg string) error
	CountByStatus(ctx context.Context, status models.ExperimentStatus) (int, error)
	RecoverOrphans(ctx context.Context, threshold time.Duration) (int, error)
}

// ExperimentExecutor runs one claimed experiment to completion.
//
// The executor owns the entire run internally: seed loops, LLM calls,
// iteration persistence, and vulnerability promotion all happen inside
// Execute. The worker only handles claiming, heartbeat, and the terminal
// status write. A nil return maps to completed; context cancellation maps
// to cancelled; everything else maps to failed.
type ExperimentExecutor interface {
	Execute(ctx context.Context, exp *models.Experiment) error
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy         bool           `json:"is_healthy"`
	DBReachable       bool           `json:"db_reachable"`
	DBError           string         `json:"db_error,omitempty"`
	PodID             string         `json:"pod_id"`
	ActiveWorkers     int            `json:"active_workers"`
	TotalWorkers      int            `json:"total_workers"`
	ActiveExperiments int            `json:"active_experiments"`
	MaxConcurrent     int            `json:"max_concurrent"`
	QueueDepth        int            `json:"queue_depth"`
	WorkerStats       []WorkerHealth `json:"worker_stats"`
	LastOrphanScan    time.Time      `json:"last_orphan_scan"`
	OrphansRecovered  int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID                   string    `json:"id"`
	Status               string    `json:"status"` // "idle" or "working"
	CurrentExperimentID  string    `json:"current_experiment_id,omitempty"`
	ExperimentsProcessed int       `json:"experiments_processed"`
	LastActivity         time.Time `json:"last_activity"`
}
