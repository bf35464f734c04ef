// Package store is the persistence gateway. Every operation either fully
// commits or has no observable effect; multi-row writes run in a single
// transaction.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redloop-ai/redloop/pkg/models"
)

// Store runs all persistence operations over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store over an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

const experimentColumns = `id, name, description,
	attacker_provider, attacker_model, target_provider, target_model,
	judge_provider, judge_model, seed_prompts, strategies,
	max_iterations, max_concurrent_attacks, success_threshold, timeout_seconds,
	status, error_message, created_at, started_at, completed_at, last_activity_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*models.Experiment, error) {
	var e models.Experiment
	var seeds, strategies []byte
	err := row.Scan(
		&e.ID, &e.Name, &e.Description,
		&e.Attacker.Provider, &e.Attacker.Model,
		&e.Target.Provider, &e.Target.Model,
		&e.Judge.Provider, &e.Judge.Model,
		&seeds, &strategies,
		&e.MaxIterations, &e.MaxConcurrentAttacks, &e.SuccessThreshold, &e.TimeoutSeconds,
		&e.Status, &e.ErrorMessage,
		&e.CreatedAt, &e.StartedAt, &e.CompletedAt, &e.LastActivityAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(seeds, &e.SeedPrompts); err != nil {
		return nil, fmt.Errorf("failed to decode seed prompts: %w", err)
	}
	if err := json.Unmarshal(strategies, &e.Strategies); err != nil {
		return nil, fmt.Errorf("failed to decode strategies: %w", err)
	}
	return &e, nil
}

// CreateExperiment inserts a pending experiment, assigning id and
// created_at when unset.
func (s *Store) CreateExperiment(ctx context.Context, e *models.Experiment) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = models.StatusPending
	}

	seeds, err := json.Marshal(e.SeedPrompts)
	if err != nil {
		return fmt.Errorf("failed to encode seed prompts: %w", err)
	}
	strategies, err := json.Marshal(e.Strategies)
	if err != nil {
		return fmt.Errorf("failed to encode strategies: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO experiments (id, name, description,
			attacker_provider, attacker_model, target_provider, target_model,
			judge_provider, judge_model, seed_prompts, strategies,
			max_iterations, max_concurrent_attacks, success_threshold, timeout_seconds,
			status, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		e.ID, e.Name, e.Description,
		e.Attacker.Provider, e.Attacker.Model,
		e.Target.Provider, e.Target.Model,
		e.Judge.Provider, e.Judge.Model,
		seeds, strategies,
		e.MaxIterations, e.MaxConcurrentAttacks, e.SuccessThreshold, e.TimeoutSeconds,
		e.Status, e.ErrorMessage, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create experiment: %w", err)
	}
	return nil
}

// GetExperiment fetches one experiment by id.
func (s *Store) GetExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE id = $1`, id)
	e, err := scanExperiment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: experiment %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return e, nil
}

// ListFilter pages and filters the experiment list.
type ListFilter struct {
	Status models.ExperimentStatus
	Limit  int
	Offset int
}

// ListExperiments returns experiments newest first, optionally filtered by
// status, plus the total count for the filter.
func (s *Store) ListExperiments(ctx context.Context, f ListFilter) ([]*models.Experiment, int, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}

	where := ""
	args := []any{}
	if f.Status != "" {
		where = " WHERE status = $1"
		args = append(args, f.Status)
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM experiments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count experiments: %w", err)
	}

	query := `SELECT ` + experimentColumns + ` FROM experiments` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var out []*models.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan experiment: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// UpdateStatus transitions an experiment's status, enforcing the lifecycle
// state machine. Illegal transitions return ErrConflict; terminal states
// absorb silently only for cancellation (handled by the caller).
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.ExperimentStatus, errMsg string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var current models.ExperimentStatus
		err := tx.QueryRow(ctx,
			`SELECT status FROM experiments WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: experiment %s", models.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to lock experiment: %w", err)
		}
		if !models.CanTransition(current, status) {
			return fmt.Errorf("%w: cannot transition %s from %s to %s",
				models.ErrConflict, id, current, status)
		}

		set := `status = $2, error_message = $3, last_activity_at = now()`
		if status == models.StatusRunning {
			set += `, started_at = now()`
		}
		if status.Terminal() {
			set += `, completed_at = now()`
		}
		_, err = tx.Exec(ctx,
			`UPDATE experiments SET `+set+` WHERE id = $1`, id, status, errMsg)
		if err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		return nil
	})
}

// ClaimPending atomically claims the oldest pending experiment for a
// worker, marking it running. Returns (nil, nil) when the queue is empty.
// SKIP LOCKED keeps concurrent workers from claiming the same row.
func (s *Store) ClaimPending(ctx context.Context) (*models.Experiment, error) {
	var claimed *models.Experiment
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+experimentColumns+`
			FROM experiments
			WHERE status = 'pending'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1`)
		e, err := scanExperiment(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to claim experiment: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE experiments
			SET status = 'running', started_at = now(), last_activity_at = now()
			WHERE id = $1`, e.ID)
		if err != nil {
			return fmt.Errorf("failed to mark experiment running: %w", err)
		}
		e.Status = models.StatusRunning
		claimed = e
		return nil
	})
	return claimed, err
}

// CountByStatus returns the number of experiments in one status. Workers
// use it for capacity checks and queue depth reporting.
func (s *Store) CountByStatus(ctx context.Context, status models.ExperimentStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM experiments WHERE status = $1`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count experiments: %w", err)
	}
	return n, nil
}

// Heartbeat refreshes a running experiment's liveness timestamp.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE experiments SET last_activity_at = now()
		WHERE id = $1 AND status = 'running'`, id)
	if err != nil {
		return fmt.Errorf("failed to heartbeat experiment: %w", err)
	}
	return nil
}

// RecoverOrphans fails running experiments whose heartbeat is older than
// threshold. Runs at worker pool startup and on the periodic orphan scan;
// the update is idempotent across pods.
func (s *Store) RecoverOrphans(ctx context.Context, threshold time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE experiments
		SET status = 'failed',
		    error_message = 'orphaned: worker heartbeat lost',
		    completed_at = now()
		WHERE status = 'running'
		  AND (last_activity_at IS NULL OR last_activity_at < now() - $1::interval)`,
		fmt.Sprintf("%d seconds", int(threshold.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to recover orphaned experiments: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteExpired removes terminal experiments older than maxAge together
// with their iterations (FK cascade) and promoted vulnerabilities.
// Returns the number of experiments removed. Safe to run from multiple
// pods concurrently.
func (s *Store) DeleteExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	interval := fmt.Sprintf("%d seconds", int(maxAge.Seconds()))
	var removed int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Vulnerabilities hold weak references, so no cascade covers them.
		_, err := tx.Exec(ctx, `
			DELETE FROM vulnerabilities v
			USING experiments e
			WHERE v.experiment_id = e.id
			  AND e.status IN ('completed', 'failed', 'cancelled')
			  AND e.created_at < now() - $1::interval`, interval)
		if err != nil {
			return fmt.Errorf("failed to delete expired vulnerabilities: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			DELETE FROM experiments
			WHERE status IN ('completed', 'failed', 'cancelled')
			  AND created_at < now() - $1::interval`, interval)
		if err != nil {
			return fmt.Errorf("failed to delete expired experiments: %w", err)
		}
		removed = int(tag.RowsAffected())
		return nil
	})
	return removed, err
}
