package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/redloop-ai/redloop/pkg/models"
)

// CreateVulnerability records a promoted finding.
func (s *Store) CreateVulnerability(ctx context.Context, v *models.Vulnerability) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vulnerabilities (id, experiment_id, iteration_id, severity,
			strategy, reproducer, target_reply, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.ExperimentID, v.IterationID, v.Severity,
		v.Strategy, v.Reproducer, v.TargetReply, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create vulnerability: %w", err)
	}
	return nil
}

// ListVulnerabilities returns an experiment's findings oldest first.
func (s *Store) ListVulnerabilities(ctx context.Context, experimentID string) ([]*models.Vulnerability, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, experiment_id, iteration_id, severity, strategy,
			reproducer, target_reply, created_at
		FROM vulnerabilities
		WHERE experiment_id = $1
		ORDER BY created_at`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vulnerabilities: %w", err)
	}
	defer rows.Close()

	var out []*models.Vulnerability
	for rows.Next() {
		var v models.Vulnerability
		err := rows.Scan(&v.ID, &v.ExperimentID, &v.IterationID, &v.Severity,
			&v.Strategy, &v.Reproducer, &v.TargetReply, &v.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vulnerability: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}
