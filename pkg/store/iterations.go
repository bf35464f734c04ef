package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/redloop-ai/redloop/pkg/models"
)

// AppendIteration writes an iteration, its mutation and its judge score in
// one transaction. Ids are assigned when unset; the mutation and score are
// bound to the iteration.
func (s *Store) AppendIteration(ctx context.Context, iter *models.AttackIteration, mut *models.PromptMutation, score *models.JudgeScore) error {
	now := time.Now().UTC()
	if iter.ID == "" {
		iter.ID = uuid.New().String()
	}
	if iter.CreatedAt.IsZero() {
		iter.CreatedAt = now
	}
	if mut.ID == "" {
		mut.ID = uuid.New().String()
	}
	if mut.CreatedAt.IsZero() {
		mut.CreatedAt = now
	}
	if score.ID == "" {
		score.ID = uuid.New().String()
	}
	if score.CreatedAt.IsZero() {
		score.CreatedAt = now
	}
	mut.IterationID = iter.ID
	score.IterationID = iter.ID

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO attack_iterations (id, experiment_id, seed_index, iteration_number,
				intended_strategy, executed_strategy, strategy_fallback_occurred, fallback_reason,
				original_prompt, mutated_prompt, target_reply,
				overall_score, judge_reasoning, success, latency_ms, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			iter.ID, iter.ExperimentID, iter.SeedIndex, iter.IterationNumber,
			iter.IntendedStrategy, iter.ExecutedStrategy, iter.StrategyFallbackOccurred, iter.FallbackReason,
			iter.OriginalPrompt, iter.MutatedPrompt, iter.TargetReply,
			iter.OverallScore, iter.JudgeReasoning, iter.Success, iter.LatencyMS, iter.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert iteration: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO prompt_mutations (id, iteration_id, input_prompt, output_prompt,
				strategy, attacker_model, attacker_tokens, attacker_latency_ms, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			mut.ID, mut.IterationID, mut.InputPrompt, mut.OutputPrompt,
			mut.Strategy, mut.AttackerModel, mut.AttackerTokens, mut.AttackerLatencyMS, mut.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert mutation: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO judge_scores (id, iteration_id, jailbreak_success, harmful_content,
				hallucination, bias, logical_consistency, sycophancy, policy_violation,
				overall, confidence, reasoning, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			score.ID, score.IterationID, score.JailbreakSuccess, score.HarmfulContent,
			score.Hallucination, score.Bias, score.LogicalConsistency, score.Sycophancy,
			score.PolicyViolation, score.Overall, score.Confidence, score.Reasoning, score.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert judge score: %w", err)
		}
		return nil
	})
}

// ListIterations returns an experiment's iterations in insertion order.
func (s *Store) ListIterations(ctx context.Context, experimentID string) ([]*models.AttackIteration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, experiment_id, seed_index, iteration_number,
			intended_strategy, executed_strategy, strategy_fallback_occurred, fallback_reason,
			original_prompt, mutated_prompt, target_reply,
			overall_score, judge_reasoning, success, latency_ms, created_at
		FROM attack_iterations
		WHERE experiment_id = $1
		ORDER BY created_at, seed_index, iteration_number`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list iterations: %w", err)
	}
	defer rows.Close()

	var out []*models.AttackIteration
	for rows.Next() {
		var it models.AttackIteration
		err := rows.Scan(
			&it.ID, &it.ExperimentID, &it.SeedIndex, &it.IterationNumber,
			&it.IntendedStrategy, &it.ExecutedStrategy, &it.StrategyFallbackOccurred, &it.FallbackReason,
			&it.OriginalPrompt, &it.MutatedPrompt, &it.TargetReply,
			&it.OverallScore, &it.JudgeReasoning, &it.Success, &it.LatencyMS, &it.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

// GetJudgeScore returns the score bound to one iteration.
func (s *Store) GetJudgeScore(ctx context.Context, iterationID string) (*models.JudgeScore, error) {
	var sc models.JudgeScore
	err := s.pool.QueryRow(ctx, `
		SELECT id, iteration_id, jailbreak_success, harmful_content, hallucination,
			bias, logical_consistency, sycophancy, policy_violation,
			overall, confidence, reasoning, created_at
		FROM judge_scores WHERE iteration_id = $1`, iterationID).Scan(
		&sc.ID, &sc.IterationID, &sc.JailbreakSuccess, &sc.HarmfulContent, &sc.Hallucination,
		&sc.Bias, &sc.LogicalConsistency, &sc.Sycophancy, &sc.PolicyViolation,
		&sc.Overall, &sc.Confidence, &sc.Reasoning, &sc.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: judge score for iteration %s", models.ErrNotFound, iterationID)
		}
		return nil, fmt.Errorf("failed to get judge score: %w", err)
	}
	return &sc, nil
}
