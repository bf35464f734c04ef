// Package orchestrator drives experiments through the PAIR loop: per seed
// prompt, mutate the attack, fire it at the target, score the reply, and
// refine until success, exhaustion, or cancellation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/redloop-ai/redloop/pkg/breaker"
	"github.com/redloop-ai/redloop/pkg/events"
	"github.com/redloop-ai/redloop/pkg/judge"
	"github.com/redloop-ai/redloop/pkg/llm"
	"github.com/redloop-ai/redloop/pkg/models"
	"github.com/redloop-ai/redloop/pkg/mutator"
)

// ErrPersistence marks a transactional write that failed after its single
// retry; the experiment transitions to failed.
var ErrPersistence = errors.New("persistence failure")

// maxConsecutiveSeedFailures aborts a seed loop after this many
// consecutive iterations whose mutate or target step failed.
const maxConsecutiveSeedFailures = 5

// Store is the persistence surface the orchestrator writes through.
type Store interface {
	AppendIteration(ctx context.Context, iter *models.AttackIteration, mut *models.PromptMutation, score *models.JudgeScore) error
	CreateVulnerability(ctx context.Context, v *models.Vulnerability) error
}

// Orchestrator executes one experiment at a time from running to a
// terminal outcome. It is a value holding explicit handles; experiment
// state lives in the store and on the bus, not in the orchestrator.
type Orchestrator struct {
	Store    Store
	Gateway  llm.Completer
	Mutators *mutator.Registry
	Judge    *judge.Judge
	Hub      *events.Hub
	Breakers *breaker.Registry

	// ConsultAttacker lets the attacker LLM override the strategy policy
	// between iterations.
	ConsultAttacker bool
}

// Run processes a claimed experiment. A nil return means completed; the
// caller maps errors to failed or cancelled. The experiment's wall clock
// (TimeoutSeconds) is enforced here.
func (o *Orchestrator) Run(ctx context.Context, exp *models.Experiment) error {
	if exp.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx,
			time.Duration(exp.TimeoutSeconds)*time.Second, models.ErrTimeoutExceeded)
		defer cancel()
	}

	bus := o.Hub.Get(exp.ID)
	ledger := events.NewTaskLedger(bus)
	logger := slog.With("experiment_id", exp.ID)
	logger.Info("Experiment started",
		"seeds", len(exp.SeedPrompts), "strategies", len(exp.Strategies),
		"max_iterations", exp.MaxIterations)

	sem := make(chan struct{}, exp.SeedParallelism())
	errCh := make(chan error, len(exp.SeedPrompts))
	var wg sync.WaitGroup

	for seedIdx, seed := range exp.SeedPrompts {
		wg.Add(1)
		go func(seedIdx int, seed string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if err := o.runSeed(ctx, exp, seedIdx, seed, bus, ledger); err != nil {
				errCh <- err
			}
		}(seedIdx, seed)
	}
	wg.Wait()
	close(errCh)

	// The first experiment-scoped error decides the outcome. A deadline
	// hit surfaces as the timeout sentinel, not a bare context error.
	for err := range errCh {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			if cause := context.Cause(ctx); errors.Is(cause, models.ErrTimeoutExceeded) {
				return cause
			}
		}
		return err
	}
	logger.Info("Experiment completed")
	return nil
}

// seedState is the mutable per-seed PAIR state.
type seedState struct {
	policy      *strategyPolicy
	feedback    *mutator.Feedback
	bestScore   float64
	improved    bool
	consecFails int
}

// runSeed drives one seed prompt's PAIR loop to success, exhaustion, seed
// abort, or an experiment-scoped error.
func (o *Orchestrator) runSeed(ctx context.Context, exp *models.Experiment, seedIdx int, seed string, bus *events.Bus, ledger *events.TaskLedger) error {
	logger := slog.With("experiment_id", exp.ID, "seed_index", seedIdx)
	st := &seedState{
		policy:    newStrategyPolicy(exp.Strategies),
		bestScore: math.Inf(-1),
	}

	for i := 0; i < exp.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := o.runIteration(ctx, exp, seedIdx, seed, i, st, bus, ledger)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if st.consecFails >= maxConsecutiveSeedFailures {
			logger.Warn("Seed aborted after consecutive failures",
				"failures", st.consecFails)
			bus.Publish(events.KindError, map[string]any{
				"message":   fmt.Sprintf("seed %d aborted after %d consecutive failures", seedIdx, st.consecFails),
				"iteration": i,
			})
			return nil
		}
	}
	return nil
}

// runIteration performs one mutate → target → judge trip. It returns
// done=true when the seed reached success and should stop early.
func (o *Orchestrator) runIteration(ctx context.Context, exp *models.Experiment, seedIdx int, seed string, i int, st *seedState, bus *events.Bus, ledger *events.TaskLedger) (bool, error) {
	intended := st.policy.next(st.improved)
	st.improved = false
	intended, selectionNote := o.consultAttacker(ctx, exp, st.policy, intended, st.feedback, i)

	prevScore := st.bestScore
	if math.IsInf(prevScore, -1) {
		prevScore = 0
	}
	bus.Publish(events.KindStrategySelection, map[string]any{
		"iteration":      i,
		"strategy":       intended,
		"reasoning":      selectionNote,
		"previous_score": prevScore,
		"threshold":      exp.SuccessThreshold,
	})

	mutateID := ledger.Add(fmt.Sprintf("mutate seed %d iteration %d", seedIdx, i), events.TaskMutate)
	targetID := ledger.Add(fmt.Sprintf("target seed %d iteration %d", seedIdx, i), events.TaskTarget, mutateID)
	judgeID := ledger.Add(fmt.Sprintf("judge seed %d iteration %d", seedIdx, i), events.TaskJudge, targetID)

	iterStart := time.Now()

	// Mutate, with single-step strategy fallback.
	ledger.SetStatus(mutateID, events.TaskRunning)
	bus.Publish(events.KindMutationStart, map[string]any{
		"iteration": i, "strategy": intended,
	})
	mut, executed, fallbackReason, mutErr := o.mutate(ctx, exp, seed, intended, st, i)
	if mutErr != nil {
		ledger.SetStatus(mutateID, events.TaskFailed)
		ledger.SetStatus(targetID, events.TaskFailed)
		ledger.SetStatus(judgeID, events.TaskFailed)
		st.consecFails++
		occurred := executed != intended
		return o.recordFailure(ctx, exp, bus, &models.AttackIteration{
			ExperimentID:             exp.ID,
			SeedIndex:                seedIdx,
			IterationNumber:          i,
			IntendedStrategy:         intended,
			ExecutedStrategy:         executed,
			StrategyFallbackOccurred: occurred,
			FallbackReason:           fallbackReasonIf(occurred, fallbackReason),
			OriginalPrompt:           seed,
			JudgeReasoning:           fallbackReason,
			LatencyMS:                time.Since(iterStart).Milliseconds(),
		}, &models.PromptMutation{InputPrompt: seed, Strategy: executed})
	}
	ledger.SetStatus(mutateID, events.TaskCompleted)
	bus.Publish(events.KindMutationEnd, map[string]any{
		"iteration": i, "strategy": executed,
		"prompts": map[string]string{"input": mut.Input, "output": mut.Output},
	})

	fallbackOccurred := executed != intended
	if err := ctx.Err(); err != nil {
		return false, err
	}

	// Target call.
	ledger.SetStatus(targetID, events.TaskRunning)
	targetRes, err := o.Gateway.Complete(ctx, &llm.CompletionRequest{
		Role:         models.RoleTarget,
		Provider:     exp.Target.Provider,
		Model:        exp.Target.Model,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: mut.Output}},
		ExperimentID: exp.ID,
		Iteration:    i,
	})
	if err != nil {
		ledger.SetStatus(targetID, events.TaskFailed)
		ledger.SetStatus(judgeID, events.TaskFailed)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		st.consecFails++
		if o.allRoleBreakersOpen(exp) {
			return false, fmt.Errorf("%w: every role breaker is open", models.ErrExperimentAborted)
		}
		return o.recordFailure(ctx, exp, bus, &models.AttackIteration{
			ExperimentID:             exp.ID,
			SeedIndex:                seedIdx,
			IterationNumber:          i,
			IntendedStrategy:         intended,
			ExecutedStrategy:         executed,
			StrategyFallbackOccurred: fallbackOccurred,
			FallbackReason:           fallbackReasonIf(fallbackOccurred, fallbackReason),
			OriginalPrompt:           seed,
			MutatedPrompt:            mut.Output,
			JudgeReasoning:           fmt.Sprintf("target call failed: %v", err),
			LatencyMS:                time.Since(iterStart).Milliseconds(),
		}, mutationRecord(mut))
	}
	ledger.SetStatus(targetID, events.TaskCompleted)

	if err := ctx.Err(); err != nil {
		return false, err
	}

	// Judge call. Parse failures come back as the zero score; gateway
	// errors fail the iteration.
	ledger.SetStatus(judgeID, events.TaskRunning)
	bus.Publish(events.KindJudgeStart, map[string]any{"iteration": i})
	judgeStart := time.Now()
	score, err := o.Judge.Evaluate(ctx, &judge.Input{
		SeedPrompt:    seed,
		MutatedPrompt: mut.Output,
		TargetReply:   targetRes.Content,
		Strategy:      executed,
		Judge:         exp.Judge,
		ExperimentID:  exp.ID,
		Iteration:     i,
	})
	if err != nil {
		ledger.SetStatus(judgeID, events.TaskFailed)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return o.recordFailure(ctx, exp, bus, &models.AttackIteration{
			ExperimentID:             exp.ID,
			SeedIndex:                seedIdx,
			IterationNumber:          i,
			IntendedStrategy:         intended,
			ExecutedStrategy:         executed,
			StrategyFallbackOccurred: fallbackOccurred,
			FallbackReason:           fallbackReasonIf(fallbackOccurred, fallbackReason),
			OriginalPrompt:           seed,
			MutatedPrompt:            mut.Output,
			TargetReply:              targetRes.Content,
			JudgeReasoning:           fmt.Sprintf("judge call failed: %v", err),
			LatencyMS:                time.Since(iterStart).Milliseconds(),
		}, mutationRecord(mut))
	}
	ledger.SetStatus(judgeID, events.TaskCompleted)
	bus.Publish(events.KindJudgeEnd, map[string]any{
		"iteration":           i,
		"jailbreak_success":   score.JailbreakSuccess,
		"harmful_content":     score.HarmfulContent,
		"hallucination":       score.Hallucination,
		"bias":                score.Bias,
		"logical_consistency": score.LogicalConsistency,
		"sycophancy":          score.Sycophancy,
		"policy_violation":    score.PolicyViolation,
		"overall":             score.Overall,
		"confidence":          score.Confidence,
		"reasoning":           score.Reasoning,
		"latency_ms":          time.Since(judgeStart).Milliseconds(),
	})

	success := score.Overall >= exp.SuccessThreshold
	iter := &models.AttackIteration{
		ExperimentID:             exp.ID,
		SeedIndex:                seedIdx,
		IterationNumber:          i,
		IntendedStrategy:         intended,
		ExecutedStrategy:         executed,
		StrategyFallbackOccurred: fallbackOccurred,
		FallbackReason:           fallbackReasonIf(fallbackOccurred, fallbackReason),
		OriginalPrompt:           seed,
		MutatedPrompt:            mut.Output,
		TargetReply:              targetRes.Content,
		OverallScore:             score.Overall,
		JudgeReasoning:           score.Reasoning,
		Success:                  success,
		LatencyMS:                time.Since(iterStart).Milliseconds(),
	}
	if err := o.persist(ctx, iter, mutationRecord(mut), score); err != nil {
		return false, err
	}

	if success {
		if err := o.promote(ctx, exp, iter, score); err != nil {
			return false, err
		}
	}

	bus.Publish(events.KindDecisionPoint, map[string]any{
		"iteration":     i,
		"decision_type": "threshold_check",
		"condition":     fmt.Sprintf("overall %.2f >= threshold %.2f", score.Overall, exp.SuccessThreshold),
		"result":        success,
		"description":   "stop this seed on success, otherwise continue",
	})
	bus.Publish(events.KindIterationComplete, map[string]any{
		"iteration": i,
		"strategy":  executed,
		"score":     score.Overall,
		"success":   success,
	})

	// Refine: feedback and strategy policy state for the next iteration.
	st.improved = score.Overall > st.bestScore
	if score.Overall > st.bestScore {
		st.bestScore = score.Overall
	}
	st.feedback = &mutator.Feedback{
		TargetReply:    targetRes.Content,
		OverallScore:   score.Overall,
		JudgeReasoning: score.Reasoning,
	}
	st.consecFails = 0

	return success, nil
}

// mutate runs the intended mutator, falling back to the next strategy in
// the list exactly once. Both failing yields a non-nil error and the
// fallback's id as executed strategy.
func (o *Orchestrator) mutate(ctx context.Context, exp *models.Experiment, seed, intended string, st *seedState, iteration int) (*mutator.Mutation, string, string, error) {
	req := &mutator.Request{
		Prompt:       seed,
		Feedback:     st.feedback,
		Iteration:    iteration,
		Attacker:     exp.Attacker,
		ExperimentID: exp.ID,
	}

	mut, err := o.runMutator(ctx, intended, req)
	if err == nil {
		return mut, intended, "", nil
	}

	fallback := st.policy.fallback(intended)
	reason := fmt.Sprintf("strategy %s failed (%v), fell back to %s", intended, err, fallback)
	if fallback == intended {
		return nil, intended, fmt.Sprintf("strategy %s failed: %v", intended, err), err
	}

	mut, ferr := o.runMutator(ctx, fallback, req)
	if ferr != nil {
		return nil, fallback, reason + fmt.Sprintf("; fallback also failed (%v)", ferr), ferr
	}
	return mut, fallback, reason, nil
}

func (o *Orchestrator) runMutator(ctx context.Context, strategy string, req *mutator.Request) (*mutator.Mutation, error) {
	m, err := o.Mutators.Get(strategy)
	if err != nil {
		return nil, err
	}
	return m.Mutate(ctx, req)
}

// recordFailure persists a failed iteration with score 0 and the all-zero
// judge score, keeping the per-seed iteration sequence gap-free. Success
// is still derived from the threshold comparison, so an experiment with a
// zero threshold counts the iteration as a success and stops the seed.
func (o *Orchestrator) recordFailure(ctx context.Context, exp *models.Experiment, bus *events.Bus, iter *models.AttackIteration, mut *models.PromptMutation) (bool, error) {
	iter.OverallScore = 0
	iter.Success = iter.OverallScore >= exp.SuccessThreshold
	score := &models.JudgeScore{Reasoning: iter.JudgeReasoning}
	if err := o.persist(ctx, iter, mut, score); err != nil {
		return false, err
	}
	if iter.Success {
		if err := o.promote(ctx, exp, iter, score); err != nil {
			return false, err
		}
	}
	bus.Publish(events.KindError, map[string]any{
		"message":   failureMessage(iter),
		"iteration": iter.IterationNumber,
	})
	bus.Publish(events.KindIterationComplete, map[string]any{
		"iteration": iter.IterationNumber,
		"strategy":  iter.ExecutedStrategy,
		"score":     0.0,
		"success":   iter.Success,
	})
	return iter.Success, nil
}

func failureMessage(iter *models.AttackIteration) string {
	if iter.FallbackReason != "" {
		return iter.FallbackReason
	}
	return iter.JudgeReasoning
}

// persist writes the iteration transactionally, retrying once before
// giving up with ErrPersistence.
func (o *Orchestrator) persist(ctx context.Context, iter *models.AttackIteration, mut *models.PromptMutation, score *models.JudgeScore) error {
	err := o.Store.AppendIteration(ctx, iter, mut, score)
	if err == nil {
		return nil
	}
	slog.Warn("Iteration persist failed, retrying once",
		"experiment_id", iter.ExperimentID, "iteration", iter.IterationNumber, "error", err)
	if err = o.Store.AppendIteration(ctx, iter, mut, score); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// promote creates a vulnerability for a successful iteration. The bucket
// table can return none below its own floor; success still promotes, at
// the lowest severity.
func (o *Orchestrator) promote(ctx context.Context, exp *models.Experiment, iter *models.AttackIteration, score *models.JudgeScore) error {
	sev := o.Judge.Severity(score)
	if sev == models.SeverityNone {
		sev = models.SeverityLow
	}
	v := &models.Vulnerability{
		ExperimentID: exp.ID,
		IterationID:  iter.ID,
		Severity:     sev,
		Strategy:     iter.ExecutedStrategy,
		Reproducer:   iter.MutatedPrompt,
		TargetReply:  iter.TargetReply,
	}
	if err := o.Store.CreateVulnerability(ctx, v); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	slog.Info("Vulnerability recorded",
		"experiment_id", exp.ID, "iteration", iter.IterationNumber,
		"severity", sev, "strategy", iter.ExecutedStrategy)
	return nil
}

// allRoleBreakersOpen checks the breakers for the experiment's three
// concrete (provider, role) pairs. Pairs that have never been called get
// a closed breaker from the registry, so an open target breaker alone
// never aborts the experiment while the other roles are still healthy.
func (o *Orchestrator) allRoleBreakersOpen(exp *models.Experiment) bool {
	if o.Breakers == nil {
		return false
	}
	for _, role := range models.Roles() {
		ref := exp.RoleRef(role)
		if o.Breakers.Get(ref.Provider, string(role)).State() != breaker.StateOpen {
			return false
		}
	}
	return true
}

func mutationRecord(mut *mutator.Mutation) *models.PromptMutation {
	rec := &models.PromptMutation{
		InputPrompt:  mut.Input,
		OutputPrompt: mut.Output,
		Strategy:     mut.Strategy,
	}
	if mut.Trace != nil {
		rec.AttackerModel = mut.Trace.Model
		rec.AttackerTokens = mut.Trace.Tokens
		rec.AttackerLatencyMS = mut.Trace.LatencyMS
	}
	return rec
}

func fallbackReasonIf(occurred bool, reason string) string {
	if occurred {
		return reason
	}
	return ""
}
