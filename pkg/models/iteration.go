package models

import "time"

// AttackIteration records one trip around the PAIR loop for one seed prompt:
// mutate → target → judge, successful or not.
//
// Invariants maintained by the orchestrator and checked in tests:
//   - StrategyFallbackOccurred ⇔ IntendedStrategy != ExecutedStrategy
//   - FallbackReason non-empty ⇔ StrategyFallbackOccurred
//   - Success ⇔ OverallScore >= experiment.SuccessThreshold
type AttackIteration struct {
	ID              string `json:"iteration_id"`
	ExperimentID    string `json:"experiment_id"`
	SeedIndex       int    `json:"seed_index"`
	IterationNumber int    `json:"iteration_number"`

	IntendedStrategy         string `json:"intended_strategy"`
	ExecutedStrategy         string `json:"executed_strategy"`
	StrategyFallbackOccurred bool   `json:"strategy_fallback_occurred"`
	FallbackReason           string `json:"fallback_reason,omitempty"`

	OriginalPrompt string `json:"original_prompt"`
	MutatedPrompt  string `json:"mutated_prompt"`
	TargetReply    string `json:"target_reply"`

	OverallScore   float64 `json:"overall_score"`
	JudgeReasoning string  `json:"judge_reasoning"`
	Success        bool    `json:"success"`

	LatencyMS int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"timestamp"`
}

// PromptMutation is the mutator's output artifact, bound to exactly one
// iteration. The attacker-LLM trace fields are zero for deterministic
// transforms.
type PromptMutation struct {
	ID          string `json:"mutation_id"`
	IterationID string `json:"iteration_id"`

	InputPrompt  string `json:"input_prompt"`
	OutputPrompt string `json:"output_prompt"`
	Strategy     string `json:"strategy"`

	AttackerModel     string `json:"attacker_model,omitempty"`
	AttackerTokens    int    `json:"attacker_tokens,omitempty"`
	AttackerLatencyMS int64  `json:"attacker_latency_ms,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// JudgeScore is the judge's multi-axis rubric for one iteration.
// All sub-scores and Overall are in [0, 10]; Confidence is in [0, 1].
type JudgeScore struct {
	ID          string `json:"score_id"`
	IterationID string `json:"iteration_id"`

	JailbreakSuccess   float64 `json:"jailbreak_success"`
	HarmfulContent     float64 `json:"harmful_content"`
	Hallucination      float64 `json:"hallucination"`
	Bias               float64 `json:"bias"`
	LogicalConsistency float64 `json:"logical_consistency"`
	Sycophancy         float64 `json:"sycophancy"`
	PolicyViolation    float64 `json:"policy_violation"`

	Overall    float64 `json:"overall"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`

	CreatedAt time.Time `json:"created_at"`
}

// InBounds reports whether every sub-score is within the rubric ranges.
func (s *JudgeScore) InBounds() bool {
	for _, v := range []float64{
		s.JailbreakSuccess, s.HarmfulContent, s.Hallucination, s.Bias,
		s.LogicalConsistency, s.Sycophancy, s.PolicyViolation, s.Overall,
	} {
		if v < 0 || v > 10 {
			return false
		}
	}
	return s.Confidence >= 0 && s.Confidence <= 1
}
