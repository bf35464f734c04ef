// Package events provides the per-experiment live event bus: ordered
// pub/sub with per-subscriber verbosity filtering, the task timeline
// ledger, and the WebSocket bridge that delivers events to clients.
package events

import "time"

// Kind identifies an event class. Each kind has a fixed minimum verbosity;
// a subscriber receives an event iff its verbosity >= the event's minimum.
type Kind string

// Event kinds.
const (
	KindError             Kind = "error"
	KindIterationComplete Kind = "iteration_complete"
	KindTaskUpdate        Kind = "task_update"
	KindLLMRequest        Kind = "llm_request"
	KindLLMResponse       Kind = "llm_response"
	KindLLMError          Kind = "llm_error"
	KindStrategySelection Kind = "strategy_selection"
	KindMutationStart     Kind = "mutation_start"
	KindMutationEnd       Kind = "mutation_end"
	KindJudgeStart        Kind = "judge_start"
	KindJudgeEnd          Kind = "judge_end"
	KindDecisionPoint     Kind = "decision_point"
)

// Verbosity bounds.
const (
	VerbosityMin = 0
	VerbosityMax = 3
)

// minVerbosity maps each kind to the lowest subscriber verbosity that
// receives it. Errors always reach every subscriber.
var minVerbosity = map[Kind]int{
	KindError:             0,
	KindIterationComplete: 1,
	KindTaskUpdate:        1,
	KindLLMRequest:        2,
	KindLLMResponse:       2,
	KindLLMError:          2,
	KindStrategySelection: 3,
	KindMutationStart:     3,
	KindMutationEnd:       3,
	KindJudgeStart:        3,
	KindJudgeEnd:          3,
	KindDecisionPoint:     3,
}

// MinVerbosity returns the minimum subscriber verbosity for a kind.
// Unknown kinds default to the maximum so they never leak to low-verbosity
// subscribers.
func MinVerbosity(kind Kind) int {
	if v, ok := minVerbosity[kind]; ok {
		return v
	}
	return VerbosityMax
}

// Event is one bus message. Seq is assigned by the bus at publish time and
// is strictly increasing per experiment.
type Event struct {
	Seq          int64          `json:"seq"`
	ExperimentID string         `json:"experiment_id"`
	Kind         Kind           `json:"kind"`
	MinVerbosity int            `json:"min_verbosity"`
	Timestamp    time.Time      `json:"timestamp"`
	Payload      map[string]any `json:"payload,omitempty"`
}
