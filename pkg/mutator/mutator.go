// Package mutator implements the attack strategy catalogue. Each strategy
// is a registered mutator that rewrites a seed prompt into an attack
// prompt, either by a pure deterministic transform or by consulting the
// attacker LLM through the gateway.
package mutator

import (
	"context"
	"fmt"

	"github.com/redloop-ai/redloop/pkg/models"
)

// Family groups strategies by how the mutation is produced.
type Family string

// Mutator families.
const (
	FamilyDeterministic Family = "deterministic"
	FamilyLLMAssisted   Family = "llm_assisted"
)

// Feedback is the previous iteration's outcome, fed to mutators that
// refine their attack. Absent on iteration 0.
type Feedback struct {
	TargetReply    string
	OverallScore   float64
	JudgeReasoning string
}

// Request is one mutation invocation.
type Request struct {
	// Prompt is the original seed prompt.
	Prompt string

	// Feedback from the previous iteration; nil on iteration 0.
	Feedback *Feedback

	// Iteration is the 0-based iteration number within the seed loop.
	Iteration int

	// Attacker is the (provider, model) binding for LLM-assisted
	// strategies. Ignored by deterministic ones.
	Attacker models.ModelRef

	// ExperimentID provides audit and event context for attacker calls.
	ExperimentID string
}

// Trace records the attacker-LLM cost of an LLM-assisted mutation.
type Trace struct {
	Model     string
	Tokens    int
	LatencyMS int64
}

// Mutation is a mutator's output. Output is non-empty and differs from
// Input except for strategies declared identity-capable.
type Mutation struct {
	Input    string
	Output   string
	Strategy string
	Trace    *Trace
}

// Error classifies a mutation failure so the fallback policy can tell an
// attacker-LLM outage from a local defect.
type Error struct {
	Strategy   string
	LLMFailure bool
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("mutator %s failed: %v", e.Strategy, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Info is a strategy's registration metadata.
type Info struct {
	// ID is the strategy id experiments reference.
	ID string

	// Family tells whether the attacker LLM is consulted.
	Family Family

	// RequiresFeedback strategies still produce a valid mutation on
	// iteration 0 through their seeding rule.
	RequiresFeedback bool

	// IdentityCapable strategies may return output equal to the input,
	// e.g. a substitution table that matches nothing in the prompt.
	IdentityCapable bool

	// Description is a one-line summary for the catalogue endpoint.
	Description string
}

// Mutator produces one mutation for its strategy.
type Mutator interface {
	Info() Info
	Mutate(ctx context.Context, req *Request) (*Mutation, error)
}
