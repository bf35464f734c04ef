// Package models defines the domain types shared across the store, the
// orchestrator, and the API layer.
package models

import (
	"fmt"
	"time"
)

// ExperimentStatus is the lifecycle state of an experiment.
type ExperimentStatus string

// Experiment lifecycle states.
const (
	StatusPending   ExperimentStatus = "pending"
	StatusRunning   ExperimentStatus = "running"
	StatusCompleted ExperimentStatus = "completed"
	StatusFailed    ExperimentStatus = "failed"
	StatusCancelled ExperimentStatus = "cancelled"
)

// Terminal reports whether the status is absorbing.
func (s ExperimentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ValidStatus reports whether s is a known experiment status.
func ValidStatus(s ExperimentStatus) bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a status transition is legal.
// pending → running → {completed, failed, cancelled}; terminal states absorb.
func CanTransition(from, to ExperimentStatus) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	}
	return false
}

// Role identifies which of the three LLM roles a call is made as.
type Role string

// The three LLM roles of an experiment.
const (
	RoleAttacker Role = "attacker"
	RoleTarget   Role = "target"
	RoleJudge    Role = "judge"
)

// Roles lists all roles in a stable order.
func Roles() []Role {
	return []Role{RoleAttacker, RoleTarget, RoleJudge}
}

// ModelRef binds a role to a (provider, model) pair.
type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Experiment is the top-level unit of work: a set of seed prompts attacked
// with a set of strategies against a target model, scored by a judge model.
// Seed prompts and strategies are frozen after creation.
type Experiment struct {
	ID          string `json:"experiment_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Attacker ModelRef `json:"attacker"`
	Target   ModelRef `json:"target"`
	Judge    ModelRef `json:"judge"`

	SeedPrompts []string `json:"seed_prompts"`
	Strategies  []string `json:"strategies"`

	MaxIterations        int     `json:"max_iterations"`
	MaxConcurrentAttacks int     `json:"max_concurrent_attacks"`
	SuccessThreshold     float64 `json:"success_threshold"`
	TimeoutSeconds       int     `json:"timeout_seconds"`

	Status       ExperimentStatus `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
}

// Experiment configuration bounds.
const (
	MaxIterationsLimit          = 100
	DefaultMaxIterations        = 20
	DefaultMaxConcurrentAttacks = 5
	DefaultSuccessThreshold     = 7.0
)

// Validate checks the experiment configuration invariants. Called once at
// submission; the orchestrator assumes a validated experiment.
func (e *Experiment) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", ErrConfigInvalid)
	}
	if len(e.SeedPrompts) == 0 {
		return fmt.Errorf("%w: at least one seed prompt is required", ErrConfigInvalid)
	}
	for i, p := range e.SeedPrompts {
		if p == "" {
			return fmt.Errorf("%w: seed prompt %d is empty", ErrConfigInvalid, i)
		}
	}
	if len(e.Strategies) == 0 {
		return fmt.Errorf("%w: at least one strategy is required", ErrConfigInvalid)
	}
	if e.MaxIterations < 1 || e.MaxIterations > MaxIterationsLimit {
		return fmt.Errorf("%w: max_iterations must be in [1, %d], got %d",
			ErrConfigInvalid, MaxIterationsLimit, e.MaxIterations)
	}
	if e.MaxConcurrentAttacks < 1 {
		return fmt.Errorf("%w: max_concurrent_attacks must be >= 1, got %d",
			ErrConfigInvalid, e.MaxConcurrentAttacks)
	}
	if e.SuccessThreshold < 0 || e.SuccessThreshold > 10 {
		return fmt.Errorf("%w: success_threshold must be in [0, 10], got %g",
			ErrConfigInvalid, e.SuccessThreshold)
	}
	if e.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: timeout_seconds must be >= 0, got %d",
			ErrConfigInvalid, e.TimeoutSeconds)
	}
	for _, ref := range []struct {
		role Role
		ref  ModelRef
	}{
		{RoleAttacker, e.Attacker},
		{RoleTarget, e.Target},
		{RoleJudge, e.Judge},
	} {
		if ref.ref.Provider == "" || ref.ref.Model == "" {
			return fmt.Errorf("%w: %s role needs both provider and model", ErrConfigInvalid, ref.role)
		}
	}
	return nil
}

// RoleRef returns the model binding for a role.
func (e *Experiment) RoleRef(role Role) ModelRef {
	switch role {
	case RoleAttacker:
		return e.Attacker
	case RoleJudge:
		return e.Judge
	default:
		return e.Target
	}
}

// SeedParallelism returns the bounded parallelism for the seed-prompt loops.
func (e *Experiment) SeedParallelism() int {
	if len(e.SeedPrompts) < e.MaxConcurrentAttacks {
		return len(e.SeedPrompts)
	}
	return e.MaxConcurrentAttacks
}
