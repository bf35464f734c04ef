package api

import "github.com/redloop-ai/redloop/pkg/models"

// SubmitExperimentRequest is the HTTP request body for POST /api/v1/experiments.
// Zero numeric fields take the server defaults.
type SubmitExperimentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Attacker models.ModelRef `json:"attacker"`
	Target   models.ModelRef `json:"target"`
	Judge    models.ModelRef `json:"judge"`

	SeedPrompts []string `json:"seed_prompts"`
	Strategies  []string `json:"strategies"`

	MaxIterations        int     `json:"max_iterations,omitempty"`
	MaxConcurrentAttacks int     `json:"max_concurrent_attacks,omitempty"`
	SuccessThreshold     float64 `json:"success_threshold,omitempty"`
	TimeoutSeconds       int     `json:"timeout_seconds,omitempty"`
}
