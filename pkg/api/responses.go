package api

import (
	"github.com/redloop-ai/redloop/pkg/models"
)

// SubmitExperimentResponse is returned by POST /api/v1/experiments.
type SubmitExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

// ListExperimentsResponse is returned by GET /api/v1/experiments.
type ListExperimentsResponse struct {
	Experiments []*models.Experiment `json:"experiments"`
	Total       int                  `json:"total"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
}

// StartResponse is returned by POST /api/v1/experiments/:id/start.
type StartResponse struct {
	ExperimentID string `json:"experiment_id"`
	Message      string `json:"message"`
}

// CancelResponse is returned by POST /api/v1/experiments/:id/cancel.
type CancelResponse struct {
	ExperimentID string `json:"experiment_id"`
	Message      string `json:"message"`
}

// StrategyResponse is one entry of the strategy catalogue.
type StrategyResponse struct {
	ID               string `json:"id"`
	Family           string `json:"family"`
	RequiresFeedback bool   `json:"requires_feedback"`
	IdentityCapable  bool   `json:"identity_capable"`
	Description      string `json:"description"`
}

// ProviderResponse is one configured provider. The API key never leaves
// the server.
type ProviderResponse struct {
	Name    string            `json:"name"`
	APIBase string            `json:"api_base"`
	Models  map[string]string `json:"models,omitempty"`
}

// BreakerResetResponse is returned by POST /api/v1/breakers/:provider/:role/reset.
type BreakerResetResponse struct {
	Breaker string `json:"breaker"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck is one component's health entry.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
