// Package services holds the domain-level operations between the HTTP
// handlers and the store: submission validation, lifecycle control, and
// report assembly.
package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redloop-ai/redloop/pkg/config"
	"github.com/redloop-ai/redloop/pkg/models"
	"github.com/redloop-ai/redloop/pkg/mutator"
	"github.com/redloop-ai/redloop/pkg/store"
)

// ExperimentStore is the persistence surface the service needs.
type ExperimentStore interface {
	CreateExperiment(ctx context.Context, e *models.Experiment) error
	GetExperiment(ctx context.Context, id string) (*models.Experiment, error)
	ListExperiments(ctx context.Context, f store.ListFilter) ([]*models.Experiment, int, error)
	UpdateStatus(ctx context.Context, id string, status models.ExperimentStatus, errMsg string) error
	ListIterations(ctx context.Context, experimentID string) ([]*models.AttackIteration, error)
	ListVulnerabilities(ctx context.Context, experimentID string) ([]*models.Vulnerability, error)
}

// Canceller cancels an experiment running on this process, if present.
type Canceller interface {
	CancelExperiment(experimentID string) bool
}

// SubmitExperimentInput contains the domain-level data needed to create an
// experiment. Transformed from the HTTP request by the handler. Zero
// numeric fields take the documented defaults.
type SubmitExperimentInput struct {
	Name        string
	Description string

	Attacker models.ModelRef
	Target   models.ModelRef
	Judge    models.ModelRef

	SeedPrompts []string
	Strategies  []string

	MaxIterations        int
	MaxConcurrentAttacks int
	SuccessThreshold     float64
	TimeoutSeconds       int
}

// ExperimentService handles experiment submission and lifecycle control.
type ExperimentService struct {
	store     ExperimentStore
	mutators  *mutator.Registry
	providers *config.ProviderRegistry
	canceller Canceller
}

// NewExperimentService creates a new ExperimentService. canceller may be
// nil (cancellation then always goes through the store).
func NewExperimentService(st ExperimentStore, mutators *mutator.Registry, providers *config.ProviderRegistry, canceller Canceller) *ExperimentService {
	if st == nil {
		panic("NewExperimentService: store must not be nil")
	}
	if mutators == nil {
		panic("NewExperimentService: mutators must not be nil")
	}
	if providers == nil {
		panic("NewExperimentService: providers must not be nil")
	}
	return &ExperimentService{
		store:     st,
		mutators:  mutators,
		providers: providers,
		canceller: canceller,
	}
}

// Submit validates and persists a new experiment in pending status; the
// worker pool picks it up from there. Seed prompts and strategies are
// frozen at this point.
func (s *ExperimentService) Submit(ctx context.Context, input SubmitExperimentInput) (*models.Experiment, error) {
	e := &models.Experiment{
		Name:                 input.Name,
		Description:          input.Description,
		Attacker:             input.Attacker,
		Target:               input.Target,
		Judge:                input.Judge,
		SeedPrompts:          input.SeedPrompts,
		Strategies:           input.Strategies,
		MaxIterations:        input.MaxIterations,
		MaxConcurrentAttacks: input.MaxConcurrentAttacks,
		SuccessThreshold:     input.SuccessThreshold,
		TimeoutSeconds:       input.TimeoutSeconds,
	}
	if e.MaxIterations == 0 {
		e.MaxIterations = models.DefaultMaxIterations
	}
	if e.MaxConcurrentAttacks == 0 {
		e.MaxConcurrentAttacks = models.DefaultMaxConcurrentAttacks
	}
	if e.SuccessThreshold == 0 {
		e.SuccessThreshold = models.DefaultSuccessThreshold
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}
	for _, id := range e.Strategies {
		if !s.mutators.Has(id) {
			return nil, NewValidationError("strategies", fmt.Sprintf("unknown strategy '%s'", id))
		}
	}
	for _, role := range models.Roles() {
		ref := e.RoleRef(role)
		if !s.providers.Has(ref.Provider) {
			return nil, NewValidationError(string(role),
				fmt.Sprintf("unknown provider '%s'", ref.Provider))
		}
	}

	if err := s.store.CreateExperiment(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to create experiment: %w", err)
	}

	slog.Info("Experiment submitted",
		"experiment_id", e.ID, "name", e.Name,
		"seeds", len(e.SeedPrompts), "strategies", len(e.Strategies))
	return e, nil
}

// Get retrieves an experiment by id.
func (s *ExperimentService) Get(ctx context.Context, id string) (*models.Experiment, error) {
	return s.store.GetExperiment(ctx, id)
}

// List returns experiments newest first with the total for the filter.
func (s *ExperimentService) List(ctx context.Context, f store.ListFilter) ([]*models.Experiment, int, error) {
	if f.Status != "" && !models.ValidStatus(f.Status) {
		return nil, 0, NewValidationError("status", fmt.Sprintf("unknown status '%s'", f.Status))
	}
	return s.store.ListExperiments(ctx, f)
}

// Start confirms a pending experiment is eligible for execution.
// Submission already queues the experiment for the worker pool, so a
// start on a pending experiment succeeds without a state change; calling
// it again once the experiment is running (or finished) is a conflict.
func (s *ExperimentService) Start(ctx context.Context, id string) error {
	e, err := s.store.GetExperiment(ctx, id)
	if err != nil {
		return err
	}
	if e.Status != models.StatusPending {
		return fmt.Errorf("experiment is %s: %w", e.Status, models.ErrConflict)
	}
	slog.Info("Experiment start confirmed", "experiment_id", id)
	return nil
}

// Cancel requests cancellation. Cancelling an already-terminal experiment
// is a no-op success, so clients can retry safely.
func (s *ExperimentService) Cancel(ctx context.Context, id string) error {
	e, err := s.store.GetExperiment(ctx, id)
	if err != nil {
		return err
	}
	if e.Status.Terminal() {
		return nil
	}

	// A locally running experiment is cancelled through its context; the
	// worker then writes the terminal status. Pending experiments, or
	// running ones owned by another process, get the status written here.
	if s.canceller != nil && s.canceller.CancelExperiment(id) {
		slog.Info("Experiment cancellation signalled", "experiment_id", id)
		return nil
	}
	if err := s.store.UpdateStatus(ctx, id, models.StatusCancelled, "cancelled"); err != nil {
		return fmt.Errorf("failed to cancel experiment: %w", err)
	}
	slog.Info("Experiment cancelled", "experiment_id", id)
	return nil
}

// Iterations returns an experiment's full iteration history.
func (s *ExperimentService) Iterations(ctx context.Context, id string) ([]*models.AttackIteration, error) {
	if _, err := s.store.GetExperiment(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListIterations(ctx, id)
}

// Vulnerabilities returns an experiment's promoted findings.
func (s *ExperimentService) Vulnerabilities(ctx context.Context, id string) ([]*models.Vulnerability, error) {
	if _, err := s.store.GetExperiment(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListVulnerabilities(ctx, id)
}

// Strategies returns the mutator catalogue sorted by id.
func (s *ExperimentService) Strategies() []mutator.Info {
	return s.mutators.List()
}
