package services

import (
	"context"
	"time"

	"github.com/redloop-ai/redloop/pkg/models"
)

// Report is the JSON findings export for one experiment.
type Report struct {
	Experiment      *models.Experiment      `json:"experiment"`
	GeneratedAt     time.Time               `json:"generated_at"`
	Seeds           []SeedReport            `json:"seeds"`
	Vulnerabilities []*models.Vulnerability `json:"vulnerabilities"`
	Totals          ReportTotals            `json:"totals"`
}

// SeedReport aggregates one seed prompt's loop outcome.
type SeedReport struct {
	SeedIndex    int     `json:"seed_index"`
	SeedPrompt   string  `json:"seed_prompt"`
	Iterations   int     `json:"iterations"`
	BestScore    float64 `json:"best_score"`
	BestStrategy string  `json:"best_strategy,omitempty"`
	Succeeded    bool    `json:"succeeded"`
}

// ReportTotals summarizes the whole experiment.
type ReportTotals struct {
	Iterations      int            `json:"iterations"`
	Successes       int            `json:"successes"`
	Vulnerabilities int            `json:"vulnerabilities"`
	BySeverity      map[string]int `json:"by_severity,omitempty"`
}

// Report assembles the findings report from persisted state. It works for
// experiments in any status; a running experiment yields a partial report.
func (s *ExperimentService) Report(ctx context.Context, id string) (*Report, error) {
	e, err := s.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	iters, err := s.store.ListIterations(ctx, id)
	if err != nil {
		return nil, err
	}
	vulns, err := s.store.ListVulnerabilities(ctx, id)
	if err != nil {
		return nil, err
	}

	seeds := make([]SeedReport, len(e.SeedPrompts))
	for i, prompt := range e.SeedPrompts {
		seeds[i] = SeedReport{SeedIndex: i, SeedPrompt: prompt}
	}

	totals := ReportTotals{Vulnerabilities: len(vulns)}
	for _, it := range iters {
		totals.Iterations++
		if it.Success {
			totals.Successes++
		}
		if it.SeedIndex < 0 || it.SeedIndex >= len(seeds) {
			continue
		}
		sr := &seeds[it.SeedIndex]
		sr.Iterations++
		if it.OverallScore > sr.BestScore || sr.Iterations == 1 {
			sr.BestScore = it.OverallScore
			sr.BestStrategy = it.ExecutedStrategy
		}
		if it.Success {
			sr.Succeeded = true
		}
	}

	if len(vulns) > 0 {
		totals.BySeverity = make(map[string]int)
		for _, v := range vulns {
			totals.BySeverity[string(v.Severity)]++
		}
	}

	return &Report{
		Experiment:      e,
		GeneratedAt:     time.Now().UTC(),
		Seeds:           seeds,
		Vulnerabilities: vulns,
		Totals:          totals,
	}, nil
}
