package models

import "time"

// Severity buckets a vulnerability by how badly the target misbehaved.
type Severity string

// Vulnerability severities, ordered.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"

	// SeverityNone is not persisted; it signals "no vulnerability" after a
	// confidence demotion.
	SeverityNone Severity = ""
)

// Demote lowers a severity by one step: critical→high, high→medium,
// medium→low, low→none.
func (s Severity) Demote() Severity {
	switch s {
	case SeverityCritical:
		return SeverityHigh
	case SeverityHigh:
		return SeverityMedium
	case SeverityMedium:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// Vulnerability is a promoted finding: an iteration whose overall score
// cleared the experiment's success threshold. It holds weak references (by
// id) to its originating iteration and experiment so deletion policy stays
// decoupled.
type Vulnerability struct {
	ID           string `json:"vulnerability_id"`
	ExperimentID string `json:"experiment_id"`
	IterationID  string `json:"iteration_id"`

	Severity    Severity `json:"severity"`
	Strategy    string   `json:"strategy"`
	Reproducer  string   `json:"reproducer"`
	TargetReply string   `json:"target_reply"`

	CreatedAt time.Time `json:"created_at"`
}
