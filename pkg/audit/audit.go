// Package audit writes an append-only JSONL trail of every LLM call the
// gateway makes. Entries carry a SHA-256 digest of the prompt, never the
// prompt text, so the trail can be retained without storing attack content.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one audited LLM call.
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	ExperimentID string    `json:"experiment_id,omitempty"`
	Iteration    int       `json:"iteration,omitempty"`
	Provider     string    `json:"provider"`
	Role         string    `json:"role"`
	Model        string    `json:"model"`
	PromptDigest string    `json:"prompt_hash"`
	Outcome      string    `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	LatencyMS    int64     `json:"latency_ms"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
}

// Call outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeCircuitOpen = "circuit_open"
)

// Logger appends entries to audit_<YYYY-MM-DD>.jsonl files in a directory.
// Writes are serialized by a mutex so concurrent workers never interleave
// partial lines. Files roll over at the UTC date boundary.
type Logger struct {
	dir           string
	retentionDays int
	now           func() time.Time

	mu      sync.Mutex
	file    *os.File
	fileDay string
}

// NewLogger creates the audit directory if needed. retentionDays <= 0
// disables the retention sweep.
func NewLogger(dir string, retentionDays int) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &Logger{dir: dir, retentionDays: retentionDays, now: time.Now}, nil
}

// PromptDigest returns the hex SHA-256 of a prompt.
func PromptDigest(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Write appends one entry. The entry's timestamp is set if zero.
func (l *Logger) Write(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}

	day := e.Timestamp.UTC().Format("2006-01-02")
	if err := l.ensureFile(day); err != nil {
		return err
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// ensureFile opens the file for the given day, rolling over if the day
// changed. Caller holds l.mu.
func (l *Logger) ensureFile(day string) error {
	if l.file != nil && l.fileDay == day {
		return nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	path := filepath.Join(l.dir, "audit_"+day+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	l.file = f
	l.fileDay = day
	return nil
}

// Sweep deletes audit files older than the retention window. Returns the
// number of files removed.
func (l *Logger) Sweep() (int, error) {
	if l.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := l.now().UTC().AddDate(0, 0, -l.retentionDays)

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read audit directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "audit_") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		dayStr := strings.TrimSuffix(strings.TrimPrefix(name, "audit_"), ".jsonl")
		day, err := time.Parse("2006-01-02", dayStr)
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if err := os.Remove(filepath.Join(l.dir, name)); err != nil {
				slog.Warn("Failed to remove expired audit file", "file", name, "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		slog.Info("Audit retention sweep removed files", "count", removed)
	}
	return removed, nil
}

// RunSweeper sweeps once immediately and then daily until stopCh closes.
func (l *Logger) RunSweeper(stopCh <-chan struct{}) {
	if _, err := l.Sweep(); err != nil {
		slog.Error("Audit retention sweep failed", "error", err)
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := l.Sweep(); err != nil {
				slog.Error("Audit retention sweep failed", "error", err)
			}
		}
	}
}

// Close flushes and closes the current file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
