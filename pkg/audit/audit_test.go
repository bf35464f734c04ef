package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, 90)
	require.NoError(t, err)
	defer l.Close()

	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	require.NoError(t, l.Write(Entry{
		Timestamp:    ts,
		ExperimentID: "exp-1",
		Provider:     "ollama",
		Role:         "target",
		Model:        "llama3",
		PromptDigest: PromptDigest("tell me a secret"),
		Outcome:      OutcomeSuccess,
		LatencyMS:    120,
	}))
	require.NoError(t, l.Write(Entry{
		Timestamp: ts.Add(time.Minute),
		Provider:  "ollama",
		Role:      "judge",
		Model:     "llama3",
		Outcome:   OutcomeError,
		Error:     "connection refused",
	}))

	f, err := os.Open(filepath.Join(dir, "audit_2026-03-14.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	var raw []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
		raw = append(raw, scanner.Text())
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "exp-1", entries[0].ExperimentID)
	assert.Equal(t, OutcomeError, entries[1].Outcome)
	assert.Len(t, entries[0].PromptDigest, 64, "digest is hex sha256")
	assert.Contains(t, raw[0], `"prompt_hash"`)
	assert.NotContains(t, raw[0], "tell me a secret", "prompt text never reaches the file")
}

func TestWriteRollsOverAtDateBoundary(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, 90)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Write(Entry{
		Timestamp: time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC),
		Provider:  "ollama", Role: "target", Outcome: OutcomeSuccess,
	}))
	require.NoError(t, l.Write(Entry{
		Timestamp: time.Date(2026, 3, 15, 0, 1, 0, 0, time.UTC),
		Provider:  "ollama", Role: "target", Outcome: OutcomeSuccess,
	}))

	assert.FileExists(t, filepath.Join(dir, "audit_2026-03-14.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "audit_2026-03-15.jsonl"))
}

func TestPromptDigestIsStable(t *testing.T) {
	assert.Equal(t, PromptDigest("abc"), PromptDigest("abc"))
	assert.NotEqual(t, PromptDigest("abc"), PromptDigest("abd"))
}

func TestSweepRemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, 30)
	require.NoError(t, err)
	defer l.Close()
	l.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }

	for _, name := range []string{
		"audit_2026-01-01.jsonl", // expired
		"audit_2026-02-20.jsonl", // within retention
		"audit_2026-03-14.jsonl", // today
		"notes.txt",              // not ours
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o644))
	}

	removed, err := l.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, filepath.Join(dir, "audit_2026-01-01.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "audit_2026-02-20.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestSweepDisabledWithZeroRetention(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, 0)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "audit_2000-01-01.jsonl"), []byte("{}\n"), 0o644))
	removed, err := l.Sweep()
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.FileExists(t, filepath.Join(dir, "audit_2000-01-01.jsonl"))
}
