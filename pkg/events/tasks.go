package events

import (
	"fmt"
	"sync"
)

// TaskType classifies a timeline task.
type TaskType string

// Task types, one per LLM-facing step of an iteration.
const (
	TaskMutate TaskType = "mutate"
	TaskTarget TaskType = "target"
	TaskJudge  TaskType = "judge"
)

// TaskStatus is a task's lifecycle state.
type TaskStatus string

// Task statuses.
const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is one entry in an experiment's timeline. Dependencies are
// presentational; the orchestrator decides scheduling, not the graph.
type Task struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Type         TaskType   `json:"type"`
	Status       TaskStatus `json:"status"`
	Dependencies []string   `json:"dependencies,omitempty"`
}

// TaskLedger is an experiment's append-only ordered task list. Task ids are
// "task-<N>" with N monotone per experiment. Every append and status change
// emits a task_update event on the experiment's bus.
type TaskLedger struct {
	bus *Bus

	mu    sync.Mutex
	next  int
	tasks []*Task
	byID  map[string]*Task
}

// NewTaskLedger creates a ledger publishing to the given bus.
func NewTaskLedger(bus *Bus) *TaskLedger {
	return &TaskLedger{bus: bus, byID: make(map[string]*Task)}
}

// Add appends a queued task and returns its id.
func (l *TaskLedger) Add(name string, typ TaskType, deps ...string) string {
	l.mu.Lock()
	l.next++
	t := &Task{
		ID:           fmt.Sprintf("task-%d", l.next),
		Name:         name,
		Type:         typ,
		Status:       TaskQueued,
		Dependencies: deps,
	}
	l.tasks = append(l.tasks, t)
	l.byID[t.ID] = t
	snapshot := *t
	l.mu.Unlock()

	l.publish(snapshot)
	return snapshot.ID
}

// SetStatus updates a task's status and emits a task_update event.
func (l *TaskLedger) SetStatus(id string, status TaskStatus) {
	l.mu.Lock()
	t, ok := l.byID[id]
	if !ok {
		l.mu.Unlock()
		return
	}
	t.Status = status
	snapshot := *t
	l.mu.Unlock()

	l.publish(snapshot)
}

// Tasks returns the ledger in append order.
func (l *TaskLedger) Tasks() []Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Task, len(l.tasks))
	for i, t := range l.tasks {
		out[i] = *t
	}
	return out
}

func (l *TaskLedger) publish(t Task) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(KindTaskUpdate, map[string]any{
		"task_id":      t.ID,
		"name":         t.Name,
		"type":         string(t.Type),
		"status":       string(t.Status),
		"dependencies": t.Dependencies,
	})
}
