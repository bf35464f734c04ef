package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskLedgerAssignsMonotoneIDs(t *testing.T) {
	bus := NewBus("exp-1")
	ledger := NewTaskLedger(bus)

	id1 := ledger.Add("mutate iteration 1", TaskMutate)
	id2 := ledger.Add("target iteration 1", TaskTarget, id1)
	id3 := ledger.Add("judge iteration 1", TaskJudge, id2)

	assert.Equal(t, "task-1", id1)
	assert.Equal(t, "task-2", id2)
	assert.Equal(t, "task-3", id3)

	tasks := ledger.Tasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, TaskQueued, tasks[0].Status)
	assert.Equal(t, []string{"task-2"}, tasks[2].Dependencies)
}

func TestTaskLedgerEmitsTaskUpdates(t *testing.T) {
	bus := NewBus("exp-1")
	sub, err := bus.Subscribe(1)
	require.NoError(t, err)
	ledger := NewTaskLedger(bus)

	id := ledger.Add("target iteration 1", TaskTarget)
	ledger.SetStatus(id, TaskRunning)
	ledger.SetStatus(id, TaskCompleted)

	got := drain(sub)
	require.Len(t, got, 3)
	for _, e := range got {
		assert.Equal(t, KindTaskUpdate, e.Kind)
		assert.Equal(t, id, e.Payload["task_id"])
	}
	assert.Equal(t, string(TaskQueued), got[0].Payload["status"])
	assert.Equal(t, string(TaskRunning), got[1].Payload["status"])
	assert.Equal(t, string(TaskCompleted), got[2].Payload["status"])
}

func TestTaskLedgerIgnoresUnknownID(t *testing.T) {
	ledger := NewTaskLedger(NewBus("exp-1"))
	ledger.SetStatus("task-99", TaskFailed)
	assert.Empty(t, ledger.Tasks())
}
