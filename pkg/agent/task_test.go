package agent

import (
	"genesis/pkg/llm"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskCancelIdempotent(t *testing.T) {
	task := NewTask("sess-1", 10, 3)
	assert.False(t, task.Cancelled(), "new task should not start cancelled")
	task.Cancel()
	task.Cancel()
	assert.True(t, task.Cancelled(), "expected task to be cancelled")
}

func TestTaskConsumeSkipFiresOnce(t *testing.T) {
	task := NewTask("sess-1", 10, 3)
	task.Skip()

	assert.True(t, task.ConsumeSkip(), "expected first ConsumeSkip to report true")
	assert.False(t, task.ConsumeSkip(), "expected skip flag to be cleared after being consumed once")
}

func TestTaskInsertDrainsInOrder(t *testing.T) {
	task := NewTask("sess-1", 10, 3)
	first := llm.NewUserMessage("reminder: stretch")
	second := llm.NewUserMessage("reminder: drink water")

	task.Insert(first)
	task.Insert(second)

	drained := task.DrainInserts()
	require.Len(t, drained, 2)
	assert.Equal(t, first.GetTextContent(), drained[0].GetTextContent())
	assert.Equal(t, second.GetTextContent(), drained[1].GetTextContent())

	assert.Nil(t, task.DrainInserts(), "expected a second drain to be empty")
}

func TestTaskRegistryFinishGuardsStaleTask(t *testing.T) {
	reg := NewTaskRegistry()
	first := NewTask("sess-1", 10, 3)
	reg.Start(first)

	second := NewTask("sess-1", 10, 3)
	reg.Start(second)

	// A stale Finish for the superseded task must not evict the new one.
	reg.Finish(first)
	active, ok := reg.Active("sess-1")
	require.True(t, ok)
	assert.Same(t, second, active, "stale Finish should not have removed the newer active task")

	reg.Finish(second)
	_, ok = reg.Active("sess-1")
	assert.False(t, ok, "expected no active task after the current one finishes")
}

// TestTaskExactlyOneTerminalSignal models the contract the engine relies on:
// across concurrent Cancel/Skip callers, Cancelled() settles to a single
// stable true and ConsumeSkip() is observed true by exactly one caller.
func TestTaskExactlyOneTerminalSignal(t *testing.T) {
	task := NewTask("sess-1", 10, 3)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task.Cancel()
		}()
	}
	wg.Wait()
	require.True(t, task.Cancelled(), "expected cancellation to stick under concurrent callers")

	task.Skip()
	var truthy int
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if task.ConsumeSkip() {
				mu.Lock()
				truthy++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, truthy, "expected exactly one ConsumeSkip to observe true")
}
