package trace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTraceCounts(t *testing.T) {
	tr := New("s1", "budget?")
	tr.Record(DAGCreated, "planner", "", 0, map[string]any{"tasks": 1})
	tr.Record(LLMCall, "planner", "", 10*time.Millisecond, nil)
	tr.Record(TaskStarted, "budget_status", "op_1", 0, nil)
	tr.Record(TaskCompleted, "budget_status", "op_1", time.Millisecond, nil)
	tr.Record(TaskFailed, "trends_overview", "op_2", time.Millisecond, nil)
	tr.Finish("ok", true)

	s := tr.Summarize()
	assert.Equal(t, 5, s.Events)
	assert.Equal(t, 1, s.LLMCalls)
	assert.Equal(t, 1, s.TasksExecuted)
	assert.Equal(t, 1, s.TasksFailed)
	assert.True(t, s.Success)
	assert.Equal(t, 1, tr.Count(TaskStarted))
	assert.Len(t, tr.ID, 12)
}

func TestNilTraceIsSafe(t *testing.T) {
	var tr *Trace
	tr.Record(LLMCall, "x", "", 0, nil)
	tr.Finish("", false)
	tr.SetSession("s")
	assert.Nil(t, tr.Events())
	assert.Equal(t, Summary{}, tr.Summarize())
	assert.Nil(t, FromContext(context.Background()))
}

func TestContextRoundTrip(t *testing.T) {
	tr := New("s", "q")
	ctx := NewContext(context.Background(), tr)
	assert.Same(t, tr, FromContext(ctx))
}

func TestConcurrentAdd(t *testing.T) {
	tr := New("s", "q")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record(TaskCompleted, "a", "t", 0, nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, tr.Summarize().TasksExecuted)
}
