package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/finsight/internal/agent"
	"github.com/nidhogg/finsight/internal/task"
	"github.com/nidhogg/finsight/internal/trace"
)

func mkTask(id string, typ task.Type, deps ...string) *task.Task {
	return &task.Task{ID: id, Type: typ, Params: task.Params{}, DependsOn: deps, Status: task.StatusPending}
}

func dagOf(tasks ...*task.Task) *task.DAG {
	return &task.DAG{Message: "test", Tasks: tasks}
}

func constant(data map[string]any) agent.Handler {
	return func(context.Context, task.Params, agent.Context) (map[string]any, error) {
		return data, nil
	}
}

func TestExecuteFailurePropagation(t *testing.T) {
	var dependentCalls atomic.Int32
	reg := agent.NewRegistry()
	reg.Register(task.BudgetStatus, func(context.Context, task.Params, agent.Context) (map[string]any, error) {
		return nil, errors.New("ledger offline")
	})
	reg.Register(task.SavingsAdvice, func(context.Context, task.Params, agent.Context) (map[string]any, error) {
		dependentCalls.Add(1)
		return map[string]any{}, nil
	})
	reg.Register(task.TrendsOverview, constant(map[string]any{"ok": true}))

	dag := dagOf(
		mkTask("a", task.BudgetStatus),
		mkTask("b", task.SavingsAdvice, "a"),
		mkTask("c", task.SavingsAdvice, "b"),
		mkTask("d", task.TrendsOverview),
	)
	tr := trace.New("s", "q")
	ctx := trace.NewContext(context.Background(), tr)

	results, err := NewScheduler(reg, 4, zap.NewNop()).Execute(ctx, dag, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if r := results["a"]; r.Status != task.StatusFailed || r.Error != "ledger offline" {
		t.Errorf("a: %+v", r)
	}
	if r := results["b"]; r.Status != task.StatusFailed || r.Error != "dependency a failed" {
		t.Errorf("b: %+v", r)
	}
	if r := results["c"]; r.Status != task.StatusFailed || r.Error != "dependency b failed" {
		t.Errorf("c: %+v", r)
	}
	if !results["d"].Succeeded() {
		t.Errorf("independent task should succeed: %+v", results["d"])
	}
	if n := dependentCalls.Load(); n != 0 {
		t.Errorf("dependents of a failed task must not run, ran %d times", n)
	}
	if got := tr.Count(trace.TaskFailed); got != 3 {
		t.Errorf("expected 3 task_failed events, got %d", got)
	}
	if dag.Tasks[1].Result != results["b"] {
		t.Error("task result should be attached to the dag")
	}
}

func TestExecuteScenarioFeedsAffordability(t *testing.T) {
	var scenarioDone atomic.Bool
	reg := agent.NewRegistry()
	reg.Register(task.CustomScenario, func(context.Context, task.Params, agent.Context) (map[string]any, error) {
		time.Sleep(20 * time.Millisecond)
		scenarioDone.Store(true)
		return map[string]any{"scenario_savings": 42000.0, "monthly_surplus": 7000.0}, nil
	})

	var got agent.Context
	var startedEarly bool
	reg.Register(task.AffordabilityCheck, func(_ context.Context, _ task.Params, deps agent.Context) (map[string]any, error) {
		startedEarly = !scenarioDone.Load()
		got = deps
		return map[string]any{"can_afford": true}, nil
	})

	dag := dagOf(
		mkTask("op_1", task.CustomScenario),
		mkTask("op_2", task.AffordabilityCheck, "op_1"),
	)
	results, err := NewScheduler(reg, 0, zap.NewNop()).Execute(context.Background(), dag, map[string]any{"session_id": "s1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if startedEarly {
		t.Fatal("level 1 started before level 0 finished")
	}
	if !results["op_2"].Succeeded() {
		t.Fatalf("op_2: %+v", results["op_2"])
	}
	if v := got["op_1"]["scenario_savings"]; v != 42000.0 {
		t.Errorf("by id: scenario_savings = %v", v)
	}
	if v, ok := got.ByType(task.CustomScenario); !ok || v["monthly_surplus"] != 7000.0 {
		t.Errorf("by type: %v", v)
	}
	if got[BaseKey]["session_id"] != "s1" {
		t.Errorf("base values missing: %v", got[BaseKey])
	}
}

func TestExecuteContextHoldsOnlyDependencies(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register(task.BudgetStatus, constant(map[string]any{"budget": 1.0}))
	reg.Register(task.TrendsOverview, constant(map[string]any{"trend": 2.0}))
	var seen agent.Context
	reg.Register(task.SavingsAdvice, func(_ context.Context, _ task.Params, deps agent.Context) (map[string]any, error) {
		seen = deps
		deps["a"]["budget"] = 99.0
		return nil, nil
	})

	dag := dagOf(
		mkTask("a", task.BudgetStatus),
		mkTask("b", task.TrendsOverview),
		mkTask("c", task.SavingsAdvice, "a"),
	)
	results, err := NewScheduler(reg, 2, zap.NewNop()).Execute(context.Background(), dag, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, ok := seen["b"]; ok {
		t.Error("c should not see b")
	}
	if _, ok := seen[string(task.TrendsOverview)]; ok {
		t.Error("c should not see trends_overview by type")
	}
	if results["a"].Data["budget"] != 1.0 {
		t.Error("handlers must receive a copy of upstream data")
	}
	if results["c"].Data == nil {
		t.Error("nil handler data should become an empty map")
	}
}

func TestExecuteCycleRunsNothing(t *testing.T) {
	var calls atomic.Int32
	reg := agent.NewRegistry()
	reg.Register(task.BudgetStatus, func(context.Context, task.Params, agent.Context) (map[string]any, error) {
		calls.Add(1)
		return nil, nil
	})
	dag := dagOf(
		mkTask("a", task.BudgetStatus, "b"),
		mkTask("b", task.BudgetStatus, "a"),
		mkTask("c", task.BudgetStatus),
	)
	_, err := NewScheduler(reg, 2, zap.NewNop()).Execute(context.Background(), dag, nil)
	var ce *task.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if calls.Load() != 0 {
		t.Error("no task may run when the dag has a cycle")
	}
}

func TestExecuteDeadline(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register(task.BudgetStatus, func(context.Context, task.Params, agent.Context) (map[string]any, error) {
		time.Sleep(60 * time.Millisecond)
		return map[string]any{"budget": 1.0}, nil
	})
	var lateCalls atomic.Int32
	reg.Register(task.SavingsAdvice, func(context.Context, task.Params, agent.Context) (map[string]any, error) {
		lateCalls.Add(1)
		return nil, nil
	})

	dag := dagOf(
		mkTask("a", task.BudgetStatus),
		mkTask("b", task.SavingsAdvice, "a"),
		mkTask("c", task.SavingsAdvice, "b"),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	results, err := NewScheduler(reg, 2, zap.NewNop()).Execute(ctx, dag, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !results["a"].Succeeded() {
		t.Errorf("in-flight handler should be allowed to finish: %+v", results["a"])
	}
	for _, id := range []string{"b", "c"} {
		r := results[id]
		if !r.TimedOut || r.Status != task.StatusFailed || r.Error != "deadline exceeded" {
			t.Errorf("%s: %+v", id, r)
		}
	}
	if lateCalls.Load() != 0 {
		t.Error("no level may start after the deadline")
	}
}

func TestExecuteInFlightHandlerKeepsContextPastDeadline(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register(task.BudgetStatus, func(ctx context.Context, _ task.Params, _ agent.Context) (map[string]any, error) {
		time.Sleep(60 * time.Millisecond)
		// a ledger read at this point must not be aborted by the request deadline
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return map[string]any{"budget": 1.0}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	results, err := NewScheduler(reg, 1, zap.NewNop()).Execute(ctx, dagOf(mkTask("a", task.BudgetStatus)), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r := results["a"]; !r.Succeeded() {
		t.Errorf("handler lost its context at the deadline: %+v", r)
	}
}

func TestExecuteGraceIsBounded(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register(task.BudgetStatus, func(ctx context.Context, _ task.Params, _ agent.Context) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	results, err := NewScheduler(reg, 1, zap.NewNop(), WithTaskGrace(20*time.Millisecond)).
		Execute(ctx, dagOf(mkTask("a", task.BudgetStatus)), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("handler ran %v past a 20ms grace", elapsed)
	}
	if r := results["a"]; r.Succeeded() || !r.TimedOut {
		t.Errorf("want a timed out failure, got %+v", r)
	}
}

func TestExecuteCancelReachesHandler(t *testing.T) {
	started := make(chan struct{})
	reg := agent.NewRegistry()
	reg.Register(task.BudgetStatus, func(ctx context.Context, _ task.Params, _ agent.Context) (map[string]any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	go func() {
		<-started
		cancel()
	}()
	results, err := NewScheduler(reg, 1, zap.NewNop()).Execute(ctx, dagOf(mkTask("a", task.BudgetStatus)), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r := results["a"]; r.Succeeded() || r.TimedOut {
		t.Errorf("want a cancelled failure, got %+v", r)
	}
}

func TestExecuteRecoversPanics(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register(task.BudgetStatus, func(context.Context, task.Params, agent.Context) (map[string]any, error) {
		var m map[string]any
		m["boom"] = 1
		return m, nil
	})
	reg.Register(task.TrendsOverview, constant(map[string]any{}))

	results, err := NewScheduler(reg, 2, zap.NewNop()).Execute(context.Background(),
		dagOf(mkTask("a", task.BudgetStatus), mkTask("b", task.TrendsOverview)), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if results["a"].Status != task.StatusFailed || results["a"].Error == "" {
		t.Errorf("panic should become a task error: %+v", results["a"])
	}
	if !results["b"].Succeeded() {
		t.Error("sibling should be unaffected")
	}
}

func TestExecuteUnknownHandler(t *testing.T) {
	results, err := NewScheduler(agent.NewRegistry(), 1, zap.NewNop()).Execute(context.Background(),
		dagOf(mkTask("a", task.BudgetStatus)), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if results["a"].Succeeded() {
		t.Error("missing handler should fail the task")
	}
}

func TestExecuteRespectsWorkerLimit(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0
	reg := agent.NewRegistry()
	reg.Register(task.CategorySpend, func(context.Context, task.Params, agent.Context) (map[string]any, error) {
		mu.Lock()
		running++
		peak = max(peak, running)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil, nil
	})

	var tasks []*task.Task
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		tasks = append(tasks, mkTask(id, task.CategorySpend))
	}
	if _, err := NewScheduler(reg, 2, zap.NewNop()).Execute(context.Background(), dagOf(tasks...), nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if peak > 2 {
		t.Errorf("expected at most 2 concurrent handlers, saw %d", peak)
	}
	if peak < 2 {
		t.Logf("handlers never overlapped (peak %d)", peak)
	}
}

func TestDefaultWorkers(t *testing.T) {
	if n := DefaultWorkers(); n < 1 || n > 8 {
		t.Errorf("DefaultWorkers() = %d", n)
	}
}
