package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidhogg/finsight/internal/agent"
	"github.com/nidhogg/finsight/internal/metrics"
	"github.com/nidhogg/finsight/internal/task"
	"github.com/nidhogg/finsight/internal/trace"
)

// BaseKey is the context entry holding the request-wide values every task
// can read.
const BaseKey = "base"

// Executor runs the compute agent for one task type.
type Executor interface {
	Execute(ctx context.Context, t task.Type, params task.Params, deps agent.Context) (map[string]any, error)
}

// DefaultTaskGrace is how long a handler already running at the request
// deadline may keep using its context.
const DefaultTaskGrace = 5 * time.Second

// Scheduler executes a DAG level by level with a bounded worker pool.
type Scheduler struct {
	exec    Executor
	workers int
	grace   time.Duration
	logger  *zap.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTaskGrace sets how far past the request deadline an in-flight handler's
// context stays live.
func WithTaskGrace(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// NewScheduler creates a scheduler. workers <= 0 means DefaultWorkers().
func NewScheduler(exec Executor, workers int, logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	s := &Scheduler{exec: exec, workers: workers, grace: DefaultTaskGrace, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Execute runs every task of dag and returns the results keyed by task id.
// A cyclic DAG is rejected before anything runs. Levels run one after
// another; tasks inside a level run concurrently. A failed task fails its
// dependents without invoking them. When ctx expires no further level starts
// and the tasks not yet resolved are marked as timed out.
func (s *Scheduler) Execute(ctx context.Context, dag *task.DAG, base map[string]any) (map[string]*task.Result, error) {
	levels, err := task.Levels(dag)
	if err != nil {
		return nil, err
	}
	tr := trace.FromContext(ctx)
	results := make(map[string]*task.Result, len(dag.Tasks))

	for n, level := range levels {
		if ctx.Err() != nil {
			s.logger.Warn("deadline reached before level",
				zap.Int("level", n), zap.Int("levels", len(levels)))
			break
		}

		out := make([]*task.Result, len(level))
		skipped := make([]bool, len(level))
		g := new(errgroup.Group)
		g.SetLimit(s.workers)
		for i, t := range level {
			if dep := failedDependency(t, results); dep != "" {
				out[i] = &task.Result{
					TaskID: t.ID,
					Type:   t.Type,
					Status: task.StatusFailed,
					Error:  fmt.Sprintf("dependency %s failed", dep),
				}
				skipped[i] = true
				continue
			}
			deps := contextFor(t, results, base)
			g.Go(func() error {
				out[i] = s.run(ctx, tr, t, deps)
				return nil
			})
		}
		_ = g.Wait()

		for i, t := range level {
			r := out[i]
			t.Status = r.Status
			t.Result = r
			results[t.ID] = r
			if skipped[i] {
				metrics.TasksTotal.WithLabelValues(string(t.Type), string(r.Status)).Inc()
				tr.Record(trace.TaskFailed, string(t.Type), t.ID, 0, map[string]any{"error": r.Error})
			}
		}
	}

	for _, t := range dag.Tasks {
		if _, ok := results[t.ID]; ok {
			continue
		}
		r := &task.Result{
			TaskID:   t.ID,
			Type:     t.Type,
			Status:   task.StatusFailed,
			Error:    "deadline exceeded",
			TimedOut: true,
		}
		t.Status = r.Status
		t.Result = r
		results[t.ID] = r
		metrics.TasksTotal.WithLabelValues(string(t.Type), "timed_out").Inc()
		tr.Record(trace.TaskFailed, string(t.Type), t.ID, 0, map[string]any{"error": r.Error, "timed_out": true})
	}
	return results, nil
}

func (s *Scheduler) run(ctx context.Context, tr *trace.Trace, t *task.Task, deps agent.Context) (res *task.Result) {
	start := time.Now()
	t.Status = task.StatusRunning
	tr.Record(trace.TaskStarted, string(t.Type), t.ID, 0, map[string]any{"depends_on": t.DependsOn})

	res = &task.Result{TaskID: t.ID, Type: t.Type}
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("compute agent panicked",
				zap.String("task", t.ID),
				zap.String("type", string(t.Type)),
				zap.Any("panic", p))
			res.Status = task.StatusFailed
			res.Data = nil
			res.Error = (&task.TaskError{TaskID: t.ID, Type: t.Type, Err: fmt.Errorf("panic: %v", p)}).Error()
		}
		res.Duration = time.Since(start)
		metrics.TasksTotal.WithLabelValues(string(t.Type), string(res.Status)).Inc()
		metrics.TaskDuration.WithLabelValues(string(t.Type)).Observe(res.Duration.Seconds())
		if res.Status == task.StatusSucceeded {
			tr.Record(trace.TaskCompleted, string(t.Type), t.ID, res.Duration, nil)
		} else {
			tr.Record(trace.TaskFailed, string(t.Type), t.ID, res.Duration, map[string]any{"error": res.Error})
		}
	}()

	hctx, cancel := s.taskContext(ctx)
	defer cancel()
	data, err := s.exec.Execute(hctx, t.Type, t.Params.Clone(), deps)
	if err != nil {
		terr := &task.TaskError{TaskID: t.ID, Type: t.Type, Err: err}
		s.logger.Warn("task failed", zap.Error(terr))
		res.Status = task.StatusFailed
		res.Error = err.Error()
		res.TimedOut = errors.Is(err, context.DeadlineExceeded)
		return res
	}
	if data == nil {
		data = map[string]any{}
	}
	res.Status = task.StatusSucceeded
	res.Data = data
	return res
}

// taskContext gives a started handler a context that outlives the request
// deadline by s.grace, so its current ledger reads are not cut off. Any other
// cancellation of ctx still reaches the handler at once.
func (s *Scheduler) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	hctx, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline.Add(s.grace))
	stop := context.AfterFunc(ctx, func() {
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cancel()
		}
	})
	return hctx, func() {
		stop()
		cancel()
	}
}

// failedDependency returns the first dependency of t that did not succeed.
func failedDependency(t *task.Task, results map[string]*task.Result) string {
	for _, dep := range t.DependsOn {
		if r, ok := results[dep]; ok && !r.Succeeded() {
			return dep
		}
	}
	return ""
}

// contextFor builds the slice of results t may read: each dependency's data
// under its id and under its type, plus the request-wide base values. Maps
// are copied so handlers running side by side never share one.
func contextFor(t *task.Task, results map[string]*task.Result, base map[string]any) agent.Context {
	c := make(agent.Context, 2*len(t.DependsOn)+1)
	if len(base) > 0 {
		c[BaseKey] = maps.Clone(base)
	}
	for _, dep := range t.DependsOn {
		r, ok := results[dep]
		if !ok || !r.Succeeded() {
			continue
		}
		data := maps.Clone(r.Data)
		c[dep] = data
		if _, taken := c[string(r.Type)]; !taken {
			c[string(r.Type)] = data
		}
	}
	return c
}
