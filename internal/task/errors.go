package task

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownTaskType = errors.New("unknown task type")
	ErrDepNotFound     = errors.New("dependency not found")
	ErrDuplicateTask   = errors.New("duplicate task id")
	ErrEmptyDAG        = errors.New("dag has no tasks")
	ErrRateLimited     = errors.New("llm rate limit reached")
)

// CycleError reports the tasks left over after Kahn's algorithm drained every
// zero-indegree node. It always indicates a planning defect.
type CycleError struct {
	Remaining []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among tasks: %s", strings.Join(e.Remaining, ", "))
}

// PlanningError means no plan could be produced, not even by the fallback.
type PlanningError struct {
	Reason string
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planning failed: %s: %v", e.Reason, e.Err)
	}
	return "planning failed: " + e.Reason
}

func (e *PlanningError) Unwrap() error { return e.Err }

// TaskError is a single compute agent failure.
type TaskError struct {
	TaskID string
	Type   Type
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s (%s): %v", e.TaskID, e.Type, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
