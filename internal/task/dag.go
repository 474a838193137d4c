package task

import "fmt"

// Validate checks a planned DAG before it is ever executed: it must be
// non-empty, ids must be unique, every type must be known, every dependency
// must resolve inside the DAG and the graph must be acyclic.
func Validate(d *DAG) error {
	if d == nil || len(d.Tasks) == 0 {
		return ErrEmptyDAG
	}
	seen := make(map[string]bool, len(d.Tasks))
	for _, t := range d.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task with empty id: %w", ErrDuplicateTask)
		}
		if seen[t.ID] {
			return fmt.Errorf("task %s: %w", t.ID, ErrDuplicateTask)
		}
		seen[t.ID] = true
		if _, err := ParseType(string(t.Type)); err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
	}
	for _, t := range d.Tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("task %s depends on %s: %w", t.ID, dep, ErrDepNotFound)
			}
		}
	}
	_, err := Levels(d)
	return err
}

// Levels groups tasks with Kahn's algorithm. Level 0 holds the tasks with no
// dependencies; level k holds the tasks whose dependencies are all satisfied
// by levels before k. Order inside a level follows DAG order. If any task is
// left with a non-zero indegree after the queue drains, a *CycleError is
// returned and no levels are.
func Levels(d *DAG) ([][]*Task, error) {
	if d == nil || len(d.Tasks) == 0 {
		return nil, nil
	}

	indegree := make(map[string]int, len(d.Tasks))
	next := make(map[string][]string, len(d.Tasks))
	byID := make(map[string]*Task, len(d.Tasks))
	for _, t := range d.Tasks {
		byID[t.ID] = t
		for _, dep := range uniq(t.DependsOn) {
			indegree[t.ID]++
			next[dep] = append(next[dep], t.ID)
		}
	}
	for dep := range next {
		if _, ok := byID[dep]; !ok {
			return nil, fmt.Errorf("%s: %w", dep, ErrDepNotFound)
		}
	}

	var frontier []*Task
	for _, t := range d.Tasks {
		if indegree[t.ID] == 0 {
			frontier = append(frontier, t)
		}
	}

	var levels [][]*Task
	drained := 0
	for len(frontier) > 0 {
		levels = append(levels, frontier)
		drained += len(frontier)

		ready := make(map[string]bool)
		for _, t := range frontier {
			for _, child := range next[t.ID] {
				indegree[child]--
				if indegree[child] == 0 {
					ready[child] = true
				}
			}
		}
		frontier = nil
		for _, t := range d.Tasks {
			if ready[t.ID] {
				frontier = append(frontier, t)
			}
		}
	}

	if drained != len(d.Tasks) {
		var remaining []string
		for _, t := range d.Tasks {
			if indegree[t.ID] > 0 {
				remaining = append(remaining, t.ID)
			}
		}
		return nil, &CycleError{Remaining: remaining}
	}
	return levels, nil
}

func uniq(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
