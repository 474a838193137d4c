package task

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
)

func mk(id string, deps ...string) *Task {
	return &Task{ID: id, Type: BudgetStatus, DependsOn: deps}
}

func TestLevels(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*Task
		want  [][]string
	}{
		{"single", []*Task{mk("a")}, [][]string{{"a"}}},
		{"independent", []*Task{mk("a"), mk("b"), mk("c")}, [][]string{{"a", "b", "c"}}},
		{"chain", []*Task{mk("c", "b"), mk("b", "a"), mk("a")}, [][]string{{"a"}, {"b"}, {"c"}}},
		{"diamond", []*Task{mk("a"), mk("b", "a"), mk("c", "a"), mk("d", "b", "c")},
			[][]string{{"a"}, {"b", "c"}, {"d"}}},
		{"longest path wins", []*Task{mk("a"), mk("b", "a"), mk("c", "a", "b")},
			[][]string{{"a"}, {"b"}, {"c"}}},
		{"duplicate dep", []*Task{mk("a"), mk("b", "a", "a")}, [][]string{{"a"}, {"b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			levels, err := Levels(&DAG{Tasks: tt.tasks})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(levels) != len(tt.want) {
				t.Fatalf("got %d levels, want %d", len(levels), len(tt.want))
			}
			for i := range levels {
				if len(levels[i]) != len(tt.want[i]) {
					t.Fatalf("level %d: got %d tasks, want %d", i, len(levels[i]), len(tt.want[i]))
				}
				for j, task := range levels[i] {
					if task.ID != tt.want[i][j] {
						t.Errorf("level %d[%d]: got %s, want %s", i, j, task.ID, tt.want[i][j])
					}
				}
			}
		})
	}
}

func TestLevelsCycle(t *testing.T) {
	d := &DAG{Tasks: []*Task{mk("a"), mk("b", "a", "c"), mk("c", "b")}}
	_, err := Levels(d)
	var ce *CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(ce.Remaining) != 2 {
		t.Errorf("got remaining %v, want [b c]", ce.Remaining)
	}
}

func TestLevelsSelfLoop(t *testing.T) {
	_, err := Levels(&DAG{Tasks: []*Task{mk("a", "a")}})
	var ce *CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CycleError, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		dag  *DAG
		want error
	}{
		{"empty", &DAG{}, ErrEmptyDAG},
		{"duplicate", &DAG{Tasks: []*Task{mk("a"), mk("a")}}, ErrDuplicateTask},
		{"missing dep", &DAG{Tasks: []*Task{mk("a", "zzz")}}, ErrDepNotFound},
		{"unknown type", &DAG{Tasks: []*Task{{ID: "a", Type: "launch_rocket"}}}, ErrUnknownTaskType},
		{"ok", &DAG{Tasks: []*Task{mk("a"), mk("b", "a")}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.dag)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

// Every level assignment must be a valid topological layering: each
// dependency sits in a strictly earlier level.
func TestLevelsLayeringProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(12)
		tasks := make([]*Task, n)
		for i := 0; i < n; i++ {
			var deps []string
			// only point backwards so the graph is acyclic
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					deps = append(deps, fmt.Sprintf("t%d", j))
				}
			}
			tasks[i] = mk(fmt.Sprintf("t%d", i), deps...)
		}
		rng.Shuffle(len(tasks), func(i, j int) { tasks[i], tasks[j] = tasks[j], tasks[i] })

		levels, err := Levels(&DAG{Tasks: tasks})
		if err != nil {
			t.Fatalf("iter %d: %v", iter, err)
		}
		levelOf := make(map[string]int)
		total := 0
		for i, lvl := range levels {
			for _, task := range lvl {
				levelOf[task.ID] = i
				total++
			}
		}
		if total != n {
			t.Fatalf("iter %d: %d tasks placed, want %d", iter, total, n)
		}
		for _, task := range tasks {
			for _, dep := range task.DependsOn {
				if levelOf[dep] >= levelOf[task.ID] {
					t.Fatalf("iter %d: %s (level %d) depends on %s (level %d)",
						iter, task.ID, levelOf[task.ID], dep, levelOf[dep])
				}
			}
		}
	}
}

func TestParamsAccessors(t *testing.T) {
	p := Params{
		"amount":     "₹1,50,000",
		"short":      "50k",
		"months":     float64(6),
		"categories": []any{"Food", 3, "Travel"},
		"adjust":     map[string]any{"Food": float64(-5000), "Travel": "-2000"},
		"blank":      "  ",
	}
	if got := p.Float("amount", 0); got != 150000 {
		t.Errorf("amount: got %v", got)
	}
	if got := p.Float("short", 0); got != 50000 {
		t.Errorf("short: got %v", got)
	}
	if got := p.Int("months", 0); got != 6 {
		t.Errorf("months: got %v", got)
	}
	if got := p.Strings("categories"); len(got) != 2 {
		t.Errorf("categories: got %v", got)
	}
	if got := p.FloatMap("adjust"); got["Food"] != -5000 || got["Travel"] != -2000 {
		t.Errorf("adjust: got %v", got)
	}
	if p.Has("blank") || p.Has("missing") {
		t.Error("blank and missing params should not be present")
	}
}
