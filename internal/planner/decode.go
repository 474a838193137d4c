package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nidhogg/finsight/internal/task"
)

// ErrMalformedPlan means the LLM reply was not a usable plan.
var ErrMalformedPlan = errors.New("malformed plan")

type rawPlan struct {
	QuerySummary          string  `json:"query_summary"`
	Operations            []rawOp `json:"operations"`
	RequiresClarification bool    `json:"requires_clarification"`
	ClarificationQuestion *string `json:"clarification_question"`
}

type rawOp struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Params      map[string]any    `json:"params"`
	Description string            `json:"description"`
	DependsOn   []json.RawMessage `json:"depends_on"`
}

// Decode parses an LLM reply into a validated DAG. The reply is untrusted:
// every type tag, id and dependency is checked and the graph must drain
// under Kahn's algorithm before it is returned.
func Decode(content, message string) (*task.DAG, error) {
	body := stripFences(content)
	var raw rawPlan
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}

	if raw.RequiresClarification && len(raw.Operations) == 0 {
		q := ""
		if raw.ClarificationQuestion != nil {
			q = strings.TrimSpace(*raw.ClarificationQuestion)
		}
		return task.NewClarify(message, q), nil
	}
	if len(raw.Operations) == 0 {
		return nil, fmt.Errorf("%w: no operations", ErrMalformedPlan)
	}

	ids := make([]string, len(raw.Operations))
	for i, op := range raw.Operations {
		ids[i] = strings.TrimSpace(op.ID)
		if ids[i] == "" {
			ids[i] = fmt.Sprintf("op_%d", i+1)
		}
	}

	dag := &task.DAG{Message: message, Summary: raw.QuerySummary, Source: task.SourceLLM}
	for i, op := range raw.Operations {
		typ, err := task.ParseType(strings.TrimSpace(op.Type))
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i+1, err)
		}
		deps, err := resolveDeps(op.DependsOn, ids)
		if err != nil {
			return nil, fmt.Errorf("operation %s: %w", ids[i], err)
		}
		params := task.Params(op.Params)
		if params == nil {
			params = task.Params{}
		}
		dag.Tasks = append(dag.Tasks, &task.Task{
			ID:          ids[i],
			Type:        typ,
			Params:      params,
			DependsOn:   deps,
			Description: op.Description,
			Status:      task.StatusPending,
		})
	}
	chainScenario(dag)

	if err := task.Validate(dag); err != nil {
		return nil, err
	}
	if dag.IsClarify() {
		dag.Source = task.SourceClarify
		dag.Question = dag.Tasks[0].Params.String("question")
	}
	return dag, nil
}

// resolveDeps accepts operation ids or zero-based operation indices.
// Unresolvable references are kept verbatim so validation rejects them.
func resolveDeps(raw []json.RawMessage, ids []string) ([]string, error) {
	var out []string
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			s = strings.TrimSpace(s)
			if slices.Contains(ids, s) {
				out = append(out, s)
				continue
			}
			if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < len(ids) {
				out = append(out, ids[n])
				continue
			}
			out = append(out, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(r, &n); err != nil {
			return nil, fmt.Errorf("%w: dependency %s is neither id nor index", ErrMalformedPlan, string(r))
		}
		idx := int(n)
		if float64(idx) != n || idx < 0 || idx >= len(ids) {
			return nil, fmt.Errorf("dependency index %v: %w", n, task.ErrDepNotFound)
		}
		out = append(out, ids[idx])
	}
	return out, nil
}

// chainScenario makes an affordability check that names no dependency read
// from the closest earlier scenario, the way the planner is told to.
func chainScenario(dag *task.DAG) {
	var last string
	for _, t := range dag.Tasks {
		switch t.Type {
		case task.CustomScenario, task.FutureProjection:
			last = t.ID
		case task.AffordabilityCheck:
			if len(t.DependsOn) == 0 && last != "" {
				t.DependsOn = []string{last}
			}
		}
	}
}

// stripFences removes markdown code fences and any prose around the JSON
// object.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		lines := strings.Split(s, "\n")
		lines = lines[1:]
		if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
			lines = lines[:n-1]
		}
		s = strings.TrimSpace(strings.Join(lines, "\n"))
	}
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i > 0 && j > i {
		s = s[i : j+1]
	}
	return s
}
