package marc

import (
	"fmt"
	"strconv"
	"strings"
)

// JSONPath is a small JSON path selector over decoded JSON values.
//
// Supported forms:
// - $.a.b.c
// - a.b.c
// - a[0].b
// - a[*].b (every element)
type JSONPath struct {
	expr  string
	steps []jsonStep
}

type jsonStep struct {
	key   string
	index int
	all   bool
	hasIx bool
}

// CompileJSONPath parses expr.
func CompileJSONPath(expr string) (*JSONPath, error) {
	orig := expr
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("json path is empty")
	}
	expr = strings.TrimPrefix(expr, "$")
	expr = strings.TrimPrefix(expr, ".")

	var steps []jsonStep
	for _, seg := range strings.Split(expr, ".") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		step, err := parseJSONSegment(seg)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("json path %q has no steps", orig)
	}
	return &JSONPath{expr: orig, steps: steps}, nil
}

func parseJSONSegment(seg string) (jsonStep, error) {
	open := strings.IndexByte(seg, '[')
	if open == -1 {
		return jsonStep{key: seg}, nil
	}
	if !strings.HasSuffix(seg, "]") {
		return jsonStep{}, fmt.Errorf("invalid json path segment %q", seg)
	}
	step := jsonStep{key: strings.TrimSpace(seg[:open]), hasIx: true}
	idx := strings.TrimSpace(seg[open+1 : len(seg)-1])
	switch {
	case idx == "*":
		step.all = true
	case idx == "":
		return jsonStep{}, fmt.Errorf("empty index in json path segment %q", seg)
	default:
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return jsonStep{}, fmt.Errorf("invalid index %q", idx)
		}
		step.index = n
	}
	return step, nil
}

// String returns the source expression.
func (p *JSONPath) String() string { return p.expr }

// EvalAll returns every value selected by the path, in document order.
// A wildcard over a missing or non-array value selects nothing.
func (p *JSONPath) EvalAll(v any) []any {
	cur := []any{v}
	for _, step := range p.steps {
		var next []any
		for _, c := range cur {
			if step.key != "" {
				m, ok := c.(map[string]any)
				if !ok {
					continue
				}
				val, ok := m[step.key]
				if !ok || val == nil {
					continue
				}
				c = val
			}
			if !step.hasIx {
				next = append(next, c)
				continue
			}
			arr, ok := c.([]any)
			if !ok {
				continue
			}
			if step.all {
				next = append(next, arr...)
				continue
			}
			if step.index < len(arr) {
				next = append(next, arr[step.index])
			}
		}
		cur = next
		if len(cur) == 0 {
			return nil
		}
	}
	return cur
}
