package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// Eval resolves the condition tree against a situation record. Evaluation
// is pure and synchronous; unknown operators are an error, missing fields
// simply fail the comparison.
func (c *Condition) Eval(situation map[string]any) (bool, error) {
	switch c.Operator {
	case OpAnd:
		for _, child := range c.Children {
			ok, err := child.Eval(situation)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return len(c.Children) > 0, nil
	case OpOr:
		for _, child := range c.Children {
			ok, err := child.Eval(situation)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	val, found := lookup(situation, c.Field)

	switch c.Operator {
	case OpExists:
		return found, nil
	case OpNotExists:
		return !found, nil
	case OpEquals:
		return found && looseEqual(val, c.Value), nil
	case OpNotEquals:
		return !found || !looseEqual(val, c.Value), nil
	case OpContains:
		return found && strings.Contains(
			strings.ToLower(toString(val)), strings.ToLower(toString(c.Value))), nil
	case OpNotContains:
		return !found || !strings.Contains(
			strings.ToLower(toString(val)), strings.ToLower(toString(c.Value))), nil
	case OpGreaterThan:
		a, okA := toFloat(val)
		b, okB := toFloat(c.Value)
		return found && okA && okB && a > b, nil
	case OpLessThan:
		a, okA := toFloat(val)
		b, okB := toFloat(c.Value)
		return found && okA && okB && a < b, nil
	case OpIn:
		return found && inList(val, c.Value), nil
	case OpNotIn:
		return !found || !inList(val, c.Value), nil
	}
	return false, fmt.Errorf("unknown operator: %s", c.Operator)
}

// lookup resolves a dotted path (e.g. "task.lead_id") through nested maps.
func lookup(m map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// looseEqual compares values across JSON's string/number blurriness.
func looseEqual(a, b any) bool {
	if fa, okA := toFloat(a); okA {
		if fb, okB := toFloat(b); okB {
			return fa == fb
		}
	}
	return toString(a) == toString(b)
}

func inList(val, list any) bool {
	items, ok := list.([]any)
	if !ok {
		if ss, okS := list.([]string); okS {
			for _, s := range ss {
				if looseEqual(val, s) {
					return true
				}
			}
		}
		return false
	}
	for _, item := range items {
		if looseEqual(val, item) {
			return true
		}
	}
	return false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
