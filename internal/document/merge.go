// Package document implements the three strategies for combining arbitrary
// configuration documents. Documents are the decoded-JSON shape
// (map[string]any with nested maps, []any arrays, and scalars); all three
// operations leave their inputs untouched.
package document

import "github.com/l0p7/confctrl/internal/spec"

// Merge deep-merges right into left. Keys only in left survive; when both
// sides hold a mapping the merge recurses; any other collision (including
// arrays, which replace atomically) takes right's value.
func Merge(left, right map[string]any) map[string]any {
	out := spec.CloneDocument(left)
	if out == nil {
		out = make(map[string]any, len(right))
	}
	for key, rightValue := range right {
		leftValue, exists := out[key]
		leftMap, leftIsMap := leftValue.(map[string]any)
		rightMap, rightIsMap := rightValue.(map[string]any)
		if exists && leftIsMap && rightIsMap {
			out[key] = Merge(leftMap, rightMap)
			continue
		}
		out[key] = cloneValue(rightValue)
	}
	return out
}

// Override discards left entirely; the result is a copy of right.
func Override(_, right map[string]any) map[string]any {
	out := spec.CloneDocument(right)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

// Inherit starts from right and overlays left at the top level so existing
// keys in left win. The overlay is intentionally shallow: nested mappings are
// not recursed.
func Inherit(left, right map[string]any) map[string]any {
	out := spec.CloneDocument(right)
	if out == nil {
		out = make(map[string]any, len(left))
	}
	for key, value := range left {
		out[key] = cloneValue(value)
	}
	return out
}

// Apply dispatches on a rule resolution strategy, defaulting to Merge for
// unrecognized names.
func Apply(strategy string, left, right map[string]any) map[string]any {
	switch strategy {
	case spec.StrategyOverride:
		return Override(left, right)
	case spec.StrategyInherit:
		return Inherit(left, right)
	default:
		return Merge(left, right)
	}
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return spec.CloneDocument(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
