package resolve

import (
	"sort"

	"github.com/l0p7/confctrl/internal/spec"
)

// SortRules orders the evaluation set: Kahn's algorithm over the
// executeAfter/executeBefore edges with the ready queue kept sorted by
// priority descending (original position breaks ties for determinism).
// Ordering references to ids outside the set are ignored, and nodes trapped
// in a cycle are appended at the end in their original order so a malformed
// specification degrades instead of deadlocking.
func SortRules(rules []spec.Rule) []spec.Rule {
	if len(rules) <= 1 {
		return append([]spec.Rule(nil), rules...)
	}

	position := make(map[string]int, len(rules))
	for i, rule := range rules {
		position[rule.ID] = i
	}

	inDegree := make(map[string]int, len(rules))
	successors := make(map[string][]string, len(rules))
	for _, rule := range rules {
		inDegree[rule.ID] += 0
	}
	addEdge := func(from, to string) {
		if _, ok := position[from]; !ok {
			return
		}
		if _, ok := position[to]; !ok {
			return
		}
		successors[from] = append(successors[from], to)
		inDegree[to]++
	}
	for _, rule := range rules {
		for _, after := range rule.ExecuteAfter {
			addEdge(after, rule.ID)
		}
		for _, before := range rule.ExecuteBefore {
			addEdge(rule.ID, before)
		}
	}

	byID := indexRules(rules)
	var ready []string
	for _, rule := range rules {
		if inDegree[rule.ID] == 0 {
			ready = append(ready, rule.ID)
		}
	}
	sortReady := func() {
		sort.SliceStable(ready, func(i, j int) bool {
			left, right := byID[ready[i]], byID[ready[j]]
			if left.Priority != right.Priority {
				return left.Priority > right.Priority
			}
			return position[left.ID] < position[right.ID]
		})
	}
	sortReady()

	out := make([]spec.Rule, 0, len(rules))
	placed := make(map[string]struct{}, len(rules))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, byID[id])
		placed[id] = struct{}{}
		for _, next := range successors[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
		sortReady()
	}

	// Cycle remainder keeps original order.
	for _, rule := range rules {
		if _, ok := placed[rule.ID]; !ok {
			out = append(out, rule)
		}
	}
	return out
}
