package resolve

import "github.com/l0p7/confctrl/internal/spec"

// evaluateChain recursively evaluates a boolean rule chain. Referenced rule
// ids resolve against the evaluator's registry and contribute their *basic*
// evaluation (enabled plus primitive conditions) so a chain can never recurse
// back through dependency or chain logic. Unknown ids and unknown operators
// evaluate to false.
func (e *Evaluator) evaluateChain(chain *spec.Chain, ctx Context) bool {
	if chain == nil {
		return false
	}
	results := make([]bool, len(chain.Rules))
	for i, item := range chain.Rules {
		if item.Nested != nil {
			results[i] = e.evaluateChain(item.Nested, ctx)
			continue
		}
		rule, ok := e.rules[item.RuleID]
		if !ok {
			results[i] = false
			continue
		}
		results[i] = e.basicEval(rule, ctx)
	}

	switch chain.Operator {
	case spec.ChainAnd:
		for _, r := range results {
			if !r {
				return false
			}
		}
		return true
	case spec.ChainOr:
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	case spec.ChainNot:
		if len(results) == 0 {
			return false
		}
		return !results[0]
	case spec.ChainXor:
		count := 0
		for _, r := range results {
			if r {
				count++
			}
		}
		return count == 1
	default:
		return false
	}
}
