package resolve

import "github.com/l0p7/confctrl/internal/spec"

// Evaluation reasons surfaced in rule decisions. The strings are part of the
// diagnostic contract consumed by clients of the resolve endpoint.
const (
	ReasonDisabled     = "Rule disabled"
	ReasonExcluded     = "Excluded by another rule"
	ReasonMissingDeps  = "Missing dependencies"
	ReasonChainFailed  = "Chain evaluation failed"
	ReasonConditionsOK = "All conditions met"
	ReasonNoMatch      = "Conditions not met"
)

// Decision is the outcome of evaluating one rule against a context.
type Decision struct {
	Matched bool      `json:"matched"`
	Rule    spec.Rule `json:"rule"`
	Reason  string    `json:"reason"`
}

// Evaluator decides per-rule matches for a single request. It carries the
// request's rule registry plus a basic-evaluation memo, so instances must
// never be shared across requests: matched-rule state and cache keys are
// request-local by construction.
type Evaluator struct {
	rules map[string]spec.Rule
	basic map[string]bool
}

// NewEvaluator builds a request-scoped evaluator over the materialized rule
// set.
func NewEvaluator(rules []spec.Rule) *Evaluator {
	return &Evaluator{
		rules: indexRules(rules),
		basic: make(map[string]bool, len(rules)),
	}
}

// Evaluate applies the short-circuit checks in contract order: disabled,
// exclusions, dependencies, chain, then the primitive conditions.
func (e *Evaluator) Evaluate(rule spec.Rule, ctx Context, matched map[string]struct{}) Decision {
	if !rule.IsEnabled() {
		return Decision{Matched: false, Rule: rule, Reason: ReasonDisabled}
	}
	for _, exclusion := range rule.Exclusions {
		if _, ok := matched[exclusion]; ok {
			return Decision{Matched: false, Rule: rule, Reason: ReasonExcluded}
		}
	}
	for _, dependency := range rule.Dependencies {
		if _, ok := matched[dependency]; !ok {
			return Decision{Matched: false, Rule: rule, Reason: ReasonMissingDeps}
		}
	}
	if rule.Chain != nil && !e.evaluateChain(rule.Chain, ctx) {
		return Decision{Matched: false, Rule: rule, Reason: ReasonChainFailed}
	}
	if e.basicConditions(rule, ctx) {
		return Decision{Matched: true, Rule: rule, Reason: ReasonConditionsOK}
	}
	return Decision{Matched: false, Rule: rule, Reason: ReasonNoMatch}
}

// basicEval is the chain-safe evaluation: enabled plus primitive conditions,
// memoized per rule for the life of the request.
func (e *Evaluator) basicEval(rule spec.Rule, ctx Context) bool {
	if result, ok := e.basic[rule.ID]; ok {
		return result
	}
	result := rule.IsEnabled() && e.basicConditions(rule, ctx)
	e.basic[rule.ID] = result
	return result
}

// basicConditions reports whether every primitive condition passes. An empty
// condition list always matches.
func (e *Evaluator) basicConditions(rule spec.Rule, ctx Context) bool {
	for _, cond := range rule.Conditions {
		if !EvaluateCondition(cond, ctx) {
			return false
		}
	}
	return true
}
