package resolve

import (
	"testing"

	"github.com/l0p7/confctrl/internal/spec"
)

func enabledPtr(v bool) *bool { return &v }

func osCondition(os string) spec.Condition {
	return spec.Condition{Type: spec.ConditionOS, Operator: spec.OpEq, Value: os}
}

func TestEvaluateDisabledShortCircuits(t *testing.T) {
	rule := spec.Rule{
		ID:      "r",
		Enabled: enabledPtr(false),
		// Would match, but disabled wins.
		Conditions: []spec.Condition{osCondition("iOS")},
	}
	e := NewEvaluator([]spec.Rule{rule})
	decision := e.Evaluate(rule, Context{OS: "iOS"}, map[string]struct{}{})
	if decision.Matched || decision.Reason != ReasonDisabled {
		t.Fatalf("unexpected decision %#v", decision)
	}
}

func TestEvaluateExclusionIsAsymmetric(t *testing.T) {
	excluder := spec.Rule{ID: "first"}
	excluded := spec.Rule{ID: "second", Exclusions: []string{"first"}}
	e := NewEvaluator([]spec.Rule{excluder, excluded})

	matched := map[string]struct{}{}
	if d := e.Evaluate(excluder, Context{}, matched); !d.Matched {
		t.Fatalf("excluder should match: %#v", d)
	}
	matched["first"] = struct{}{}

	d := e.Evaluate(excluded, Context{}, matched)
	if d.Matched || d.Reason != ReasonExcluded {
		t.Fatalf("rule listing a matched exclusion must be excluded: %#v", d)
	}

	// Reverse order: if the excluded rule is evaluated first, nothing has
	// matched yet and it passes.
	e2 := NewEvaluator([]spec.Rule{excluder, excluded})
	if d := e2.Evaluate(excluded, Context{}, map[string]struct{}{}); !d.Matched {
		t.Fatalf("exclusion only applies to already-matched rules: %#v", d)
	}
}

func TestEvaluateDependencies(t *testing.T) {
	dependent := spec.Rule{ID: "child", Dependencies: []string{"parent"}}
	e := NewEvaluator([]spec.Rule{dependent})

	d := e.Evaluate(dependent, Context{}, map[string]struct{}{})
	if d.Matched || d.Reason != ReasonMissingDeps {
		t.Fatalf("unmet dependency must block the rule: %#v", d)
	}

	d = e.Evaluate(dependent, Context{}, map[string]struct{}{"parent": {}})
	if !d.Matched || d.Reason != ReasonConditionsOK {
		t.Fatalf("met dependency must unblock the rule: %#v", d)
	}
}

func TestEvaluateConditionsReasons(t *testing.T) {
	rule := spec.Rule{ID: "r", Conditions: []spec.Condition{osCondition("iOS")}}
	e := NewEvaluator([]spec.Rule{rule})

	if d := e.Evaluate(rule, Context{OS: "iOS"}, map[string]struct{}{}); !d.Matched || d.Reason != ReasonConditionsOK {
		t.Fatalf("unexpected decision %#v", d)
	}
	if d := e.Evaluate(rule, Context{OS: "Android"}, map[string]struct{}{}); d.Matched || d.Reason != ReasonNoMatch {
		t.Fatalf("unexpected decision %#v", d)
	}
}

func TestEvaluateChainOperators(t *testing.T) {
	ios := spec.Rule{ID: "ios", Conditions: []spec.Condition{osCondition("iOS")}}
	android := spec.Rule{ID: "android", Conditions: []spec.Condition{osCondition("Android")}}
	always := spec.Rule{ID: "always"}

	chained := func(op string, items ...spec.ChainItem) spec.Rule {
		return spec.Rule{ID: "chained", Chain: &spec.Chain{Operator: op, Rules: items}}
	}
	id := func(ruleID string) spec.ChainItem { return spec.ChainItem{RuleID: ruleID} }

	ctx := Context{OS: "iOS"}

	cases := []struct {
		name string
		rule spec.Rule
		want bool
	}{
		{"AND all pass", chained(spec.ChainAnd, id("ios"), id("always")), true},
		{"AND one fails", chained(spec.ChainAnd, id("ios"), id("android")), false},
		{"OR one passes", chained(spec.ChainOr, id("android"), id("ios")), true},
		{"OR none pass", chained(spec.ChainOr, id("android")), false},
		{"NOT inverts", chained(spec.ChainNot, id("android")), true},
		{"NOT of a pass", chained(spec.ChainNot, id("ios")), false},
		{"XOR exactly one", chained(spec.ChainXor, id("ios"), id("android")), true},
		{"XOR two pass", chained(spec.ChainXor, id("ios"), id("always")), false},
		{"XOR none pass", chained(spec.ChainXor, id("android")), false},
		{"unknown id fails", chained(spec.ChainAnd, id("ghost")), false},
		{"unknown operator fails", chained("NAND", id("ios")), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEvaluator([]spec.Rule{ios, android, always, tc.rule})
			d := e.Evaluate(tc.rule, ctx, map[string]struct{}{})
			if d.Matched != tc.want {
				t.Fatalf("chain decision %v, want %v (%#v)", d.Matched, tc.want, d)
			}
			if !tc.want && d.Reason != ReasonChainFailed {
				t.Fatalf("failed chains must report %q, got %q", ReasonChainFailed, d.Reason)
			}
		})
	}
}

func TestEvaluateChainNested(t *testing.T) {
	ios := spec.Rule{ID: "ios", Conditions: []spec.Condition{osCondition("iOS")}}
	android := spec.Rule{ID: "android", Conditions: []spec.Condition{osCondition("Android")}}
	always := spec.Rule{ID: "always"}

	rule := spec.Rule{
		ID: "outer",
		Chain: &spec.Chain{
			Operator: spec.ChainOr,
			Rules: []spec.ChainItem{
				{RuleID: "android"},
				{Nested: &spec.Chain{
					Operator: spec.ChainAnd,
					Rules:    []spec.ChainItem{{RuleID: "ios"}, {RuleID: "always"}},
				}},
			},
		},
	}

	e := NewEvaluator([]spec.Rule{ios, android, always, rule})
	if d := e.Evaluate(rule, Context{OS: "iOS"}, map[string]struct{}{}); !d.Matched {
		t.Fatalf("nested chain should satisfy OR via the AND branch: %#v", d)
	}
	if d := e.Evaluate(rule, Context{OS: "Windows"}, map[string]struct{}{}); d.Matched {
		t.Fatalf("no branch should pass for Windows: %#v", d)
	}
}

func TestChainUsesBasicEvaluationOnly(t *testing.T) {
	// The referenced rule has an unmet dependency. Basic evaluation ignores
	// dependencies, so the chain still sees it as passing.
	dependent := spec.Rule{ID: "dep-rule", Dependencies: []string{"never-matched"}}
	rule := spec.Rule{
		ID:    "chained",
		Chain: &spec.Chain{Operator: spec.ChainAnd, Rules: []spec.ChainItem{{RuleID: "dep-rule"}}},
	}
	e := NewEvaluator([]spec.Rule{dependent, rule})
	if d := e.Evaluate(rule, Context{}, map[string]struct{}{}); !d.Matched {
		t.Fatalf("chain references use basic evaluation, ignoring dependencies: %#v", d)
	}

	// Disabled rules do fail basic evaluation.
	disabled := spec.Rule{ID: "off", Enabled: enabledPtr(false)}
	rule2 := spec.Rule{
		ID:    "chained2",
		Chain: &spec.Chain{Operator: spec.ChainAnd, Rules: []spec.ChainItem{{RuleID: "off"}}},
	}
	e2 := NewEvaluator([]spec.Rule{disabled, rule2})
	if d := e2.Evaluate(rule2, Context{}, map[string]struct{}{}); d.Matched {
		t.Fatalf("disabled rules must fail basic evaluation inside chains: %#v", d)
	}
}
