package resolve

import (
	"testing"
	"time"

	"github.com/l0p7/confctrl/internal/clientinfo"
	"github.com/l0p7/confctrl/internal/spec"
)

func TestEvaluateConditionEquality(t *testing.T) {
	ctx := Context{OS: "iOS"}

	if !EvaluateCondition(spec.Condition{Type: spec.ConditionOS, Operator: spec.OpEq, Value: "iOS"}, ctx) {
		t.Fatalf("eq on matching os must pass")
	}
	if EvaluateCondition(spec.Condition{Type: spec.ConditionOS, Operator: spec.OpEq, Value: "Android"}, ctx) {
		t.Fatalf("eq on mismatching os must fail")
	}
	if !EvaluateCondition(spec.Condition{Type: spec.ConditionOS, Operator: spec.OpNe, Value: "Android"}, ctx) {
		t.Fatalf("ne on mismatching os must pass")
	}
}

func TestEvaluateConditionMissingAttribute(t *testing.T) {
	empty := Context{}

	if EvaluateCondition(spec.Condition{Type: spec.ConditionOS, Operator: spec.OpEq, Value: "iOS"}, empty) {
		t.Fatalf("eq against a missing attribute must fail")
	}
	// Strict inequality: a missing value is not equal to anything.
	if !EvaluateCondition(spec.Condition{Type: spec.ConditionOS, Operator: spec.OpNe, Value: "iOS"}, empty) {
		t.Fatalf("ne against a missing attribute must pass")
	}
	if EvaluateCondition(spec.Condition{Type: spec.ConditionOS, Operator: spec.OpGt, Value: "a"}, empty) {
		t.Fatalf("ordered operators against a missing attribute must fail")
	}
	if EvaluateCondition(spec.Condition{Type: spec.ConditionOS, Operator: spec.OpIn, Value: []any{"iOS"}}, empty) {
		t.Fatalf("in against a missing attribute must fail")
	}
}

func TestEvaluateConditionAppVersionSemver(t *testing.T) {
	ctx := Context{AppVersion: "1.10.0"}

	// Lexicographic comparison would call 1.10.0 < 1.9.0; semver must not.
	if !EvaluateCondition(spec.Condition{Type: spec.ConditionAppVersion, Operator: spec.OpGt, Value: "1.9.0"}, ctx) {
		t.Fatalf("1.10.0 must order above 1.9.0")
	}
	if !EvaluateCondition(spec.Condition{Type: spec.ConditionAppVersion, Operator: spec.OpGte, Value: "1.10.0"}, ctx) {
		t.Fatalf("gte must accept equal versions")
	}
	if EvaluateCondition(spec.Condition{Type: spec.ConditionAppVersion, Operator: spec.OpLt, Value: "1.2.0"}, ctx) {
		t.Fatalf("1.10.0 is not below 1.2.0")
	}
}

func TestEvaluateConditionIn(t *testing.T) {
	ctx := Context{GeoCountry: "DE"}
	cond := spec.Condition{Type: spec.ConditionGeoCountry, Operator: spec.OpIn, Value: []any{"FR", "DE", "AT"}}
	if !EvaluateCondition(cond, ctx) {
		t.Fatalf("in must match a listed country")
	}
	cond.Value = []any{"US"}
	if EvaluateCondition(cond, ctx) {
		t.Fatalf("in must reject an unlisted country")
	}
	cond.Value = "DE"
	if EvaluateCondition(cond, ctx) {
		t.Fatalf("in requires an array value")
	}
}

func TestEvaluateConditionClientGeoWinsOverResolved(t *testing.T) {
	country := spec.Condition{Type: spec.ConditionGeoCountry, Operator: spec.OpEq, Value: "GB"}

	resolved := Context{GeoCountry: "US"}
	if EvaluateCondition(country, resolved) {
		t.Fatalf("ip-derived US must not satisfy a GB condition")
	}

	override := Context{
		GeoCountry: "US",
		ClientGeo:  &clientinfo.Location{Country: "GB", Region: "ENG"},
	}
	if !EvaluateCondition(country, override) {
		t.Fatalf("client-supplied country must win over the ip-derived one")
	}

	region := spec.Condition{Type: spec.ConditionGeoRegion, Operator: spec.OpEq, Value: "ENG"}
	if !EvaluateCondition(region, override) {
		t.Fatalf("client-supplied region must win over the ip-derived one")
	}

	// A partial override only shadows the fields it carries.
	partial := Context{
		GeoRegion: "CA",
		ClientGeo: &clientinfo.Location{Country: "GB"},
	}
	region.Value = "CA"
	if !EvaluateCondition(region, partial) {
		t.Fatalf("an override without a region must fall back to the ip-derived region")
	}
}

func TestEvaluateConditionRegex(t *testing.T) {
	ctx := Context{UserAgent: "MyApp/2.3 (iPhone; iOS 17.0)"}
	cond := spec.Condition{Type: spec.ConditionUserAgentMatch, Operator: spec.OpRegex, Value: `iPhone.*iOS`}
	if !EvaluateCondition(cond, ctx) {
		t.Fatalf("regex must match partially")
	}
	cond.Value = `^Android`
	if EvaluateCondition(cond, ctx) {
		t.Fatalf("non-matching regex must fail")
	}
	cond.Value = `([unclosed`
	if EvaluateCondition(cond, ctx) {
		t.Fatalf("invalid patterns must degrade to false")
	}
}

func TestEvaluateConditionTimeWindows(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	ctx := Context{Timestamp: now}

	after := spec.Condition{Type: spec.ConditionTimeAfter, Operator: spec.OpGt, Value: "2026-06-01T00:00:00Z"}
	if !EvaluateCondition(after, ctx) {
		t.Fatalf("timestamp after the boundary must pass time_after")
	}
	before := spec.Condition{Type: spec.ConditionTimeBefore, Operator: spec.OpLt, Value: now.Add(time.Hour).UnixMilli()}
	if !EvaluateCondition(before, ctx) {
		t.Fatalf("numeric millisecond boundaries must be accepted")
	}
	tooEarly := spec.Condition{Type: spec.ConditionTimeAfter, Operator: spec.OpGt, Value: "2027-01-01T00:00:00Z"}
	if EvaluateCondition(tooEarly, ctx) {
		t.Fatalf("timestamp before the boundary must fail time_after")
	}
}

func TestEvaluateConditionUnknownInputs(t *testing.T) {
	ctx := Context{OS: "iOS"}
	if EvaluateCondition(spec.Condition{Type: "shoe_size", Operator: spec.OpEq, Value: 42}, ctx) {
		t.Fatalf("unknown condition types must evaluate to false")
	}
	if EvaluateCondition(spec.Condition{Type: spec.ConditionOS, Operator: "resembles", Value: "iOS"}, ctx) {
		t.Fatalf("unknown operators must evaluate to false")
	}
}

func TestLooseEqualHeterogeneousNumbers(t *testing.T) {
	// JSON decodes every number to float64; comparisons must not care.
	if !looseEqual(3, float64(3)) {
		t.Fatalf("int and float64 with the same value must compare equal")
	}
	if looseEqual(3, float64(3.5)) {
		t.Fatalf("different numbers must not compare equal")
	}
	if !looseEqual(true, true) || looseEqual(true, false) {
		t.Fatalf("bool comparison broken")
	}
}
