package resolve

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cast"

	"github.com/l0p7/confctrl/internal/spec"
)

// EvaluateCondition applies one primitive condition to the request context.
// The evaluator never fails: unknown types, unknown operators, bad regex
// patterns, and uncomparable values all degrade to false. The only exception
// is ne against a missing context attribute, which is true by strict
// inequality.
func EvaluateCondition(cond spec.Condition, ctx Context) bool {
	if !knownConditionType(cond.Type) {
		return false
	}
	value, present := contextValue(cond.Type, ctx)

	switch cond.Operator {
	case spec.OpEq:
		return present && looseEqual(value, cond.Value)
	case spec.OpNe:
		if !present {
			return true
		}
		return !looseEqual(value, cond.Value)
	case spec.OpGt, spec.OpLt, spec.OpGte, spec.OpLte:
		if !present {
			return false
		}
		cmp, ok := compareOrdered(cond.Type, value, cond.Value)
		if !ok {
			return false
		}
		switch cond.Operator {
		case spec.OpGt:
			return cmp > 0
		case spec.OpLt:
			return cmp < 0
		case spec.OpGte:
			return cmp >= 0
		default:
			return cmp <= 0
		}
	case spec.OpIn:
		if !present {
			return false
		}
		items, ok := cond.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if looseEqual(value, item) {
				return true
			}
		}
		return false
	case spec.OpRegex:
		if !present {
			return false
		}
		pattern, err := cast.ToStringE(cond.Value)
		if err != nil {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(stringify(value))
	default:
		return false
	}
}

// applyOperator is the generic operator evaluation used by custom load
// conditions, where the context value comes from the request's custom
// mapping rather than a typed attribute. Semantics match EvaluateCondition:
// unknown operators are false, and missing values fail everything except ne.
func applyOperator(value any, present bool, operator string, condValue any) bool {
	switch operator {
	case spec.OpEq:
		return present && looseEqual(value, condValue)
	case spec.OpNe:
		if !present {
			return true
		}
		return !looseEqual(value, condValue)
	case spec.OpGt, spec.OpLt, spec.OpGte, spec.OpLte:
		if !present {
			return false
		}
		cmp, ok := compareOrdered("", value, condValue)
		if !ok {
			return false
		}
		switch operator {
		case spec.OpGt:
			return cmp > 0
		case spec.OpLt:
			return cmp < 0
		case spec.OpGte:
			return cmp >= 0
		default:
			return cmp <= 0
		}
	case spec.OpIn:
		if !present {
			return false
		}
		items, ok := condValue.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if looseEqual(value, item) {
				return true
			}
		}
		return false
	case spec.OpRegex:
		if !present {
			return false
		}
		pattern, err := cast.ToStringE(condValue)
		if err != nil {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(stringify(value))
	default:
		return false
	}
}

func knownConditionType(condType string) bool {
	switch condType {
	case spec.ConditionAppVersion, spec.ConditionOS, spec.ConditionDevice,
		spec.ConditionGeoCountry, spec.ConditionGeoRegion,
		spec.ConditionTimeAfter, spec.ConditionTimeBefore,
		spec.ConditionUserAgentMatch:
		return true
	default:
		return false
	}
}

// looseEqual compares a context value against a condition value. Numbers
// compare numerically regardless of concrete type (JSON decodes everything to
// float64); strings compare exactly; anything else falls back to formatted
// equality.
func looseEqual(a, b any) bool {
	if isNumeric(a) && isNumeric(b) {
		return cast.ToFloat64(a) == cast.ToFloat64(b)
	}
	as, aOK := a.(string)
	bs, bOK := b.(string)
	if aOK && bOK {
		return as == bs
	}
	if ab, aOK := a.(bool); aOK {
		if bb, bOK := b.(bool); bOK {
			return ab == bb
		}
	}
	return stringify(a) == stringify(b)
}

// compareOrdered yields -1/0/1 for the ordered operators. app_version
// compares semver-first with a lexicographic fallback; timestamps accept
// numeric milliseconds or RFC 3339 strings on the condition side.
func compareOrdered(condType string, contextValue, condValue any) (int, bool) {
	if condType == spec.ConditionTimeAfter || condType == spec.ConditionTimeBefore {
		condMillis, ok := toMillis(condValue)
		if !ok {
			return 0, false
		}
		ctxMillis, err := cast.ToInt64E(contextValue)
		if err != nil {
			return 0, false
		}
		return compareInt64(ctxMillis, condMillis), true
	}

	if condType == spec.ConditionAppVersion {
		left, leftErr := semver.NewVersion(strings.TrimSpace(stringify(contextValue)))
		right, rightErr := semver.NewVersion(strings.TrimSpace(stringify(condValue)))
		if leftErr == nil && rightErr == nil {
			return left.Compare(right), true
		}
	}

	if isNumeric(contextValue) && isNumeric(condValue) {
		lf, rf := cast.ToFloat64(contextValue), cast.ToFloat64(condValue)
		switch {
		case lf < rf:
			return -1, true
		case lf > rf:
			return 1, true
		default:
			return 0, true
		}
	}

	ls, lOK := contextValue.(string)
	rs, rOK := condValue.(string)
	if lOK && rOK {
		return strings.Compare(ls, rs), true
	}
	return 0, false
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toMillis(value any) (int64, bool) {
	if s, ok := value.(string); ok {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UnixMilli(), true
		}
	}
	millis, err := cast.ToInt64E(value)
	if err != nil {
		return 0, false
	}
	return millis, true
}

func isNumeric(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

func stringify(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}
