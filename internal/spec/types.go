// Package spec defines the persistent data model for configuration
// specifications: the versioned document that pairs a default configuration
// with the ordered rule set the resolution pipeline evaluates per request.
package spec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Environment names accepted on a specification.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Resolution strategies controlling how a matched rule's config folds into the
// evolving result.
const (
	StrategyMerge    = "merge"
	StrategyOverride = "override"
	StrategyInherit  = "inherit"
)

// Condition types understood by the evaluator.
const (
	ConditionAppVersion     = "app_version"
	ConditionOS             = "os"
	ConditionDevice         = "device"
	ConditionGeoCountry     = "geo_country"
	ConditionGeoRegion      = "geo_region"
	ConditionTimeAfter      = "time_after"
	ConditionTimeBefore     = "time_before"
	ConditionUserAgentMatch = "user_agent_match"
)

// Comparison operators shared by primitive conditions and custom load
// conditions.
const (
	OpEq    = "eq"
	OpNe    = "ne"
	OpGt    = "gt"
	OpLt    = "lt"
	OpGte   = "gte"
	OpLte   = "lte"
	OpIn    = "in"
	OpRegex = "regex"
)

// Load condition types consumed by the conditional loader. TypeExpression is
// a CEL extension on top of the operator-based custom type.
const (
	LoadEnvironment       = "environment"
	LoadFeatureFlag       = "feature_flag"
	LoadPercentageRollout = "percentage_rollout"
	LoadCustom            = "custom"
	LoadExpression        = "expression"
)

// Composition types.
const (
	CompositionExtend  = "extend"
	CompositionCompose = "compose"
	CompositionMixin   = "mixin"
)

// Chain operators.
const (
	ChainAnd = "AND"
	ChainOr  = "OR"
	ChainNot = "NOT"
	ChainXor = "XOR"
)

// Specification is the persistent unit, uniquely identified by
// (appId, version). It owns the default configuration, the rule set, and the
// gating metadata the resolution pipeline consumes.
type Specification struct {
	ID                 string             `json:"id"`
	AppID              string             `json:"appId"`
	Version            string             `json:"version"`
	Schema             Schema             `json:"schema"`
	DefaultConfig      map[string]any     `json:"defaultConfig"`
	Rules              []Rule             `json:"rules"`
	ConditionalRules   []ConditionalRule  `json:"conditionalRules,omitempty"`
	RuleTemplates      map[string]Rule    `json:"ruleTemplates,omitempty"`
	Environment        string             `json:"environment"`
	FeatureFlags       map[string]bool    `json:"featureFlags,omitempty"`
	RolloutPercentages map[string]float64 `json:"rolloutPercentages,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// Schema declares the shallow key contract for configuration documents.
type Schema struct {
	Version        string   `json:"version,omitempty"`
	RequiredKeys   []string `json:"requiredKeys,omitempty"`
	OptionalKeys   []string `json:"optionalKeys,omitempty"`
	DeprecatedKeys []string `json:"deprecatedKeys,omitempty"`
}

// Rule is a conditional modification to the effective configuration. Rules
// exist only inside a specification; the pipeline materializes per-request
// copies so stored rules are never mutated.
type Rule struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name,omitempty"`
	Description        string         `json:"description,omitempty"`
	Priority           int            `json:"priority,omitempty"`
	Conditions         []Condition    `json:"conditions,omitempty"`
	Config             map[string]any `json:"config,omitempty"`
	ResolutionStrategy string         `json:"resolutionStrategy,omitempty"`
	Enabled            *bool          `json:"enabled,omitempty"`
	Dependencies       []string       `json:"dependencies,omitempty"`
	Exclusions         []string       `json:"exclusions,omitempty"`
	Chain              *Chain         `json:"chain,omitempty"`
	ExecuteAfter       []string       `json:"executeAfter,omitempty"`
	ExecuteBefore      []string       `json:"executeBefore,omitempty"`
	StopPropagation    bool           `json:"stopPropagation,omitempty"`
	Composition        *Composition   `json:"composition,omitempty"`
	Tags               []string       `json:"tags,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// IsEnabled reports the effective enabled state. A nil pointer means the rule
// never opted out, so it defaults to true.
func (r Rule) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// Strategy returns the effective resolution strategy, defaulting to merge.
func (r Rule) Strategy() string {
	switch r.ResolutionStrategy {
	case StrategyOverride, StrategyInherit:
		return r.ResolutionStrategy
	default:
		return StrategyMerge
	}
}

// Condition is a primitive match predicate over one request-context
// attribute.
type Condition struct {
	Type     string `json:"type"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Chain is a boolean expression over rule ids and nested chains.
type Chain struct {
	Operator string      `json:"operator"`
	Rules    []ChainItem `json:"rules"`
}

// ChainItem is either a rule id or a nested chain. The JSON form is a bare
// string for ids and an object for nested chains.
type ChainItem struct {
	RuleID string
	Nested *Chain
}

// UnmarshalJSON accepts either a string rule id or a nested chain object.
func (i *ChainItem) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("spec: chain item id: %w", err)
		}
		i.RuleID = id
		i.Nested = nil
		return nil
	}
	var nested Chain
	if err := json.Unmarshal(data, &nested); err != nil {
		return fmt.Errorf("spec: chain item: %w", err)
	}
	i.RuleID = ""
	i.Nested = &nested
	return nil
}

// MarshalJSON emits the compact form the loader accepts.
func (i ChainItem) MarshalJSON() ([]byte, error) {
	if i.Nested != nil {
		return json.Marshal(i.Nested)
	}
	return json.Marshal(i.RuleID)
}

// Composition describes how a rule is materialized from other rules.
type Composition struct {
	Type          string         `json:"type"`
	BaseRuleID    string         `json:"baseRuleId,omitempty"`
	SourceRuleIDs []string       `json:"sourceRuleIds,omitempty"`
	Overrides     *Rule          `json:"overrides,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// LoadCondition gates a conditional rule. The Value shape depends on Type:
// environment carries a string, feature_flag a {flagName, expectedValue}
// mapping, percentage_rollout a {percentage, ruleId} mapping, custom a
// {key, operator, value} mapping, and expression a CEL source string.
type LoadCondition struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// ConditionalRule links a rule to the load conditions (AND semantics) that
// admit it into the evaluation set.
type ConditionalRule struct {
	RuleID         string          `json:"ruleId"`
	LoadConditions []LoadCondition `json:"loadConditions"`
	LazyLoad       bool            `json:"lazyLoad,omitempty"`
}

// Validate enforces the structural invariants a specification must satisfy
// before it is stored. Dangling rule references are deliberately not errors;
// the pipeline treats them as unsatisfiable.
func (s *Specification) Validate() error {
	if s == nil {
		return errors.New("spec: nil specification")
	}
	if strings.TrimSpace(s.AppID) == "" {
		return errors.New("spec: appId required")
	}
	if strings.TrimSpace(s.Version) == "" {
		return errors.New("spec: version required")
	}
	switch s.Environment {
	case "", EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("spec: environment unsupported: %s", s.Environment)
	}
	seen := make(map[string]struct{}, len(s.Rules))
	for i, rule := range s.Rules {
		if strings.TrimSpace(rule.ID) == "" {
			return fmt.Errorf("spec: rules[%d] missing id", i)
		}
		if _, ok := seen[rule.ID]; ok {
			return fmt.Errorf("spec: duplicate rule id %q", rule.ID)
		}
		seen[rule.ID] = struct{}{}
	}
	for i, cond := range s.ConditionalRules {
		if strings.TrimSpace(cond.RuleID) == "" {
			return fmt.Errorf("spec: conditionalRules[%d] missing ruleId", i)
		}
	}
	return nil
}

// Key returns the store key for the specification.
func (s *Specification) Key() string {
	return s.AppID + "@" + s.Version
}

// RuleByID looks up a rule in the specification's ordered rule list.
func (s *Specification) RuleByID(id string) (Rule, bool) {
	for _, rule := range s.Rules {
		if rule.ID == id {
			return rule, true
		}
	}
	return Rule{}, false
}

// Clone produces a deep copy of the rule so per-request materialization never
// aliases stored state.
func (r Rule) Clone() Rule {
	out := r
	out.Conditions = append([]Condition(nil), r.Conditions...)
	out.Dependencies = append([]string(nil), r.Dependencies...)
	out.Exclusions = append([]string(nil), r.Exclusions...)
	out.ExecuteAfter = append([]string(nil), r.ExecuteAfter...)
	out.ExecuteBefore = append([]string(nil), r.ExecuteBefore...)
	out.Tags = append([]string(nil), r.Tags...)
	out.Config = CloneDocument(r.Config)
	out.Metadata = CloneDocument(r.Metadata)
	if r.Enabled != nil {
		enabled := *r.Enabled
		out.Enabled = &enabled
	}
	if r.Chain != nil {
		chain := r.Chain.Clone()
		out.Chain = &chain
	}
	if r.Composition != nil {
		comp := *r.Composition
		comp.SourceRuleIDs = append([]string(nil), r.Composition.SourceRuleIDs...)
		comp.Metadata = CloneDocument(r.Composition.Metadata)
		if r.Composition.Overrides != nil {
			overrides := r.Composition.Overrides.Clone()
			comp.Overrides = &overrides
		}
		out.Composition = &comp
	}
	return out
}

// Clone deep-copies the chain expression.
func (c Chain) Clone() Chain {
	out := Chain{Operator: c.Operator}
	out.Rules = make([]ChainItem, len(c.Rules))
	for i, item := range c.Rules {
		out.Rules[i] = ChainItem{RuleID: item.RuleID}
		if item.Nested != nil {
			nested := item.Nested.Clone()
			out.Rules[i].Nested = &nested
		}
	}
	return out
}

// CloneDocument deep-copies an arbitrary configuration document. Scalars are
// shared since they are immutable; mappings and arrays are copied.
func CloneDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for key, value := range doc {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return CloneDocument(v)
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
