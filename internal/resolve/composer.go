package resolve

import (
	"fmt"
	"strings"

	"github.com/l0p7/confctrl/internal/document"
	"github.com/l0p7/confctrl/internal/spec"
)

// Composer materializes rules from templates and composition declarations.
// It is constructed per request with the specification's template table so
// instances carry no cross-request state.
type Composer struct {
	templates map[string]spec.Rule
}

// NewComposer binds the composer to a template table. A nil table is valid;
// template instantiation then always reports ErrTemplateNotFound.
func NewComposer(templates map[string]spec.Rule) *Composer {
	return &Composer{templates: templates}
}

// CreateFromTemplate instantiates a registered template with the supplied
// overrides. Overrides win per attribute, config is deep-merged, and metadata
// records which template produced the rule.
func (c *Composer) CreateFromTemplate(templateID string, overrides spec.Rule) (spec.Rule, error) {
	if strings.TrimSpace(overrides.ID) == "" {
		return spec.Rule{}, ErrTemplateMissingID
	}
	template, ok := c.templates[templateID]
	if !ok {
		return spec.Rule{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}

	out := overlayRule(template.Clone(), &overrides)
	out.ID = overrides.ID
	out.Composition = nil

	if out.Name == "" {
		out.Name = "Unnamed Rule"
	}
	if out.Conditions == nil {
		out.Conditions = []spec.Condition{}
	}
	if out.ResolutionStrategy == "" {
		out.ResolutionStrategy = spec.StrategyMerge
	}
	if out.Enabled == nil {
		enabled := true
		out.Enabled = &enabled
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	out.Metadata["createdFromTemplate"] = templateID
	return out, nil
}

// ExtendRule produces a new rule from a base plus overrides. Scalars come
// from the overrides where supplied, config is deep-merged base-then-
// overrides, and conditions are taken wholesale from whichever side supplied
// them. The base is never mutated.
func ExtendRule(base, overrides spec.Rule) spec.Rule {
	out := overlayRule(base.Clone(), &overrides)
	if overrides.ID != "" {
		out.ID = overrides.ID
	} else {
		out.ID = base.ID + "-extended"
	}
	out.Composition = nil
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	out.Metadata["extendedFrom"] = base.ID
	return out
}

// ComposeRules folds a non-empty list of source rules into one composite rule
// using the given resolution strategy for the config fold.
func ComposeRules(sources []spec.Rule, newID, strategy string) (spec.Rule, error) {
	if len(sources) == 0 {
		return spec.Rule{}, ErrEmptyComposition
	}
	if strategy == "" {
		strategy = spec.StrategyMerge
	}

	names := make([]string, len(sources))
	ids := make([]string, len(sources))
	enabled := true
	priority := sources[0].Priority
	var conditions []spec.Condition
	config := map[string]any{}
	var deps, exclusions, tags []string

	for i, source := range sources {
		names[i] = source.Name
		ids[i] = source.ID
		if source.Priority > priority {
			priority = source.Priority
		}
		conditions = append(conditions, source.Conditions...)
		config = document.Apply(strategy, config, source.Config)
		deps = appendUnique(deps, source.Dependencies...)
		exclusions = appendUnique(exclusions, source.Exclusions...)
		tags = appendUnique(tags, source.Tags...)
		enabled = enabled && source.IsEnabled()
	}

	idsAny := make([]any, len(ids))
	for i, id := range ids {
		idsAny[i] = id
	}

	return spec.Rule{
		ID:                 newID,
		Name:               "Composed: " + strings.Join(names, " + "),
		Description:        "Composed from: " + strings.Join(ids, ", "),
		Priority:           priority,
		Conditions:         conditions,
		Config:             config,
		ResolutionStrategy: strategy,
		Enabled:            &enabled,
		Dependencies:       deps,
		Exclusions:         exclusions,
		Tags:               tags,
		Metadata: map[string]any{
			"composedFrom":        idsAny,
			"compositionStrategy": strategy,
		},
	}, nil
}

// ApplyMixin folds one mixin into the target: config deep-merges, conditions
// append, tags union (with the sentinel "mixed" tag), and metadata.mixins
// records the application order.
func ApplyMixin(target, mixin spec.Rule) spec.Rule {
	out := target.Clone()
	out.Config = document.Merge(out.Config, mixin.Config)
	out.Conditions = append(out.Conditions, mixin.Conditions...)
	out.Tags = appendUnique(out.Tags, mixin.Tags...)
	out.Tags = appendUnique(out.Tags, "mixed")
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	var mixins []any
	if existing, ok := out.Metadata["mixins"].([]any); ok {
		mixins = existing
	}
	applied := false
	for _, id := range mixins {
		if id == mixin.ID {
			applied = true
			break
		}
	}
	if !applied {
		mixins = append(mixins, mixin.ID)
	}
	out.Metadata["mixins"] = mixins
	return out
}

// ProcessComposition materializes one rule against the full rule list,
// dispatching on the declared composition type. Rules without a composition
// pass through unchanged. Extend chains are followed recursively with a
// visited set so malformed cyclic specifications fail cleanly instead of
// recursing forever.
func (c *Composer) ProcessComposition(rule spec.Rule, all []spec.Rule) (spec.Rule, error) {
	return c.processComposition(rule, indexRules(all), map[string]struct{}{})
}

func (c *Composer) processComposition(rule spec.Rule, index map[string]spec.Rule, visited map[string]struct{}) (spec.Rule, error) {
	if rule.Composition == nil {
		return rule, nil
	}
	if _, seen := visited[rule.ID]; seen {
		return spec.Rule{}, fmt.Errorf("%w: %s", ErrCompositionCycle, rule.ID)
	}
	visited[rule.ID] = struct{}{}

	comp := rule.Composition
	switch comp.Type {
	case spec.CompositionExtend:
		if strings.TrimSpace(comp.BaseRuleID) == "" {
			return spec.Rule{}, ErrMissingBaseRuleID
		}
		base, ok := index[comp.BaseRuleID]
		if !ok {
			return spec.Rule{}, fmt.Errorf("%w: %s", ErrBaseRuleNotFound, comp.BaseRuleID)
		}
		if base.Composition != nil && base.Composition.Type == spec.CompositionExtend {
			materialized, err := c.processComposition(base, index, visited)
			if err != nil {
				return spec.Rule{}, err
			}
			base = materialized
		}
		merged := overlayRule(rule.Clone(), comp.Overrides)
		merged.ID = rule.ID
		merged.Composition = nil
		return ExtendRule(base, merged), nil

	case spec.CompositionCompose:
		if len(comp.SourceRuleIDs) == 0 {
			return spec.Rule{}, ErrMissingSourceRuleIDs
		}
		sources := make([]spec.Rule, 0, len(comp.SourceRuleIDs))
		for _, id := range comp.SourceRuleIDs {
			source, ok := index[id]
			if !ok {
				return spec.Rule{}, fmt.Errorf("%w: %s", ErrSourceRuleNotFound, id)
			}
			sources = append(sources, source)
		}
		out, err := ComposeRules(sources, rule.ID, rule.ResolutionStrategy)
		if err != nil {
			return spec.Rule{}, err
		}
		if comp.Overrides != nil {
			out = overlayScalars(out, *comp.Overrides)
		}
		return out, nil

	case spec.CompositionMixin:
		if len(comp.SourceRuleIDs) == 0 {
			return spec.Rule{}, ErrMissingSourceRuleIDs
		}
		out := rule.Clone()
		out.Composition = nil
		for _, id := range comp.SourceRuleIDs {
			mixin, ok := index[id]
			if !ok {
				// Unknown mixin ids are skipped, unlike compose which errors.
				continue
			}
			out = ApplyMixin(out, mixin)
		}
		return out, nil

	default:
		return rule, nil
	}
}

// overlayRule applies overrides onto a copy of the rule: every supplied
// attribute wins, config deep-merges, and metadata shallow-merges. The copy's
// id is left alone so callers decide identity.
func overlayRule(out spec.Rule, overrides *spec.Rule) spec.Rule {
	if overrides == nil {
		return out
	}
	if overrides.Name != "" {
		out.Name = overrides.Name
	}
	if overrides.Description != "" {
		out.Description = overrides.Description
	}
	if overrides.Priority != 0 {
		out.Priority = overrides.Priority
	}
	if overrides.Conditions != nil {
		out.Conditions = append([]spec.Condition(nil), overrides.Conditions...)
	}
	if overrides.Config != nil {
		out.Config = document.Merge(out.Config, overrides.Config)
	}
	if overrides.ResolutionStrategy != "" {
		out.ResolutionStrategy = overrides.ResolutionStrategy
	}
	if overrides.Enabled != nil {
		enabled := *overrides.Enabled
		out.Enabled = &enabled
	}
	if overrides.Dependencies != nil {
		out.Dependencies = append([]string(nil), overrides.Dependencies...)
	}
	if overrides.Exclusions != nil {
		out.Exclusions = append([]string(nil), overrides.Exclusions...)
	}
	if overrides.Chain != nil {
		chain := overrides.Chain.Clone()
		out.Chain = &chain
	}
	if overrides.ExecuteAfter != nil {
		out.ExecuteAfter = append([]string(nil), overrides.ExecuteAfter...)
	}
	if overrides.ExecuteBefore != nil {
		out.ExecuteBefore = append([]string(nil), overrides.ExecuteBefore...)
	}
	if overrides.StopPropagation {
		out.StopPropagation = true
	}
	if overrides.Tags != nil {
		out.Tags = append([]string(nil), overrides.Tags...)
	}
	if len(overrides.Metadata) > 0 {
		if out.Metadata == nil {
			out.Metadata = map[string]any{}
		}
		for key, value := range overrides.Metadata {
			out.Metadata[key] = value
		}
	}
	return out
}

// overlayScalars applies only the scalar attributes of the overrides onto a
// composed rule, deep-merging config when supplied. Collection attributes of
// a composed rule stay as the composition produced them.
func overlayScalars(out spec.Rule, overrides spec.Rule) spec.Rule {
	if overrides.Name != "" {
		out.Name = overrides.Name
	}
	if overrides.Description != "" {
		out.Description = overrides.Description
	}
	if overrides.Priority != 0 {
		out.Priority = overrides.Priority
	}
	if overrides.ResolutionStrategy != "" {
		out.ResolutionStrategy = overrides.ResolutionStrategy
	}
	if overrides.Enabled != nil {
		enabled := *overrides.Enabled
		out.Enabled = &enabled
	}
	if overrides.StopPropagation {
		out.StopPropagation = true
	}
	if overrides.Config != nil {
		out.Config = document.Merge(out.Config, overrides.Config)
	}
	return out
}

func indexRules(rules []spec.Rule) map[string]spec.Rule {
	index := make(map[string]spec.Rule, len(rules))
	for _, rule := range rules {
		index[rule.ID] = rule
	}
	return index
}

func appendUnique(list []string, values ...string) []string {
	for _, value := range values {
		found := false
		for _, existing := range list {
			if existing == value {
				found = true
				break
			}
		}
		if !found {
			list = append(list, value)
		}
	}
	return list
}
