package resolve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/l0p7/confctrl/internal/document"
	"github.com/l0p7/confctrl/internal/spec"
	"github.com/l0p7/confctrl/internal/store"
)

// MatchedRule is the per-rule summary surfaced in the resolve response.
type MatchedRule struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// Result is the outcome of one resolution: the effective configuration plus
// the ordered matched set and the schema findings. Validation failures do not
// suppress the response.
type Result struct {
	AppID      string                `json:"appId"`
	Version    string                `json:"version"`
	Config     map[string]any        `json:"config"`
	Matched    []MatchedRule         `json:"matchedRules"`
	Validation spec.ValidationResult `json:"validation"`
}

// Resolver composes the pipeline: specification lookup, template
// registration, composition, conditional loading, ordering, evaluation, and
// the config fold.
type Resolver struct {
	store  *store.Store
	loader *Loader
	logger *slog.Logger
}

// NewResolver wires the pipeline around the store and conditional loader.
func NewResolver(specs *store.Store, loader *Loader, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  specs,
		loader: loader,
		logger: logger.With(slog.String("agent", "resolver")),
	}
}

// Resolve produces the effective configuration for one request. Lookup
// misses surface store.ErrNotFound; composition failures surface the
// composition taxonomy; everything inside evaluation degrades instead of
// erroring, so a resolvable specification always resolves deterministically.
func (r *Resolver) Resolve(ctx context.Context, appID, version string, rc Context) (Result, error) {
	s, err := r.store.Get(appID, version)
	if err != nil {
		return Result{}, err
	}

	composer := NewComposer(s.RuleTemplates)
	materialized := make([]spec.Rule, 0, len(s.Rules))
	for _, rule := range s.Rules {
		processed, err := composer.ProcessComposition(rule, s.Rules)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		materialized = append(materialized, processed)
	}

	position := make(map[string]int, len(materialized))
	for i, rule := range materialized {
		position[rule.ID] = i
	}
	for _, loaded := range r.loader.Load(ctx, &s, rc) {
		if i, ok := position[loaded.ID]; ok {
			// Gated rules usually sit in the rule list disabled; admission
			// turns the materialized copy on without discarding any
			// composition work already done on it.
			enabled := true
			materialized[i].Enabled = &enabled
			continue
		}
		position[loaded.ID] = len(materialized)
		materialized = append(materialized, loaded)
	}

	ordered := SortRules(materialized)
	evaluator := NewEvaluator(ordered)

	matchedSet := make(map[string]struct{})
	var matched []spec.Rule
	for _, rule := range ordered {
		decision := evaluator.Evaluate(rule, rc, matchedSet)
		if !decision.Matched {
			r.logger.Debug("rule not matched",
				slog.String("rule_id", rule.ID), slog.String("reason", decision.Reason))
			continue
		}
		matchedSet[rule.ID] = struct{}{}
		matched = append(matched, rule)
		if rule.StopPropagation {
			break
		}
	}

	config := spec.CloneDocument(s.DefaultConfig)
	if config == nil {
		config = map[string]any{}
	}
	summaries := make([]MatchedRule, 0, len(matched))
	for _, rule := range matched {
		config = document.Apply(rule.Strategy(), config, rule.Config)
		summaries = append(summaries, MatchedRule{ID: rule.ID, Name: rule.Name, Priority: rule.Priority})
	}

	return Result{
		AppID:      s.AppID,
		Version:    s.Version,
		Config:     config,
		Matched:    summaries,
		Validation: s.Schema.ValidateDocument(config),
	}, nil
}
