package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/spf13/cast"

	"github.com/l0p7/confctrl/internal/expr"
	"github.com/l0p7/confctrl/internal/metrics"
	"github.com/l0p7/confctrl/internal/resolve/loadercache"
	"github.com/l0p7/confctrl/internal/spec"
)

const defaultLoaderNamespace = "confctrl:loader:v1"

// Loader decides which conditionally-gated rules join the evaluation set for
// one request. Decisions are cached across requests keyed by a hash of every
// field the loader reads, so two identical contexts never re-evaluate the
// load conditions.
type Loader struct {
	cache     loadercache.Cache
	ttl       time.Duration
	namespace string
	env       *expr.Environment
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// LoaderOptions configures the conditional loader.
type LoaderOptions struct {
	Cache     loadercache.Cache
	TTL       time.Duration
	Namespace string
	Epoch     int
	Metrics   *metrics.Recorder
}

// NewLoader builds the conditional loader. A nil cache falls back to the
// in-memory backend; CEL setup failures disable the expression condition type
// rather than failing startup.
func NewLoader(logger *slog.Logger, opts LoaderOptions) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	cacheBackend := opts.Cache
	if cacheBackend == nil {
		cacheBackend = loadercache.NewMemory(ttl)
	}
	namespace := opts.Namespace
	if namespace == "" {
		namespace = defaultLoaderNamespace
	}
	epoch := opts.Epoch
	if epoch <= 0 {
		epoch = 1
	}
	env, err := expr.NewEnvironment()
	if err != nil {
		logger.Warn("cel environment unavailable, expression load conditions disabled", slog.Any("error", err))
		env = nil
	}
	return &Loader{
		cache:     cacheBackend,
		ttl:       ttl,
		namespace: fmt.Sprintf("%s:e%d:", namespace, epoch),
		env:       env,
		logger:    logger.With(slog.String("agent", "conditional_loader")),
		metrics:   opts.Metrics,
	}
}

// Close releases the cache backend.
func (l *Loader) Close(ctx context.Context) error {
	if l == nil || l.cache == nil {
		return nil
	}
	return l.cache.Close(ctx)
}

// Load returns the gated rules admitted for this context, each materialized
// as an enabled copy. Conditional rules referencing unknown ids are skipped.
func (l *Loader) Load(ctx context.Context, s *spec.Specification, rc Context) []spec.Rule {
	if s == nil || len(s.ConditionalRules) == 0 {
		return nil
	}

	key := l.cacheKey(s, rc)
	start := time.Now()
	if entry, ok, err := l.cache.Lookup(ctx, key); err == nil && ok {
		l.metrics.ObserveLoaderLookup(s.AppID, metrics.CacheLookupHit, time.Since(start))
		return l.materialize(s, entry.RuleIDs)
	} else if err != nil {
		l.metrics.ObserveLoaderLookup(s.AppID, metrics.CacheLookupError, time.Since(start))
		l.logger.Warn("loader cache lookup failed", slog.Any("error", err))
	} else {
		l.metrics.ObserveLoaderLookup(s.AppID, metrics.CacheLookupMiss, time.Since(start))
	}

	var loadedIDs []string
	for _, conditional := range s.ConditionalRules {
		admitted := true
		for _, cond := range conditional.LoadConditions {
			if !l.evaluateLoadCondition(cond, conditional.RuleID, s, rc) {
				admitted = false
				break
			}
		}
		if !admitted {
			continue
		}
		if _, ok := s.RuleByID(conditional.RuleID); !ok {
			l.logger.Debug("conditional rule references unknown id",
				slog.String("rule_id", conditional.RuleID))
			continue
		}
		loadedIDs = append(loadedIDs, conditional.RuleID)
	}

	storeStart := time.Now()
	if err := l.cache.Store(ctx, key, loadercache.Entry{RuleIDs: loadedIDs}); err != nil {
		l.metrics.ObserveLoaderStore(s.AppID, metrics.CacheStoreError, time.Since(storeStart))
		l.logger.Warn("loader cache store failed", slog.Any("error", err))
	} else {
		l.metrics.ObserveLoaderStore(s.AppID, metrics.CacheStoreStored, time.Since(storeStart))
	}

	return l.materialize(s, loadedIDs)
}

// EvaluateLoadCondition exposes single-condition evaluation for the
// diagnostic test-conditions endpoint.
func (l *Loader) EvaluateLoadCondition(cond spec.LoadCondition, ruleID string, s *spec.Specification, rc Context) bool {
	return l.evaluateLoadCondition(cond, ruleID, s, rc)
}

// materialize resolves admitted rule ids to enabled copies. A conditional
// rule is typically stored with enabled=false so it stays inert unless the
// gate admits it; the materialized copy is always forced on.
func (l *Loader) materialize(s *spec.Specification, ids []string) []spec.Rule {
	out := make([]spec.Rule, 0, len(ids))
	for _, id := range ids {
		rule, ok := s.RuleByID(id)
		if !ok {
			continue
		}
		materialized := rule.Clone()
		enabled := true
		materialized.Enabled = &enabled
		out = append(out, materialized)
	}
	return out
}

func (l *Loader) evaluateLoadCondition(cond spec.LoadCondition, ruleID string, s *spec.Specification, rc Context) bool {
	switch cond.Type {
	case spec.LoadEnvironment:
		env, err := cast.ToStringE(cond.Value)
		if err != nil {
			return false
		}
		return s.Environment == env

	case spec.LoadFeatureFlag:
		value, ok := cond.Value.(map[string]any)
		if !ok {
			return false
		}
		name, err := cast.ToStringE(value["flagName"])
		if err != nil || name == "" {
			return false
		}
		flag, present := rc.FeatureFlags[name]
		if !present {
			flag, present = s.FeatureFlags[name]
		}
		if !present {
			return false
		}
		expected, ok := value["expectedValue"].(bool)
		if !ok {
			return false
		}
		return flag == expected

	case spec.LoadPercentageRollout:
		if rc.UserID == "" {
			return false
		}
		value, ok := cond.Value.(map[string]any)
		if !ok {
			return false
		}
		target := ruleID
		if id, err := cast.ToStringE(value["ruleId"]); err == nil && id != "" {
			target = id
		}
		percentage, err := cast.ToFloat64E(value["percentage"])
		if err != nil {
			// Fall back to the specification-level rollout table.
			stored, ok := s.RolloutPercentages[target]
			if !ok {
				return false
			}
			percentage = stored
		}
		return float64(RolloutBucket(target, rc.UserID)) <= percentage

	case spec.LoadCustom:
		value, ok := cond.Value.(map[string]any)
		if !ok {
			return false
		}
		key, err := cast.ToStringE(value["key"])
		if err != nil || key == "" {
			return false
		}
		operator, err := cast.ToStringE(value["operator"])
		if err != nil {
			return false
		}
		ctxValue, present := rc.Custom[key]
		return applyOperator(ctxValue, present, operator, value["value"])

	case spec.LoadExpression:
		if l.env == nil {
			return false
		}
		source, err := cast.ToStringE(cond.Value)
		if err != nil {
			return false
		}
		program, err := l.env.Compile(source)
		if err != nil {
			l.logger.Debug("expression condition rejected", slog.Any("error", err))
			return false
		}
		custom := rc.Custom
		if custom == nil {
			custom = map[string]any{}
		}
		flags := make(map[string]bool, len(s.FeatureFlags)+len(rc.FeatureFlags))
		for name, v := range s.FeatureFlags {
			flags[name] = v
		}
		for name, v := range rc.FeatureFlags {
			flags[name] = v
		}
		result, err := program.EvalBool(map[string]any{
			"context": custom,
			"flags":   flags,
			"env":     s.Environment,
			"userId":  rc.UserID,
		})
		if err != nil {
			l.logger.Debug("expression condition failed", slog.Any("error", err))
			return false
		}
		return result

	default:
		return false
	}
}

// loaderKeyFields is the canonical serialization for the cross-request cache
// key. It must include every field evaluateLoadCondition reads; anything
// missing here is a cache-poisoning bug.
type loaderKeyFields struct {
	UserID      string          `json:"userId"`
	Custom      map[string]any  `json:"custom,omitempty"`
	Flags       map[string]bool `json:"flags,omitempty"`
	Environment string          `json:"environment"`
	SpecID      string          `json:"specId"`
	SpecVersion string          `json:"specVersion"`
	SpecRev     int64           `json:"specRev"`
}

func (l *Loader) cacheKey(s *spec.Specification, rc Context) string {
	fields := loaderKeyFields{
		UserID:      rc.UserID,
		Custom:      rc.Custom,
		Flags:       rc.FeatureFlags,
		Environment: rc.Environment,
		SpecID:      s.ID,
		SpecVersion: s.Version,
		// UpdatedAt distinguishes full replacements that keep the same
		// (appId, version) identity, so a PUT can never serve stale gates.
		SpecRev: s.UpdatedAt.UnixNano(),
	}
	if fields.Environment == "" {
		fields.Environment = s.Environment
	}
	// encoding/json sorts map keys, so the payload is canonical.
	payload, err := json.Marshal(fields)
	if err != nil {
		payload = []byte(rc.UserID + "|" + s.ID + "|" + s.Version)
	}
	h := fnv.New64a()
	_, _ = h.Write(payload)
	return fmt.Sprintf("%s%s@%s:%016x", l.namespace, s.AppID, s.Version, h.Sum64())
}
