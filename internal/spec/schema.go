package spec

import (
	"fmt"
	"sort"
)

// ValidationResult reports the shallow schema findings for one configuration
// document. Deprecated-key usage is reported through the same error list so
// callers see a single ordered account of what the document violates.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ValidateDocument checks the top-level keys of a configuration document
// against the schema. Validation is intentionally shallow; nested values are
// the caller's domain.
func (s Schema) ValidateDocument(doc map[string]any) ValidationResult {
	var errs []string

	for _, key := range s.RequiredKeys {
		if _, ok := doc[key]; !ok {
			errs = append(errs, fmt.Sprintf("Missing required key: %s", key))
		}
	}

	deprecated := make(map[string]struct{}, len(s.DeprecatedKeys))
	for _, key := range s.DeprecatedKeys {
		deprecated[key] = struct{}{}
	}
	allowed := make(map[string]struct{}, len(s.RequiredKeys)+len(s.OptionalKeys)+len(s.DeprecatedKeys))
	for _, key := range s.RequiredKeys {
		allowed[key] = struct{}{}
	}
	for _, key := range s.OptionalKeys {
		allowed[key] = struct{}{}
	}
	for _, key := range s.DeprecatedKeys {
		allowed[key] = struct{}{}
	}

	for _, key := range sortedKeys(doc) {
		if _, ok := deprecated[key]; ok {
			errs = append(errs, fmt.Sprintf("Using deprecated key: %s", key))
		}
		if _, ok := allowed[key]; !ok {
			errs = append(errs, fmt.Sprintf("Unknown key: %s", key))
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// sortedKeys keeps validation output deterministic across map iterations.
func sortedKeys(doc map[string]any) []string {
	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
