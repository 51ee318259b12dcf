package resolve

import "errors"

// Composition errors are the only failures the pipeline surfaces; everything
// else inside evaluation degrades to a non-match. Admin endpoints map these
// to 400, the resolve path to 500.
var (
	ErrEmptyComposition     = errors.New("resolve: composition requires at least one source rule")
	ErrBaseRuleNotFound     = errors.New("resolve: base rule not found")
	ErrSourceRuleNotFound   = errors.New("resolve: source rule not found")
	ErrTemplateNotFound     = errors.New("resolve: template not found")
	ErrTemplateMissingID    = errors.New("resolve: template instantiation requires overrides.id")
	ErrMissingSourceRuleIDs = errors.New("resolve: composition requires sourceRuleIds")
	ErrMissingBaseRuleID    = errors.New("resolve: extend composition requires baseRuleId")
	ErrCompositionCycle     = errors.New("resolve: composition cycle detected")
)

// IsCompositionError reports whether err belongs to the composition taxonomy.
func IsCompositionError(err error) bool {
	for _, sentinel := range []error{
		ErrEmptyComposition,
		ErrBaseRuleNotFound,
		ErrSourceRuleNotFound,
		ErrTemplateNotFound,
		ErrTemplateMissingID,
		ErrMissingSourceRuleIDs,
		ErrMissingBaseRuleID,
		ErrCompositionCycle,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
