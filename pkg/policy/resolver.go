// pkg/policy/resolver.go
package policy

import (
	"errors"
	"sort"
	"strings"

	"github.com/cataloghub/feed-cleanse/pkg/model"
)

// ErrNoPolicy signals that no policy applies to the attribute under the
// current scope. Distinct from a missing attribute definition.
var ErrNoPolicy = errors.New("no applicable cleansing policy")

// Resolve selects the single applicable policy from the candidates.
//
// Candidates are walked in ascending step order (unset steps last). A
// policy with both scopes empty is remembered as the common fallback and
// the walk continues. A scoped policy is skipped when a scope it requires
// is not yet known, or is known but does not match case-insensitively.
// The first policy whose required scopes all match wins; otherwise the
// common fallback is returned, and ErrNoPolicy if there is none.
func Resolve(candidates []model.CleansePolicy, scope model.Scope) (*model.CleansePolicy, error) {
	if len(candidates) == 0 {
		return nil, ErrNoPolicy
	}

	ordered := make([]model.CleansePolicy, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StepKey() < ordered[j].StepKey()
	})

	var common *model.CleansePolicy
	for i := range ordered {
		p := &ordered[i]

		if p.IsCommon() {
			if common == nil {
				common = p
			}
			continue
		}

		if !scopeMatches(p.BrandScope, scope.Brand) {
			continue
		}
		if !scopeMatches(p.CategoryScope, scope.Category) {
			continue
		}

		return p, nil
	}

	if common != nil {
		return common, nil
	}
	return nil, ErrNoPolicy
}

// scopeMatches checks one scope dimension: an empty requirement always
// passes, an unknown context never does.
func scopeMatches(required string, current *string) bool {
	if required == "" {
		return true
	}
	if current == nil {
		return false
	}
	return strings.EqualFold(required, *current)
}
