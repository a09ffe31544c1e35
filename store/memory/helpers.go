package memory

import (
	"github.com/rbaliyan/calllog/store"
)

func matchesPredicate(c *store.Call, p store.Predicate) bool {
	for _, term := range p.Terms() {
		if !matchesTerm(c, term) {
			return false
		}
	}
	return true
}

// matchesTerm reports whether any comparison of the term holds.
func matchesTerm(c *store.Call, t store.Term) bool {
	for _, cmp := range t.Comparisons() {
		if matchesComparison(c, cmp) {
			return true
		}
	}
	return false
}

func matchesComparison(c *store.Call, cmp store.Comparison) bool {
	fieldValue, ok := c.Value(cmp.Column())
	if !ok {
		return false
	}

	switch cmp.Operator() {
	case store.OpLike:
		s, err := store.AsString(fieldValue)
		if err != nil {
			return false
		}
		pattern, _ := cmp.Value().(string)
		return store.MatchLike(s, pattern)
	case store.OpEqual:
		r, ok := store.CompareValues(fieldValue, cmp.Value())
		return ok && r == 0
	case store.OpGreater:
		r, ok := store.CompareValues(fieldValue, cmp.Value())
		return ok && r > 0
	case store.OpLessEqual:
		r, ok := store.CompareValues(fieldValue, cmp.Value())
		return ok && r <= 0
	}
	return false
}
