// Package resolver provides SlotResolver implementations.
package resolver

import (
	"context"
	"slices"

	"github.com/rbaliyan/calllog"
)

var _ calllog.SlotResolver = (*Static)(nil)

// Static is a map-based SlotResolver for testing and simple deployments.
// It resolves SIM slots to phone account ids from an in-memory map. Safe for
// concurrent use (read-only after creation).
type Static struct {
	slots map[int][]string
}

// NewStatic creates a Static resolver from a map of slot index to account ids.
// The map is copied to prevent external mutation.
func NewStatic(slots map[int][]string) *Static {
	m := make(map[int][]string, len(slots))
	for k, v := range slots {
		m[k] = slices.Clone(v)
	}
	return &Static{slots: m}
}

// Resolve returns the account ids of slot. Unknown slots resolve to no
// accounts.
func (s *Static) Resolve(_ context.Context, slot int) ([]string, error) {
	return slices.Clone(s.slots[slot]), nil
}

// Slots returns the configured slot indexes in ascending order.
func (s *Static) Slots() []int {
	out := make([]int, 0, len(s.slots))
	for k := range s.slots {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
