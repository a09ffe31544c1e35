package calllog

import "context"

// SlotResolver maps a SIM slot index to the phone account ids registered
// in it. A slot with no account resolves to an empty list.
type SlotResolver interface {
	Resolve(ctx context.Context, slot int) ([]string, error)
}

// SlotResolverFunc adapts a function to SlotResolver.
type SlotResolverFunc func(ctx context.Context, slot int) ([]string, error)

// Resolve calls f.
func (f SlotResolverFunc) Resolve(ctx context.Context, slot int) ([]string, error) {
	return f(ctx, slot)
}
