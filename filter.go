package calllog

import (
	"context"
	"fmt"

	"github.com/rbaliyan/calllog/store"
)

const (
	// CallTypeAll matches every call type.
	CallTypeAll store.CallType = -1

	// SlotAll matches calls from every phone account.
	SlotAll = -1
)

// FetchCriteria describes which calls to fetch. The zero value matches
// every call. Builder methods return a modified copy.
//
//	c := calllog.NewCriteria().OfType(store.CallTypeMissed).NewerThan(since)
type FetchCriteria struct {
	callType  store.CallType
	newerThan int64
	olderThan int64
	newOnly   bool
	slot      int
	slotSet   bool
	text      string
	textSet   bool
	limit     int
}

// NewCriteria returns criteria matching every call.
func NewCriteria() FetchCriteria {
	return FetchCriteria{callType: CallTypeAll, slot: SlotAll}
}

// OfType restricts to calls of type t. CallTypeAll, or any non-positive
// type, removes the restriction.
func (c FetchCriteria) OfType(t store.CallType) FetchCriteria {
	if t <= 0 {
		t = CallTypeAll
	}
	c.callType = t
	return c
}

// NewerThan restricts to calls strictly after ms (epoch milliseconds).
// Zero removes the bound.
func (c FetchCriteria) NewerThan(ms int64) FetchCriteria {
	c.newerThan = ms
	return c
}

// OlderThan restricts to calls at or before ms (epoch milliseconds).
// Zero removes the bound.
func (c FetchCriteria) OlderThan(ms int64) FetchCriteria {
	c.olderThan = ms
	return c
}

// NewOnly restricts to calls that are still flagged new.
func (c FetchCriteria) NewOnly() FetchCriteria {
	c.newOnly = true
	return c
}

// InSlot restricts to calls on the account in SIM slot n. SlotAll, or any
// negative slot, removes the restriction.
func (c FetchCriteria) InSlot(n int) FetchCriteria {
	if n < 0 {
		c.slot, c.slotSet = SlotAll, false
		return c
	}
	c.slot, c.slotSet = n, true
	return c
}

// Matching selects calls whose number or cached name contains text. A text
// filter replaces every other criterion except the limit.
func (c FetchCriteria) Matching(text string) FetchCriteria {
	c.text, c.textSet = text, true
	return c
}

// Limit caps the number of rows. A non-positive limit uses the dispatcher
// default.
func (c FetchCriteria) Limit(n int) FetchCriteria {
	c.limit = n
	return c
}

// CallType returns the call type restriction, CallTypeAll when unset.
func (c FetchCriteria) CallType() store.CallType {
	if c.callType <= 0 {
		return CallTypeAll
	}
	return c.callType
}

// Slot returns the slot restriction and whether one is set.
func (c FetchCriteria) Slot() (int, bool) {
	if !c.slotSet {
		return SlotAll, false
	}
	return c.slot, true
}

// Text returns the text filter and whether one is set.
func (c FetchCriteria) Text() (string, bool) { return c.text, c.textSet }

func (c FetchCriteria) String() string {
	if c.textSet {
		return fmt.Sprintf("text=%q limit=%d", c.text, c.limit)
	}
	slot, _ := c.Slot()
	return fmt.Sprintf("type=%s newer=%d older=%d slot=%d new=%t limit=%d",
		c.CallType(), c.newerThan, c.olderThan, slot, c.newOnly, c.limit)
}

// BuildPredicate turns criteria into a store predicate, resolving a slot
// restriction through resolver. A slot without an account is left out of
// the predicate. The limit falls back to DefaultFetchLimit. Resolution
// failures are returned wrapped in ErrFilterInvalid.
func BuildPredicate(ctx context.Context, c FetchCriteria, resolver SlotResolver) (store.Predicate, error) {
	b := filterBuilder{resolver: resolver}
	return b.build(ctx, c)
}

// filterBuilder holds the dispatcher settings that shape predicates.
type filterBuilder struct {
	resolver     SlotResolver
	defaultLimit int
	strictSlots  bool

	// onSlotIgnored is called when a slot restriction is dropped.
	onSlotIgnored func(ctx context.Context, slot int)
}

func (b filterBuilder) build(ctx context.Context, c FetchCriteria) (store.Predicate, error) {
	p := store.NewPredicate().WithLimit(b.limit(c))

	if c.textSet {
		pattern := store.ContainsPattern(c.text)
		return p.AndAny(
			store.Like(store.ColumnNumber, pattern),
			store.Like(store.ColumnCachedName, pattern),
		), nil
	}

	if c.newOnly {
		p = p.And(store.Eq(store.ColumnNew, int64(1)))
	}
	if c.callType > 0 {
		p = p.And(store.Eq(store.ColumnType, int64(c.callType)))
	}
	if c.slotSet {
		account, err := b.resolveSlot(ctx, c.slot)
		if err != nil {
			return store.Predicate{}, fmt.Errorf("%w: %w", ErrFilterInvalid, err)
		}
		if account != "" {
			p = p.And(store.Eq(store.ColumnPhoneAccountID, account))
		}
	}
	if c.newerThan > 0 {
		p = p.And(store.Gt(store.ColumnDate, c.newerThan))
	}
	if c.olderThan > 0 {
		p = p.And(store.Lte(store.ColumnDate, c.olderThan))
	}
	return p, nil
}

func (b filterBuilder) limit(c FetchCriteria) int {
	switch {
	case c.limit > 0:
		return c.limit
	case b.defaultLimit > 0:
		return b.defaultLimit
	default:
		return DefaultFetchLimit
	}
}

// resolveSlot returns the first account of slot, or "" when the slot has
// none and strict resolution is off.
func (b filterBuilder) resolveSlot(ctx context.Context, slot int) (string, error) {
	var accounts []string
	if b.resolver != nil {
		var err error
		accounts, err = b.resolver.Resolve(ctx, slot)
		if err != nil {
			return "", fmt.Errorf("resolve slot %d: %w", slot, err)
		}
	}
	if len(accounts) > 0 && accounts[0] != "" {
		return accounts[0], nil
	}
	if b.strictSlots {
		return "", fmt.Errorf("%w: slot %d", ErrSlotUnresolved, slot)
	}
	if b.onSlotIgnored != nil {
		b.onSlotIgnored(ctx, slot)
	}
	return "", nil
}

// Canned updates issued by the Mark* operations. Every constant is bound as
// a parameter.

func markNewCallsOld() store.Update {
	return store.Update{
		Where: store.NewPredicate().And(store.Eq(store.ColumnNew, int64(1))),
		Set:   []store.Assignment{{Column: store.ColumnNew, Value: int64(0)}},
	}
}

func markNewVoicemailsOld() store.Update {
	return store.Update{
		Where: store.NewPredicate().
			And(store.Eq(store.ColumnNew, int64(1))).
			And(store.Eq(store.ColumnType, int64(store.CallTypeVoicemail))),
		Set: []store.Assignment{{Column: store.ColumnNew, Value: int64(0)}},
	}
}

func markMissedCallsRead() store.Update {
	return store.Update{
		Where: store.NewPredicate().
			And(store.Eq(store.ColumnIsRead, int64(0))).
			And(store.Eq(store.ColumnType, int64(store.CallTypeMissed))),
		Set: []store.Assignment{{Column: store.ColumnIsRead, Value: int64(1)}},
	}
}

// updateFor returns the update run by an update kind.
func updateFor(kind OperationKind) (store.Update, bool) {
	switch kind {
	case KindMarkCallsOld:
		return markNewCallsOld(), true
	case KindMarkVoicemailsOld:
		return markNewVoicemailsOld(), true
	case KindMarkMissedRead:
		return markMissedCallsRead(), true
	default:
		return store.Update{}, false
	}
}
