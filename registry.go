package calllog

import (
	"sync"

	"github.com/google/uuid"
)

// Token identifies one submitted operation. Only the most recent token of a
// slot is current; results carrying any other token are dropped.
type Token struct {
	Kind       OperationKind
	Generation uint64
	// ID correlates log lines and spans of a single operation.
	ID string
}

// IsZero reports whether t is the zero token.
func (t Token) IsZero() bool { return t.Generation == 0 }

// registry tracks the outstanding token of every slot.
type registry struct {
	mu          sync.Mutex
	generation  uint64
	outstanding map[OperationKind]Token
}

func newRegistry() *registry {
	return &registry{outstanding: make(map[OperationKind]Token)}
}

// submit registers a new token for kind, superseding any outstanding token
// of the same slot. The superseded token is returned when there was one.
func (r *registry) submit(kind OperationKind) (tok Token, superseded Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	tok = Token{Kind: kind, Generation: r.generation, ID: uuid.NewString()}
	slot := kind.slot()
	superseded = r.outstanding[slot]
	r.outstanding[slot] = tok
	return tok, superseded
}

// cancel forgets the outstanding token of kind's slot. It reports whether
// there was one.
func (r *registry) cancel(kind OperationKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot := kind.slot()
	if _, ok := r.outstanding[slot]; !ok {
		return false
	}
	delete(r.outstanding, slot)
	return true
}

// current reports whether tok is still the outstanding token of its slot.
func (r *registry) current(tok Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outstanding[tok.Kind.slot()] == tok
}

// complete clears tok if it is current and reports whether it was.
func (r *registry) complete(tok Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot := tok.Kind.slot()
	if r.outstanding[slot] != tok {
		return false
	}
	delete(r.outstanding, slot)
	return true
}

// snapshot returns the outstanding tokens keyed by slot.
func (r *registry) snapshot() map[OperationKind]Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[OperationKind]Token, len(r.outstanding))
	for k, v := range r.outstanding {
		out[k] = v
	}
	return out
}

// clear forgets every outstanding token.
func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.outstanding)
}
