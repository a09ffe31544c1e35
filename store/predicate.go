package store

import (
	"fmt"
	"strings"
)

// Operator is a comparison operator supported in predicates.
type Operator string

const (
	OpEqual     Operator = "="
	OpGreater   Operator = ">"
	OpLessEqual Operator = "<="
	OpLike      Operator = "LIKE"
)

var validOperators = map[Operator]bool{
	OpEqual:     true,
	OpGreater:   true,
	OpLessEqual: true,
	OpLike:      true,
}

// Comparison is a single "column op ?" test with its bound value.
type Comparison struct {
	column string
	op     Operator
	value  any
}

// Column returns the compared column.
func (c Comparison) Column() string { return c.column }

// Operator returns the comparison operator.
func (c Comparison) Operator() Operator { return c.op }

// Value returns the bound parameter.
func (c Comparison) Value() any { return c.value }

func (c Comparison) clause() string {
	return c.column + " " + string(c.op) + " ?"
}

// Compare builds a comparison on a call log column.
// Returns ErrFilterInvalid if the column or operator is unknown, or if a
// LIKE comparison is given a non-string pattern.
func Compare(column string, op Operator, value any) (Comparison, error) {
	if !IsCallColumn(column) {
		return Comparison{}, fmt.Errorf("%w: unknown column %q", ErrFilterInvalid, column)
	}
	if !validOperators[op] {
		return Comparison{}, fmt.Errorf("%w: unknown operator %q", ErrFilterInvalid, op)
	}
	if value == nil {
		return Comparison{}, fmt.Errorf("%w: nil value for %s", ErrFilterInvalid, column)
	}
	if _, ok := value.(string); op == OpLike && !ok {
		return Comparison{}, fmt.Errorf("%w: LIKE pattern for %s must be a string", ErrFilterInvalid, column)
	}
	return Comparison{column: column, op: op, value: value}, nil
}

// MustCompare is like Compare but panics on error. Use it for comparisons
// whose column and operator are constants.
func MustCompare(column string, op Operator, value any) Comparison {
	c, err := Compare(column, op, value)
	if err != nil {
		panic(err)
	}
	return c
}

// Eq, Gt, Lte and Like are shorthands for MustCompare.
func Eq(column string, value any) Comparison { return MustCompare(column, OpEqual, value) }
func Gt(column string, value any) Comparison { return MustCompare(column, OpGreater, value) }
func Lte(column string, value any) Comparison { return MustCompare(column, OpLessEqual, value) }
func Like(column, pattern string) Comparison { return MustCompare(column, OpLike, pattern) }

// Term is one conjunct of a predicate: a single comparison, or a group of
// comparisons joined by OR.
type Term struct {
	any []Comparison
}

// Comparisons returns the comparisons of the term.
func (t Term) Comparisons() []Comparison {
	out := make([]Comparison, len(t.any))
	copy(out, t.any)
	return out
}

// IsGroup reports whether the term ORs several comparisons.
func (t Term) IsGroup() bool { return len(t.any) > 1 }

func (t Term) clause() string {
	if len(t.any) == 1 {
		return t.any[0].clause()
	}
	parts := make([]string, len(t.any))
	for i, c := range t.any {
		parts[i] = c.clause()
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// Predicate is a conjunction of terms over the call log, plus a result
// limit. Rows always come back ordered by SortColumn, newest first.
//
// Predicate is immutable; builder methods return a new Predicate. Every
// comparison contributes exactly one placeholder and one parameter, so
// Clause and Params always correspond 1:1 in order.
type Predicate struct {
	terms []Term
	limit int
}

// NewPredicate returns an empty predicate matching every row.
func NewPredicate() Predicate {
	return Predicate{}
}

// And returns a new predicate with c appended as a conjunct.
func (p Predicate) And(c Comparison) Predicate {
	return p.with(Term{any: []Comparison{c}})
}

// AndAny returns a new predicate with the OR of cs appended as one conjunct.
// It panics if cs is empty.
func (p Predicate) AndAny(cs ...Comparison) Predicate {
	if len(cs) == 0 {
		panic("store: AndAny requires at least one comparison")
	}
	group := make([]Comparison, len(cs))
	copy(group, cs)
	return p.with(Term{any: group})
}

func (p Predicate) with(t Term) Predicate {
	terms := make([]Term, len(p.terms), len(p.terms)+1)
	copy(terms, p.terms)
	return Predicate{terms: append(terms, t), limit: p.limit}
}

// WithLimit returns a new predicate with the given result limit.
// Zero means unlimited.
func (p Predicate) WithLimit(n int) Predicate {
	return Predicate{terms: p.terms, limit: n}
}

// Terms returns the conjuncts in order.
func (p Predicate) Terms() []Term {
	out := make([]Term, len(p.terms))
	copy(out, p.terms)
	return out
}

// Limit returns the result limit, zero means unlimited.
func (p Predicate) Limit() int { return p.limit }

// IsEmpty reports whether the predicate has no conditions.
func (p Predicate) IsEmpty() bool { return len(p.terms) == 0 }

// Clause renders the predicate as a where-clause with "?" placeholders,
// or "" when it has no conditions.
func (p Predicate) Clause() string {
	parts := make([]string, len(p.terms))
	for i, t := range p.terms {
		parts[i] = t.clause()
	}
	return strings.Join(parts, " AND ")
}

// Params returns the bound parameters in placeholder order.
func (p Predicate) Params() []any {
	var params []any
	for _, t := range p.terms {
		for _, c := range t.any {
			params = append(params, c.value)
		}
	}
	return params
}

// Validate checks that every comparison is well formed. Predicates built
// with Compare are always valid; the zero Comparison is not.
func (p Predicate) Validate() error {
	for _, t := range p.terms {
		if len(t.any) == 0 {
			return fmt.Errorf("%w: empty term", ErrFilterInvalid)
		}
		for _, c := range t.any {
			if _, err := Compare(c.column, c.op, c.value); err != nil {
				return err
			}
		}
	}
	if p.limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrFilterInvalid, p.limit)
	}
	return nil
}

// String returns the clause followed by its parameters, for logging.
func (p Predicate) String() string {
	clause := p.Clause()
	if clause == "" {
		clause = "<all>"
	}
	return fmt.Sprintf("%s %v limit=%d", clause, p.Params(), p.limit)
}

// Assignment sets a column to a value in an Update.
type Assignment struct {
	Column string
	Value  any
}

// Update sets columns on every row matching Where. The limit of Where is
// ignored.
type Update struct {
	Where Predicate
	Set   []Assignment
}

// Validate checks the update for unknown columns and an empty Set.
func (u Update) Validate() error {
	if len(u.Set) == 0 {
		return fmt.Errorf("%w: update sets no columns", ErrFilterInvalid)
	}
	for _, a := range u.Set {
		if !IsCallColumn(a.Column) || a.Column == ColumnID {
			return fmt.Errorf("%w: cannot set column %q", ErrFilterInvalid, a.Column)
		}
	}
	return u.Where.Validate()
}
