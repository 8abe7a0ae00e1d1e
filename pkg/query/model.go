// Package query holds the fluent query model and its compiler.
//
// A Model is built by the caller, then compiled into a Plan: an ordered list of
// clauses that every storage backend folds into its native query in exactly
// the order given. Plans are store neutral so the same model compiles to the
// same shape on Mongo, Firestore and the embedded backends.
package query

import (
	"fmt"
	"sync/atomic"

	"github.com/Rupali59/docbridge/pkg/value"
)

// DefaultLimit applies when a model has no explicit limit.
const DefaultLimit = 20

// Op is a predicate class.
type Op int

const (
	OpEqual Op = iota
	OpArrayContains
	OpGreaterThan
	OpLessThan
)

func (o Op) String() string {
	switch o {
	case OpEqual:
		return "=="
	case OpArrayContains:
		return "array-contains"
	case OpGreaterThan:
		return ">"
	case OpLessThan:
		return "<"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// predicates is an insertion-ordered field->value mapping. Re-adding a field
// replaces its value but keeps its first position.
type predicates struct {
	fields []string
	values map[string]value.Value
}

func (p *predicates) put(field string, v value.Value) {
	if p.values == nil {
		p.values = make(map[string]value.Value)
	}
	if _, ok := p.values[field]; !ok {
		p.fields = append(p.fields, field)
	}
	p.values[field] = v
}

func (p *predicates) clone() predicates {
	out := predicates{
		fields: append([]string(nil), p.fields...),
		values: make(map[string]value.Value, len(p.values)),
	}
	for k, v := range p.values {
		out.values[k] = v
	}
	return out
}

// Model describes a query against one collection.
//
// Builder methods mutate and return the model. Once the model has been
// compiled (or handed to the dispatcher or a watch) it is frozen and any
// further builder call panics; use Clone to derive a new query.
type Model struct {
	collection    string
	equalTo       predicates
	arrayContains predicates
	greaterThan   predicates
	lessThan      predicates
	limit         int
	limitSet      bool
	offset        int
	offsetSet     bool
	err           error
	frozen        atomic.Bool
}

// New returns an empty model for collection. It panics when collection is
// empty.
func New(collection string) *Model {
	if collection == "" {
		panic("query: collection name must not be empty")
	}
	return &Model{collection: collection}
}

// Collection returns the collection the model targets.
func (m *Model) Collection() string { return m.collection }

func (m *Model) mutable() {
	if m.frozen.Load() {
		panic(fmt.Sprintf("query: model for %q is frozen after compilation", m.collection))
	}
}

// Freeze marks the model read-only. It is called by the compiler and is safe
// to call more than once.
func (m *Model) Freeze() { m.frozen.Store(true) }

// Frozen reports whether the model is read-only.
func (m *Model) Frozen() bool { return m.frozen.Load() }

// WhereEqualTo adds an equality predicate.
func (m *Model) WhereEqualTo(field string, v any) *Model {
	return m.where(&m.equalTo, OpEqual, field, v)
}

// WhereArrayContains adds an array-contains predicate.
func (m *Model) WhereArrayContains(field string, v any) *Model {
	return m.where(&m.arrayContains, OpArrayContains, field, v)
}

// WhereGreaterThan adds a strict greater-than predicate.
func (m *Model) WhereGreaterThan(field string, v any) *Model {
	return m.where(&m.greaterThan, OpGreaterThan, field, v)
}

// WhereLessThan adds a strict less-than predicate.
func (m *Model) WhereLessThan(field string, v any) *Model {
	return m.where(&m.lessThan, OpLessThan, field, v)
}

// where records the first unconvertible operand instead of panicking; the
// error surfaces when the model is compiled.
func (m *Model) where(preds *predicates, op Op, field string, v any) *Model {
	m.mutable()
	ev, err := value.From(v)
	if err != nil {
		if m.err == nil {
			m.err = fmt.Errorf("query: %s %s: %w", field, op, err)
		}
		return m
	}
	preds.put(field, ev)
	return m
}

// Err returns the first predicate operand that could not be converted.
func (m *Model) Err() error { return m.err }

// WithLimit caps the number of documents a query returns.
func (m *Model) WithLimit(n int) *Model {
	m.mutable()
	m.limit, m.limitSet = n, true
	return m
}

// WithOffset skips the first n matching documents.
func (m *Model) WithOffset(n int) *Model {
	m.mutable()
	m.offset, m.offsetSet = n, true
	return m
}

// Limit returns the explicit limit, if any.
func (m *Model) Limit() (int, bool) { return m.limit, m.limitSet }

// Offset returns the explicit offset, if any.
func (m *Model) Offset() (int, bool) { return m.offset, m.offsetSet }

// Clone returns an unfrozen deep copy.
func (m *Model) Clone() *Model {
	return &Model{
		collection:    m.collection,
		equalTo:       m.equalTo.clone(),
		arrayContains: m.arrayContains.clone(),
		greaterThan:   m.greaterThan.clone(),
		lessThan:      m.lessThan.clone(),
		limit:         m.limit,
		limitSet:      m.limitSet,
		offset:        m.offset,
		offsetSet:     m.offsetSet,
		err:           m.err,
	}
}

// classes returns the predicate mappings in compilation order.
func (m *Model) classes() []struct {
	op    Op
	preds *predicates
} {
	return []struct {
		op    Op
		preds *predicates
	}{
		{OpEqual, &m.equalTo},
		{OpArrayContains, &m.arrayContains},
		{OpGreaterThan, &m.greaterThan},
		{OpLessThan, &m.lessThan},
	}
}
