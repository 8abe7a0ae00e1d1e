package query

import (
	"fmt"
	"strings"

	"github.com/Rupali59/docbridge/pkg/value"
)

// Clause is one compiled predicate.
type Clause struct {
	Op    Op
	Field string
	Value value.Value
}

func (c Clause) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value.Native())
}

// Plan is a compiled, store neutral query. Backends must apply Limit, then
// Offset, then Clauses in slice order; Fold does this for them.
type Plan struct {
	Collection string
	Limit      int
	HasLimit   bool
	Offset     int
	HasOffset  bool
	Clauses    []Clause
}

// Compile builds the plan for a one-shot query. The limit is always set
// (DefaultLimit when the model has none); the offset only when the model has
// one. Predicates follow in class order (equality, array-contains,
// greater-than, less-than), insertion order within a class. A model holding
// an unconvertible operand does not compile.
func Compile(m *Model) (*Plan, error) {
	m.Freeze()
	if m.err != nil {
		return nil, m.err
	}
	p := &Plan{Collection: m.collection, Limit: DefaultLimit, HasLimit: true}
	if n, ok := m.Limit(); ok {
		p.Limit = n
	}
	if n, ok := m.Offset(); ok {
		p.Offset, p.HasOffset = n, true
	}
	p.Clauses = clauses(m)
	return p, nil
}

// CompileListener builds the plan used to register a change listener. It
// never paginates: no limit, offset pinned to zero.
func CompileListener(m *Model) (*Plan, error) {
	m.Freeze()
	if m.err != nil {
		return nil, m.err
	}
	return &Plan{
		Collection: m.collection,
		HasOffset:  true,
		Clauses:    clauses(m),
	}, nil
}

func clauses(m *Model) []Clause {
	var out []Clause
	for _, class := range m.classes() {
		for _, field := range class.preds.fields {
			out = append(out, Clause{Op: class.op, Field: field, Value: class.preds.values[field]})
		}
	}
	return out
}

// Folder translates plan steps into a backend query type Q.
type Folder[Q any] interface {
	Limit(q Q, n int) Q
	Offset(q Q, n int) Q
	Where(q Q, c Clause) Q
}

// Fold applies the plan to base in the fixed order: limit, offset, clauses.
func Fold[Q any](p *Plan, base Q, f Folder[Q]) Q {
	q := base
	if p.HasLimit {
		q = f.Limit(q, p.Limit)
	}
	if p.HasOffset {
		q = f.Offset(q, p.Offset)
	}
	for _, c := range p.Clauses {
		q = f.Where(q, c)
	}
	return q
}

// String renders the plan deterministically, mostly for logs.
func (p *Plan) String() string {
	var b strings.Builder
	b.WriteString(p.Collection)
	if p.HasLimit {
		fmt.Fprintf(&b, " limit %d", p.Limit)
	}
	if p.HasOffset {
		fmt.Fprintf(&b, " offset %d", p.Offset)
	}
	for i, c := range p.Clauses {
		if i == 0 {
			b.WriteString(" where ")
		} else {
			b.WriteString(" and ")
		}
		b.WriteString(c.String())
	}
	return b.String()
}
