package query

import (
	"strings"

	"github.com/Rupali59/docbridge/pkg/value"
)

// Matches evaluates the plan's clauses against doc. Limit and offset are not
// considered. Field names may be dotted paths into nested maps. A missing
// field never matches, and greater/less only match comparable values of the
// same family (numbers with numbers, strings with strings, bools with bools).
func (p *Plan) Matches(doc value.Map) bool {
	for _, c := range p.Clauses {
		if !c.Matches(doc) {
			return false
		}
	}
	return true
}

// Matches evaluates a single clause.
func (c Clause) Matches(doc value.Map) bool {
	got, ok := Lookup(doc, c.Field)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEqual:
		return value.Equal(got, c.Value)
	case OpArrayContains:
		list, ok := got.(value.List)
		if !ok {
			return false
		}
		for _, e := range list {
			if value.Equal(e, c.Value) {
				return true
			}
		}
		return false
	case OpGreaterThan:
		cmp, ok := value.Compare(got, c.Value)
		return ok && cmp > 0
	case OpLessThan:
		cmp, ok := value.Compare(got, c.Value)
		return ok && cmp < 0
	}
	return false
}

// Lookup resolves a dotted field path inside doc.
func Lookup(doc value.Map, path string) (value.Value, bool) {
	if v, ok := doc[path]; ok {
		return v, true
	}
	cur := doc
	parts := strings.Split(path, ".")
	for i, part := range parts {
		v, ok := cur[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		next, ok := v.(value.Map)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}
