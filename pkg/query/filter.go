package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Rupali59/docbridge/pkg/value"
)

// Condition is a predicate in its wire form, as accepted by the HTTP API and
// the CLI.
type Condition struct {
	Field string          `json:"field"`
	Op    string          `json:"op"`
	Value json.RawMessage `json:"value"`
}

// Filter is a query in its wire form.
type Filter struct {
	Where  []Condition `json:"where"`
	Limit  *int        `json:"limit,omitempty"`
	Offset *int        `json:"offset,omitempty"`
}

// ParseOp maps an operator token to an Op.
func ParseOp(s string) (Op, error) {
	switch s {
	case "==", "=":
		return OpEqual, nil
	case "array-contains", "contains":
		return OpArrayContains, nil
	case ">":
		return OpGreaterThan, nil
	case "<":
		return OpLessThan, nil
	}
	return 0, fmt.Errorf("query: unknown operator %q", s)
}

// ParseCondition reads "field<op>value" where op is one of ==, >, < or
// " contains ". The value is JSON when it parses as JSON and a bare string
// otherwise, so year>1999 compares numbers and model==Civic compares strings.
func ParseCondition(expr string) (Condition, error) {
	if field, rhs, ok := strings.Cut(expr, " contains "); ok {
		return condition(field, "array-contains", rhs)
	}
	if i := strings.Index(expr, "=="); i > 0 {
		return condition(expr[:i], "==", expr[i+2:])
	}
	if i := strings.IndexAny(expr, "<>="); i > 0 {
		return condition(expr[:i], string(expr[i]), expr[i+1:])
	}
	return Condition{}, fmt.Errorf("query: cannot parse condition %q", expr)
}

func condition(field, op, rhs string) (Condition, error) {
	field, rhs = strings.TrimSpace(field), strings.TrimSpace(rhs)
	if field == "" {
		return Condition{}, fmt.Errorf("query: condition has no field")
	}
	raw := json.RawMessage(rhs)
	if !json.Valid(raw) {
		raw, _ = json.Marshal(rhs)
	}
	return Condition{Field: field, Op: op, Value: raw}, nil
}

// Apply adds the filter's predicates, limit and offset to m.
func (f Filter) Apply(m *Model) error {
	for _, c := range f.Where {
		if c.Field == "" {
			return fmt.Errorf("query: condition has no field")
		}
		op, err := ParseOp(c.Op)
		if err != nil {
			return err
		}
		if len(c.Value) == 0 {
			return fmt.Errorf("query: condition on %q has no value", c.Field)
		}
		v, err := value.ParseJSON(c.Value)
		if err != nil {
			return err
		}
		switch op {
		case OpEqual:
			m.WhereEqualTo(c.Field, v)
		case OpArrayContains:
			m.WhereArrayContains(c.Field, v)
		case OpGreaterThan:
			m.WhereGreaterThan(c.Field, v)
		case OpLessThan:
			m.WhereLessThan(c.Field, v)
		}
	}
	if f.Limit != nil {
		if *f.Limit < 0 {
			return fmt.Errorf("query: negative limit %d", *f.Limit)
		}
		m.WithLimit(*f.Limit)
	}
	if f.Offset != nil {
		if *f.Offset < 0 {
			return fmt.Errorf("query: negative offset %d", *f.Offset)
		}
		m.WithOffset(*f.Offset)
	}
	return nil
}
