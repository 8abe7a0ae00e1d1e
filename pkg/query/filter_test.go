package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rupali59/docbridge/pkg/value"
)

func TestParseCondition(t *testing.T) {
	tests := []struct {
		expr  string
		field string
		op    string
		raw   string
	}{
		{"year>1999", "year", ">", "1999"},
		{"year < 2010", "year", "<", "2010"},
		{"model==Civic", "model", "==", `"Civic"`},
		{`model="Civic"`, "model", "=", `"Civic"`},
		{"used==true", "used", "==", "true"},
		{"tags contains red", "tags", "array-contains", `"red"`},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := ParseCondition(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.field, c.Field)
			assert.Equal(t, tt.op, c.Op)
			assert.JSONEq(t, tt.raw, string(c.Value))
		})
	}

	for _, bad := range []string{"year", ">1999", ""} {
		_, err := ParseCondition(bad)
		assert.Error(t, err, bad)
	}
}

func TestFilterApply(t *testing.T) {
	var f Filter
	require.NoError(t, json.Unmarshal([]byte(`{
		"where": [
			{"field": "year", "op": ">", "value": 1999},
			{"field": "make", "op": "==", "value": "Honda"},
			{"field": "tags", "op": "array-contains", "value": "red"}
		],
		"limit": 5,
		"offset": 2
	}`), &f))

	m := New("cars")
	require.NoError(t, f.Apply(m))
	p, err := Compile(m)
	require.NoError(t, err)

	assert.Equal(t, 5, p.Limit)
	assert.Equal(t, 2, p.Offset)
	assert.Equal(t, []Clause{
		{Op: OpEqual, Field: "make", Value: value.String("Honda")},
		{Op: OpArrayContains, Field: "tags", Value: value.String("red")},
		{Op: OpGreaterThan, Field: "year", Value: value.Int(1999)},
	}, p.Clauses)
}

func TestFilterApplyRejects(t *testing.T) {
	neg := -1
	tests := map[string]Filter{
		"unknown op":      {Where: []Condition{{Field: "a", Op: "!=", Value: json.RawMessage("1")}}},
		"missing field":   {Where: []Condition{{Op: "==", Value: json.RawMessage("1")}}},
		"missing value":   {Where: []Condition{{Field: "a", Op: "=="}}},
		"negative limit":  {Limit: &neg},
		"negative offset": {Offset: &neg},
	}
	for name, f := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, f.Apply(New("cars")))
		})
	}
}
