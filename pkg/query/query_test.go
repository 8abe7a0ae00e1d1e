package query

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rupali59/docbridge/pkg/value"
)

// recorder is a Folder that logs every step it is asked to apply.
type recorder struct{}

func (recorder) Limit(q []string, n int) []string  { return append(q, fmt.Sprintf("limit %d", n)) }
func (recorder) Offset(q []string, n int) []string { return append(q, fmt.Sprintf("offset %d", n)) }
func (recorder) Where(q []string, c Clause) []string {
	return append(q, c.String())
}

func mustCompile(t *testing.T, m *Model) *Plan {
	t.Helper()
	p, err := Compile(m)
	require.NoError(t, err)
	return p
}

func mustListen(t *testing.T, m *Model) *Plan {
	t.Helper()
	p, err := CompileListener(m)
	require.NoError(t, err)
	return p
}

func TestCompileOrder(t *testing.T) {
	// Builder calls interleave classes; compiled order must not.
	m := New("cars").
		WhereLessThan("price", 30000).
		WhereEqualTo("brand", "Toyota").
		WhereGreaterThan("year", 2015).
		WhereArrayContains("tags", "hybrid").
		WhereEqualTo("electric", true).
		WithOffset(5)

	steps := Fold[[]string](mustCompile(t, m), nil, recorder{})

	assert.Equal(t, []string{
		"limit 20",
		"offset 5",
		"brand == Toyota",
		"electric == true",
		"tags array-contains hybrid",
		"year > 2015",
		"price < 30000",
	}, steps)
}

func TestCompileInsertionOrderWithinClass(t *testing.T) {
	a := mustCompile(t, New("cars").WhereEqualTo("model", "Yaris").WhereEqualTo("brand", "Toyota"))
	b := mustCompile(t, New("cars").WhereEqualTo("brand", "Toyota").WhereEqualTo("model", "Yaris"))

	assert.Equal(t, "model", a.Clauses[0].Field)
	assert.Equal(t, "brand", b.Clauses[0].Field)
}

func TestCompileDeterministic(t *testing.T) {
	build := func() *Model {
		m := New("cars")
		for i := 0; i < 50; i++ {
			m.WhereEqualTo(fmt.Sprintf("f%02d", i), i)
		}
		return m
	}
	want := mustCompile(t, build()).String()
	for i := 0; i < 20; i++ {
		assert.Equal(t, want, mustCompile(t, build()).String())
	}
}

func TestCompileReAddKeepsPosition(t *testing.T) {
	p := mustCompile(t, New("cars").
		WhereEqualTo("brand", "Seat").
		WhereEqualTo("model", "Ibiza").
		WhereEqualTo("brand", "Toyota"))

	require.Len(t, p.Clauses, 2)
	assert.Equal(t, "brand", p.Clauses[0].Field)
	assert.Equal(t, value.String("Toyota"), p.Clauses[0].Value)
}

func TestCompileLimitAndOffset(t *testing.T) {
	p := mustCompile(t, New("cars"))
	assert.True(t, p.HasLimit)
	assert.Equal(t, DefaultLimit, p.Limit)
	assert.False(t, p.HasOffset)

	p = mustCompile(t, New("cars").WithLimit(3).WithOffset(7))
	assert.Equal(t, 3, p.Limit)
	assert.True(t, p.HasOffset)
	assert.Equal(t, 7, p.Offset)
}

func TestCompileListener(t *testing.T) {
	m := New("cars").WithLimit(3).WithOffset(7).WhereGreaterThan("year", 2000).WhereEqualTo("brand", "Toyota")

	steps := Fold[[]string](mustListen(t, m), nil, recorder{})

	assert.Equal(t, []string{"offset 0", "brand == Toyota", "year > 2000"}, steps)
}

func TestModelFrozenAfterCompile(t *testing.T) {
	m := New("cars").WhereEqualTo("brand", "Toyota")
	mustCompile(t, m)

	assert.True(t, m.Frozen())
	assert.Panics(t, func() { m.WhereEqualTo("model", "Yaris") })
	assert.Panics(t, func() { m.WithLimit(1) })

	c := m.Clone()
	assert.False(t, c.Frozen())
	c.WhereEqualTo("model", "Yaris")
	assert.Len(t, mustCompile(t, c).Clauses, 2)
	assert.Len(t, mustCompile(t, m).Clauses, 1)
}

func TestNewRejectsEmptyCollection(t *testing.T) {
	assert.Panics(t, func() { New("") })
}

func TestMatches(t *testing.T) {
	doc := value.M(map[string]any{
		"brand":  "Toyota",
		"year":   2019,
		"price":  21500.5,
		"tags":   []any{"hybrid", "family"},
		"engine": map[string]any{"cc": 1800},
	})

	tests := []struct {
		name  string
		model *Model
		want  bool
	}{
		{"empty", New("cars"), true},
		{"equal", New("cars").WhereEqualTo("brand", "Toyota"), true},
		{"equal miss", New("cars").WhereEqualTo("brand", "Seat"), false},
		{"int vs float", New("cars").WhereGreaterThan("price", 20000), true},
		{"less", New("cars").WhereLessThan("year", 2019), false},
		{"array contains", New("cars").WhereArrayContains("tags", "family"), true},
		{"array contains miss", New("cars").WhereArrayContains("tags", "sport"), false},
		{"array contains on scalar", New("cars").WhereArrayContains("brand", "Toyota"), false},
		{"nested path", New("cars").WhereEqualTo("engine.cc", 1800), true},
		{"missing field", New("cars").WhereEqualTo("color", "red"), false},
		{"mixed kinds", New("cars").WhereGreaterThan("brand", 1), false},
		{"all", New("cars").WhereEqualTo("brand", "Toyota").WhereGreaterThan("year", 2010).WhereLessThan("price", 30000), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustListen(t, tt.model).Matches(doc))
		})
	}
}

func TestPlanString(t *testing.T) {
	p := mustCompile(t, New("cars").WhereEqualTo("brand", "Toyota").WhereLessThan("year", 2000))
	assert.Equal(t, "cars limit 20 where brand == Toyota and year < 2000", p.String())
}

func TestUnsupportedOperandFailsCompile(t *testing.T) {
	type latLng struct{ Lat, Lng float64 }

	var m *Model
	require.NotPanics(t, func() {
		m = New("cars").
			WhereEqualTo("brand", "Toyota").
			WhereLessThan("position", latLng{1, 2}).
			WhereGreaterThan("year", 2000)
	})
	require.Error(t, m.Err())
	assert.Contains(t, m.Err().Error(), "position <")

	_, err := Compile(m)
	assert.Equal(t, m.Err(), err)
	_, err = CompileListener(m.Clone())
	assert.Error(t, err)
}
