package producer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katalvlaran/dagflow/producer"
)

func constGen(v interface{}) *producer.Generator {
	return producer.NewGenerator("const", v, func(uint64) (interface{}, error) { return v, nil }, true)
}

func TestPlaceholderIdentityEquality(t *testing.T) {
	a := producer.NewPlaceholder("x", "f64")
	b := producer.NewPlaceholder("x", "f64")

	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b), "two separately-declared placeholders are never equal")
}

func TestGeneratorValueEquality(t *testing.T) {
	a := constGen(1)
	b := constGen(1)
	c := constGen(2)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestPreparedEqualityHonorsCommutative(t *testing.T) {
	left := constGen(1)
	right := constGen(2)

	apply := func(producer.ExecutionState, [][]interface{}) ([]interface{}, error) { return nil, nil }
	p1 := producer.NewPrepared("add", "add-key", []producer.Producer{left, right}, apply, 0, nil, false).MarkCommutative()
	p2 := producer.NewPrepared("add", "add-key", []producer.Producer{right, left}, apply, 0, nil, false).MarkCommutative()

	assert.True(t, p1.Equal(p2), "commutative inputs must compare equal regardless of order")
}

func TestViewRequiresPreparableParent(t *testing.T) {
	compute := func(producer.Producer) (interface{}, error) { return 42, nil }
	gen := constGen(1)
	v := producer.NewView("schema", "schema-key", gen, compute)

	err := v.Validate()
	require.Error(t, err, "a View over a non-Preparable parent must fail validation")
}

func TestEmbeddedArityMismatch(t *testing.T) {
	ph := producer.NewPlaceholder("inner", "f64")
	out := constGen(1)
	e := producer.NewEmbedded("composite", "composite-key", nil, []producer.Producer{ph}, out)

	err := e.Validate()
	require.Error(t, err, "parents/inner placeholder counts must match")
}

func TestSortedByHandleOrdersByHandle(t *testing.T) {
	a := producer.NewPlaceholder("a", "f64")
	b := producer.NewPlaceholder("b", "f64")
	sorted := producer.SortedByHandle([]producer.Producer{b, a})
	require.Len(t, sorted, 2)
	assert.True(t, sorted[0].Handle().Compare(sorted[1].Handle()) <= 0)
}
