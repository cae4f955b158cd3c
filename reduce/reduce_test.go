package reduce_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katalvlaran/dagflow/dag"
	"github.com/katalvlaran/dagflow/ioseq"
	"github.com/katalvlaran/dagflow/producer"
	"github.com/katalvlaran/dagflow/reduce"
)

func constGen(v int) *producer.Generator {
	return producer.NewGenerator("const", v, func(uint64) (interface{}, error) { return v, nil }, true)
}

// TestFoldConstantPrepared proves constant-folding is derived from parent
// constantness, not from a self-declared AlwaysConstant flag: doubled is
// built with constant=false, yet still folds because its sole parent is a
// constant Generator.
func TestFoldConstantPrepared(t *testing.T) {
	gen := constGen(5)
	doubled := producer.NewPrepared("double", "double-key", []producer.Producer{gen},
		func(_ producer.ExecutionState, rows [][]interface{}) ([]interface{}, error) {
			out := make([]interface{}, len(rows))
			for i, r := range rows {
				out[i] = r[0].(int) * 2
			}
			return out, nil
		}, 0, nil, false)

	ds, err := dag.Canonicalize(nil, []producer.Producer{doubled})
	require.NoError(t, err)

	reduced, err := reduce.Reduce(&reduce.Context{}, ds)
	require.NoError(t, err)

	require.True(t, reduced.IsAlwaysConstant)
	out := reduced.Outputs[0]
	require.Equal(t, producer.KindGenerator, out.Kind(), "a Prepared over all-constant parents must fold to a Generator even when not self-flagged constant")
}

func addPrepared(left, right producer.Producer) *producer.Prepared {
	return producer.NewPrepared("add", "add-key", []producer.Producer{left, right},
		func(_ producer.ExecutionState, rows [][]interface{}) ([]interface{}, error) {
			out := make([]interface{}, len(rows))
			for i, r := range rows {
				out[i] = r[0].(int) + r[1].(int)
			}
			return out, nil
		}, 0, nil, false).MarkCommutative()
}

func TestFoldConstantAddition(t *testing.T) {
	sum := addPrepared(constGen(3), constGen(4))

	ds, err := dag.Canonicalize(nil, []producer.Producer{sum})
	require.NoError(t, err)

	reduced, err := reduce.Reduce(&reduce.Context{}, ds)
	require.NoError(t, err)

	out, ok := reduced.Outputs[0].(*producer.Generator)
	require.True(t, ok, "Add(Const(3), Const(4)) must fold to a constant Generator")
	v, err := out.Generate(0)
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

func densify(parent producer.Producer) *producer.Prepared {
	return producer.NewPrepared("densify", "densify-key", []producer.Producer{parent},
		func(_ producer.ExecutionState, rows [][]interface{}) ([]interface{}, error) {
			out := make([]interface{}, len(rows))
			for i, r := range rows {
				out[i] = r[0]
			}
			return out, nil
		}, 0, nil, false).MarkIdempotent()
}

func TestCollapseIdempotentChain(t *testing.T) {
	ph := producer.NewPlaceholder("x", "int")
	chain := densify(densify(ph))

	ds, err := dag.Canonicalize([]producer.Producer{ph}, []producer.Producer{chain})
	require.NoError(t, err)

	reduced, err := reduce.Reduce(&reduce.Context{}, ds)
	require.NoError(t, err)

	require.Len(t, reduced.Nodes, 2, "the nested Densify(Densify(x)) must collapse to a single Densify(x)")
	out := reduced.Outputs[0]
	require.Equal(t, "densify", out.Name())
	require.Len(t, reduced.Parents[reduced.IndexOf(out.Handle())], 1)
	require.Equal(t, producer.KindPlaceholder, reduced.Nodes[reduced.Parents[reduced.IndexOf(out.Handle())][0]].Kind())
}

type sumPreparer struct{ sum int }

func (p *sumPreparer) Process(rows [][]interface{}) error {
	for _, r := range rows {
		p.sum += r[0].(int)
	}
	return nil
}

func (p *sumPreparer) Finish(ioseq.Reader) (producer.Producer, producer.Producer, error) {
	total := p.sum
	apply := func(producer.ExecutionState, [][]interface{}) ([]interface{}, error) {
		return []interface{}{total}, nil
	}
	prep := producer.NewPrepared("sum", fmt.Sprintf("sum-%d", total), nil, apply, 0, nil, true)
	return prep, prep, nil
}

func TestFoldIdempotentPreparable(t *testing.T) {
	gen := constGen(7)
	preparable := producer.NewPreparable("sum-preparable", "sum-preparable-key", []producer.Producer{gen},
		func() producer.Preparer { return &sumPreparer{} }, producer.ModeStream, true)

	ds, err := dag.Canonicalize(nil, []producer.Producer{preparable})
	require.NoError(t, err)
	require.False(t, ds.IsPrepared)

	reduced, err := reduce.Reduce(&reduce.Context{}, ds)
	require.NoError(t, err)
	require.True(t, reduced.IsPrepared, "the idempotent preparable must be folded away entirely")
}

func TestInlineMultiOutputEmbedded(t *testing.T) {
	inner := producer.NewPlaceholder("inner", "int")
	doubleOut := producer.NewPrepared("double", "double-key", []producer.Producer{inner},
		func(_ producer.ExecutionState, rows [][]interface{}) ([]interface{}, error) {
			out := make([]interface{}, len(rows))
			for i, r := range rows {
				out[i] = r[0].(int) * 2
			}
			return out, nil
		}, 0, nil, false)
	tripleOut := producer.NewPrepared("triple", "triple-key", []producer.Producer{inner},
		func(_ producer.ExecutionState, rows [][]interface{}) ([]interface{}, error) {
			out := make([]interface{}, len(rows))
			for i, r := range rows {
				out[i] = r[0].(int) * 3
			}
			return out, nil
		}, 0, nil, false)

	embedded := producer.NewEmbedded("composite", "composite-key",
		[]producer.Producer{constGen(5)}, []producer.Producer{inner}, doubleOut, tripleOut)

	ds, err := dag.Canonicalize(nil, []producer.Producer{embedded})
	require.NoError(t, err)

	reduced, err := reduce.Reduce(&reduce.Context{}, ds)
	require.NoError(t, err)

	out, ok := reduced.Outputs[0].(*producer.Generator)
	require.True(t, ok, "a multi-output embedded sub-graph over constant parents must fold to a constant Generator")
	v, err := out.Generate(0)
	require.NoError(t, err)
	require.Equal(t, []interface{}{10, 15}, v)
}

func TestReduceLeavesPlaceholdersUntouched(t *testing.T) {
	ph := producer.NewPlaceholder("x", "int")
	identity := producer.NewPrepared("identity", "identity-key", []producer.Producer{ph},
		func(_ producer.ExecutionState, rows [][]interface{}) ([]interface{}, error) {
			out := make([]interface{}, len(rows))
			for i, r := range rows {
				out[i] = r[0]
			}
			return out, nil
		}, 0, nil, false)

	ds, err := dag.Canonicalize([]producer.Producer{ph}, []producer.Producer{identity})
	require.NoError(t, err)

	reduced, err := reduce.Reduce(&reduce.Context{}, ds)
	require.NoError(t, err)
	require.Len(t, reduced.Placeholders, 1)
	require.Equal(t, ph.Handle(), reduced.Placeholders[0].Handle())
}
