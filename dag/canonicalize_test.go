package dag_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katalvlaran/dagflow/dag"
	"github.com/katalvlaran/dagflow/ioseq"
	"github.com/katalvlaran/dagflow/producer"
)

func double(state producer.ExecutionState, rows [][]interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(rows))
	for i, r := range rows {
		out[i] = r[0].(int) * 2
	}
	return out, nil
}

func TestCanonicalizeDeduplicatesEqualNodes(t *testing.T) {
	ph := producer.NewPlaceholder("x", "int")
	a := producer.NewPrepared("double", "double-key", []producer.Producer{ph}, double, 0, nil, false)
	b := producer.NewPrepared("double", "double-key", []producer.Producer{ph}, double, 0, nil, false)

	ds, err := dag.Canonicalize([]producer.Producer{ph}, []producer.Producer{a, b})
	require.NoError(t, err)

	require.Len(t, ds.Nodes, 2, "a and b are value-equal and must intern to one canonical node")
	require.Equal(t, ds.OutputIndices[0], ds.OutputIndices[1])
}

// TestCanonicalizeNeverMixesIdentityAndValueHashing is a regression test for
// the two deliberately separate maps inside canonicalization: BFS discovery
// keys by Handle (identity), the dedup pass keys by TypeTag bucket plus a
// linear Equal scan (value). Two distinct placeholder instances must never
// collapse into one node even though nothing else distinguishes them.
func TestCanonicalizeNeverMixesIdentityAndValueHashing(t *testing.T) {
	x := producer.NewPlaceholder("x", "int")
	y := producer.NewPlaceholder("y", "int")
	a := producer.NewPrepared("double", "double-key", []producer.Producer{x}, double, 0, nil, false)
	b := producer.NewPrepared("double", "double-key", []producer.Producer{y}, double, 0, nil, false)

	ds, err := dag.Canonicalize([]producer.Producer{x, y}, []producer.Producer{a, b})
	require.NoError(t, err)

	require.Len(t, ds.Placeholders, 2)
	require.NotEqual(t, ds.OutputIndices[0], ds.OutputIndices[1], "distinct placeholder parents must keep a and b distinct")
}

func TestCanonicalizeRejectsInvalidNode(t *testing.T) {
	gen := producer.NewGenerator("const", 1, func(uint64) (interface{}, error) { return 1, nil }, true)
	badView := producer.NewView("schema", "schema-key", gen, func(producer.Producer) (interface{}, error) { return nil, nil })

	_, err := dag.Canonicalize(nil, []producer.Producer{badView})
	require.Error(t, err, "a View whose parent is not a Preparable must fail Validate()")
}

type constPreparer struct{}

func (constPreparer) Process([][]interface{}) error { return nil }
func (constPreparer) Finish(_ ioseq.Reader) (producer.Producer, producer.Producer, error) {
	prep := producer.NewPrepared("identity", "identity-key", nil,
		func(_ producer.ExecutionState, rows [][]interface{}) ([]interface{}, error) {
			out := make([]interface{}, len(rows))
			for i, r := range rows {
				out[i] = r[0]
			}
			return out, nil
		}, 0, nil, false)
	return prep, prep, nil
}

// TestCanonicalizeOrdersAcrossPhasesByPhaseNotKind is a regression test for
// reorder(): a second Preparable trained on the output of a Prepared that
// itself consumes an earlier Preparable's View must still end up after that
// Prepared in Nodes, even though both Preparables share the same kind and a
// naive kind-before-phase sort would otherwise interleave them out of
// topological order.
func TestCanonicalizeOrdersAcrossPhasesByPhaseNotKind(t *testing.T) {
	ph := producer.NewPlaceholder("x", "int")
	d := producer.NewPreparable("d", "d-key", []producer.Producer{ph},
		func() producer.Preparer { return constPreparer{} }, producer.ModeStream, false)
	v := producer.NewView("view-of-d", "view-of-d-key", d, func(producer.Producer) (interface{}, error) { return 1, nil })
	c := producer.NewPrepared("c", "c-key", []producer.Producer{v},
		func(_ producer.ExecutionState, rows [][]interface{}) ([]interface{}, error) {
			out := make([]interface{}, len(rows))
			for i, r := range rows {
				out[i] = r[0]
			}
			return out, nil
		}, 0, nil, false)
	e := producer.NewPreparable("e", "e-key", []producer.Producer{c},
		func() producer.Preparer { return constPreparer{} }, producer.ModeStream, false)

	ds, err := dag.Canonicalize([]producer.Producer{ph}, []producer.Producer{e})
	require.NoError(t, err)

	cIdx := ds.IndexOf(c.Handle())
	eIdx := ds.IndexOf(e.Handle())
	require.Less(t, cIdx, eIdx, "e's parent c must precede e in Nodes regardless of both being non-Preparable/Preparable kinds spanning phases")
}

func TestNumPhasesAndNodesInPhase(t *testing.T) {
	ph := producer.NewPlaceholder("x", "int")
	a := producer.NewPrepared("double", "double-key", []producer.Producer{ph}, double, 0, nil, false)

	ds, err := dag.Canonicalize([]producer.Producer{ph}, []producer.Producer{a})
	require.NoError(t, err)
	require.Equal(t, 1, ds.NumPhases())
	require.Len(t, ds.NodesInPhase(0), 2)
}
