// Package refexec is the single-threaded reference executor: the
// correctness baseline every other executor in this module is checked
// against. It trades throughput for a direct, unbatched reading of the
// four-step execution algorithm — materialize placeholders, generate
// generators, walk phases training/applying/viewing in order, assemble
// outputs — with no worker pool, no back-pressure, and no minibatching.
//
// Grounded on lvlath/dfs's TopologicalSort: a single linear pass over an
// already phase-ordered node list, generalized from "visit and record" to
// "visit and compute a row-major value table".
package refexec

import (
	"github.com/katalvlaran/dagflow/dag"
	"github.com/katalvlaran/dagflow/dagerr"
	"github.com/katalvlaran/dagflow/handle"
	"github.com/katalvlaran/dagflow/ioseq"
	"github.com/katalvlaran/dagflow/producer"
)

// Executor is the single-threaded reference executor. It holds no state
// between calls to Run.
type Executor struct{}

// New returns a reference Executor.
func New() *Executor { return &Executor{} }

// trained records what a Preparable resolved to once its training pass
// finishes, so later phases (Views, or the Preparable's own direct use as a
// parent) can reach both forms (I6).
type trained struct {
	forNewData  producer.Producer
	forPrepData producer.Producer
}

// Run executes ds over its declared placeholders' data, returning one
// Reader per entry of ds.Outputs, in order. inputs must have exactly one
// entry per ds.Placeholders (keyed by Handle); their Size64 must agree.
// numRows is used instead when ds has no placeholders (a pure
// generator/constant graph) and must be > 0 in that case.
func (e *Executor) Run(ds *dag.DAGStructure, inputs map[handle.Handle]ioseq.Reader, numRows int64) ([]ioseq.Reader, error) {
	values, _, err := e.runAll(ds, inputs, numRows)
	if err != nil {
		return nil, err
	}
	outputs := make([]ioseq.Reader, len(ds.OutputIndices))
	for i, idx := range ds.OutputIndices {
		outputs[i] = ioseq.FromSlice(values[idx])
	}
	return outputs, nil
}

// Prepare runs ds exactly like Run, training every Preparable it contains,
// and assembles the prepared graph pair instead of materializing outputs:
// a copy of ds with every Preparable replaced by its forNewData form, and
// a copy with every Preparable replaced by its forPrepData form.
func (e *Executor) Prepare(ds *dag.DAGStructure, inputs map[handle.Handle]ioseq.Reader, numRows int64) (forNewData *dag.DAGStructure, forPrepData *dag.DAGStructure, err error) {
	_, trainedOf, err := e.runAll(ds, inputs, numRows)
	if err != nil {
		return nil, nil, err
	}
	byIndex := make(map[int]dag.TrainedForm, len(trainedOf))
	for i, node := range ds.Nodes {
		if node.Kind() != producer.KindPreparable {
			continue
		}
		t, ok := trainedOf[node.Handle()]
		if !ok {
			return nil, nil, dagerr.GraphError("refexec: %q was never trained", node.Name())
		}
		byIndex[i] = dag.TrainedForm{ForNewData: t.forNewData, ForPrepData: t.forPrepData}
	}
	return dag.AssemblePrepared(ds, byIndex)
}

// runAll walks ds's phases once, computing every node's per-row value
// column and recording every Preparable's trained forms, shared by Run and
// Prepare.
func (e *Executor) runAll(ds *dag.DAGStructure, inputs map[handle.Handle]ioseq.Reader, numRows int64) ([][]interface{}, map[handle.Handle]trained, error) {
	n, err := rowCount(ds, inputs, numRows)
	if err != nil {
		return nil, nil, err
	}

	values := make([][]interface{}, len(ds.Nodes))
	trainedOf := make(map[handle.Handle]trained, len(ds.Nodes))

	for phase := 0; phase < ds.NumPhases(); phase++ {
		for _, i := range ds.NodesInPhase(phase) {
			node := ds.Nodes[i]
			switch node.Kind() {
			case producer.KindPlaceholder:
				col, err := materializePlaceholder(node, inputs, n)
				if err != nil {
					return nil, nil, err
				}
				values[i] = col

			case producer.KindGenerator:
				gen := node.(*producer.Generator)
				col := make([]interface{}, n)
				for r := int64(0); r < n; r++ {
					v, err := gen.Generate(uint64(r))
					if err != nil {
						return nil, nil, dagerr.ExecutionFailure(err)
					}
					col[r] = v
				}
				values[i] = col

			case producer.KindPreparable:
				pr, ok := node.(*producer.Preparable)
				if !ok {
					return nil, nil, dagerr.NotSupportedError("refexec: %q must be inlined before execution", node.Name())
				}
				fresh, prep, err := e.trainPreparable(ds, i, pr, values, n)
				if err != nil {
					return nil, nil, err
				}
				trainedOf[node.Handle()] = trained{forNewData: fresh, forPrepData: prep}
				prepApply, ok := prep.(*producer.Prepared)
				if !ok {
					return nil, nil, dagerr.GraphError("refexec: %q's preparer.Finish returned a non-Prepared producer for the preparation-data form", node.Name())
				}
				values[i], err = applyPrepared(prepApply, ds.Parents[i], values, n)
				if err != nil {
					return nil, nil, err
				}

			case producer.KindView:
				v := node.(*producer.View)
				parentIdx := ds.Parents[i][0]
				t, ok := trainedOf[ds.Nodes[parentIdx].Handle()]
				if !ok {
					return nil, nil, dagerr.GraphError("refexec: view %q's parent was never trained", node.Name())
				}
				val, err := v.Compute(t.forNewData)
				if err != nil {
					return nil, nil, dagerr.ExecutionFailure(err)
				}
				col := make([]interface{}, n)
				for r := range col {
					col[r] = val
				}
				values[i] = col

			case producer.KindPrepared:
				p, ok := node.(*producer.Prepared)
				if !ok {
					return nil, nil, dagerr.NotSupportedError("refexec: %q must be inlined before execution", node.Name())
				}
				col, err := applyPrepared(p, ds.Parents[i], values, n)
				if err != nil {
					return nil, nil, err
				}
				values[i] = col

			default:
				return nil, nil, dagerr.GraphError("refexec: unrecognized producer kind %v for %q", node.Kind(), node.Name())
			}
		}
	}

	return values, trainedOf, nil
}

func rowCount(ds *dag.DAGStructure, inputs map[handle.Handle]ioseq.Reader, numRows int64) (int64, error) {
	if len(ds.Placeholders) == 0 {
		if numRows <= 0 {
			return 0, dagerr.GraphError("refexec: numRows must be > 0 for a placeholder-free graph")
		}
		return numRows, nil
	}
	var n int64 = -1
	for _, p := range ds.Placeholders {
		r, ok := inputs[p.Handle()]
		if !ok {
			return 0, dagerr.ShapeMismatchError("refexec: no input reader supplied for placeholder %q", p.Name())
		}
		if n == -1 {
			n = r.Size64()
		} else if r.Size64() != n {
			return 0, dagerr.ShapeMismatchError("refexec: placeholder %q has size %d, expected %d", p.Name(), r.Size64(), n)
		}
	}
	return n, nil
}

func materializePlaceholder(node producer.Producer, inputs map[handle.Handle]ioseq.Reader, n int64) ([]interface{}, error) {
	r := inputs[node.Handle()]
	col := make([]interface{}, n)
	it := r.Iterator()
	defer it.Close()
	copied, err := it.NextN(col)
	if err != nil {
		return nil, dagerr.ShapeMismatchError("refexec: reading placeholder %q: %v", node.Name(), err)
	}
	if int64(copied) != n {
		return nil, dagerr.ShapeMismatchError("refexec: placeholder %q yielded %d rows, expected %d", node.Name(), copied, n)
	}
	return col, nil
}

// trainPreparable runs one full Process/Finish cycle over ds's training
// data for a single Preparable node.
func (e *Executor) trainPreparable(ds *dag.DAGStructure, nodeIdx int, pr *producer.Preparable, values [][]interface{}, n int64) (producer.Producer, producer.Producer, error) {
	preparer := pr.NewPreparer()
	parentIdx := ds.Parents[nodeIdx]

	for r := int64(0); r < n; r++ {
		row := make([]interface{}, len(parentIdx))
		for j, pi := range parentIdx {
			row[j] = values[pi][r]
		}
		if err := preparer.Process([][]interface{}{row}); err != nil {
			return nil, nil, dagerr.ExecutionFailure(err)
		}
	}

	var replayable ioseq.Reader
	if pr.Mode() == producer.ModeBatch {
		cols := make([]ioseq.Reader, len(parentIdx))
		for j, pi := range parentIdx {
			cols[j] = ioseq.FromSlice(values[pi])
		}
		replayable = ioseq.Zip(cols...)
	}

	fresh, prep, err := preparer.Finish(replayable)
	if err != nil {
		return nil, nil, dagerr.ExecutionFailure(err)
	}
	return fresh, prep, nil
}

func applyPrepared(p *producer.Prepared, parentIdx []int, values [][]interface{}, n int64) ([]interface{}, error) {
	rows := make([][]interface{}, n)
	for r := int64(0); r < n; r++ {
		row := make([]interface{}, len(parentIdx))
		for j, pi := range parentIdx {
			row[j] = values[pi][r]
		}
		rows[r] = row
	}
	state := p.NewExecutionState()
	out, err := p.Apply(state, rows)
	if err != nil {
		return nil, dagerr.ExecutionFailure(err)
	}
	if int64(len(out)) != n {
		return nil, dagerr.ShapeMismatchError("refexec: %q returned %d values for %d input rows", p.Name(), len(out), n)
	}
	return out, nil
}
