package dag

import (
	"github.com/katalvlaran/dagflow/dagerr"
	"github.com/katalvlaran/dagflow/producer"
)

// TrainedForm holds the two producers a Preparable's Finish call yields: one
// to apply to new data, one to apply to the data the graph was itself
// prepared on.
type TrainedForm struct {
	ForNewData  producer.Producer
	ForPrepData producer.Producer
}

// AssemblePrepared rebuilds ds as a pair of prepared graphs: a copy with
// every Preparable replaced by its ForNewData form, and a copy with every
// Preparable replaced by its ForPrepData form. trained must hold an entry
// for every Preparable node index in ds (its Nodes index, not its Handle).
// This is the "assemble the final PreparedDAG as a copy of the original
// with outputs rewritten through the respective maps" step: the primary
// deliverable of a preparation run.
func AssemblePrepared(ds *DAGStructure, trained map[int]TrainedForm) (forNewData *DAGStructure, forPrepData *DAGStructure, err error) {
	forNewData, err = assembleVariant(ds, trained, func(t TrainedForm) producer.Producer { return t.ForNewData })
	if err != nil {
		return nil, nil, err
	}
	forPrepData, err = assembleVariant(ds, trained, func(t TrainedForm) producer.Producer { return t.ForPrepData })
	if err != nil {
		return nil, nil, err
	}
	return forNewData, forPrepData, nil
}

// assembleVariant walks ds.Nodes once (parents always precede children, per
// Canonicalize's ordering guarantee), replacing every Preparable with its
// trained form, resolving every View against that same form, and rebuilding
// every other non-root over its already-rewritten parents, then
// re-canonicalizes the result.
func assembleVariant(ds *DAGStructure, trained map[int]TrainedForm, pick func(TrainedForm) producer.Producer) (*DAGStructure, error) {
	rewritten := make([]producer.Producer, len(ds.Nodes))

	for i, node := range ds.Nodes {
		if node.Kind() == producer.KindPlaceholder {
			rewritten[i] = node
			continue
		}

		ins := ds.Parents[i]
		newParents := make([]producer.Producer, len(ins))
		changed := false
		for j, pi := range ins {
			newParents[j] = rewritten[pi]
			if newParents[j] != node.Inputs()[j] {
				changed = true
			}
		}

		if node.Kind() == producer.KindPreparable {
			t, ok := trained[i]
			if !ok {
				return nil, dagerr.GraphError("dag: assemble: %q was never trained", node.Name())
			}
			// Rewire the trained form onto the Preparable's own (already
			// rewritten) parents: Finish may return a Prepared declaring
			// its own Inputs (e.g. none, relying on the training loop's
			// positional row gathering), but the assembled standalone
			// graph must still carry the original edges forward.
			rewritten[i] = pick(t).WithInputs(newParents)
			continue
		}

		if node.Kind() == producer.KindView {
			t, ok := trained[ins[0]]
			if !ok {
				return nil, dagerr.GraphError("dag: assemble: %q's preparable parent was never trained", node.Name())
			}
			v := node.(*producer.View)
			val, err := v.Compute(pick(t))
			if err != nil {
				return nil, dagerr.ExecutionFailure(err)
			}
			rewritten[i] = assembledConstant(node.Name(), val)
			continue
		}

		if changed {
			rewritten[i] = node.WithInputs(newParents)
		} else {
			rewritten[i] = node
		}
	}

	placeholders := make([]producer.Producer, len(ds.Placeholders))
	for i, p := range ds.Placeholders {
		placeholders[i] = rewritten[ds.IndexOf(p.Handle())]
	}
	outputs := make([]producer.Producer, len(ds.OutputIndices))
	for i, idx := range ds.OutputIndices {
		outputs[i] = rewritten[idx]
	}
	return Canonicalize(placeholders, outputs)
}

type assembledConstantKey struct {
	name  string
	value interface{}
}

// assembledConstant wraps a View's resolved value as a constant Generator,
// the same representation the reducer's own constant-folding rules produce.
func assembledConstant(name string, value interface{}) *producer.Generator {
	return producer.NewGenerator(name+"#assembled", assembledConstantKey{name: name, value: value},
		func(uint64) (interface{}, error) { return value, nil }, true)
}
