// Package reduce runs the fixed-point graph-rewrite pass between
// canonicalization and execution: constant folding, embedded-DAG inlining,
// and idempotent-class collapsing, with the graph re-canonicalized after
// every iteration that changed it. Rules are registered per TypeTag, mirroring how lvlath/dfs
// and lvlath/bfs each accept a small set of named Option functions rather
// than a monolithic config struct.
package reduce

import (
	"go.uber.org/zap"

	"github.com/katalvlaran/dagflow/dag"
	"github.com/katalvlaran/dagflow/dagerr"
	"github.com/katalvlaran/dagflow/handle"
	"github.com/katalvlaran/dagflow/ioseq"
	"github.com/katalvlaran/dagflow/producer"
)

// maxIterations bounds the fixed-point loop; a graph that hasn't
// stabilized after this many re-canonicalizations indicates a rule is
// oscillating, which is a bug in the rule, not in the graph.
const maxIterations = 64

// Rule rewrites a single producer, whose Inputs() already reflect this
// iteration's rewritten parents. It returns the replacement (or p itself),
// whether it made a change, and any error.
type Rule func(ctx *Context, p producer.Producer) (producer.Producer, bool, error)

// Context carries cross-cutting facilities available to every Rule.
type Context struct {
	// Logger receives a debug line whenever a rule folds or inlines a
	// node; nil disables logging.
	Logger *zap.Logger
}

func (c *Context) log(msg string, fields ...zap.Field) {
	if c != nil && c.Logger != nil {
		c.Logger.Debug(msg, fields...)
	}
}

var registry = map[string][]Rule{}

// Register adds rule to the set run against every producer whose TypeTag()
// equals typeTag.
func Register(typeTag string, rule Rule) {
	registry[typeTag] = append(registry[typeTag], rule)
}

func init() {
	Register("producer.Prepared", foldIdempotentChain)
	Register("producer.Prepared", foldConstantPrepared)
	Register("producer.Preparable", foldIdempotentPreparable)
	Register("producer.View", foldResolvedView)
	Register("producer.Embedded", inlineEmbedded)
}

// Reduce runs rules to a fixed point, re-canonicalizing after every
// iteration that changed anything, and returns the final DAGStructure.
// A graph on which no rule ever fires is returned unchanged (by identity)
// after the first, no-op iteration.
func Reduce(ctx *Context, ds *dag.DAGStructure) (*dag.DAGStructure, error) {
	if ctx == nil {
		ctx = &Context{}
	}
	current := ds
	for iter := 0; iter < maxIterations; iter++ {
		newPlaceholders, newOutputs, changed, err := rewritePass(ctx, current)
		if err != nil {
			return nil, err
		}
		if !changed {
			return current, nil
		}
		next, err := dag.Canonicalize(newPlaceholders, newOutputs)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return nil, dagerr.GraphError("reduce: did not reach a fixed point within %d iterations", maxIterations)
}

// rewritePass walks ds.Nodes bottom-up exactly once, substituting each
// node's parents for their already-rewritten forms and then running that
// node's registered rules. Placeholders are never passed to rules (I8: the
// reducer must never introduce, remove, or replace a Placeholder).
func rewritePass(ctx *Context, ds *dag.DAGStructure) (placeholders, outputs []producer.Producer, changed bool, err error) {
	rewritten := make([]producer.Producer, len(ds.Nodes))

	for i, node := range ds.Nodes {
		if node.Kind() == producer.KindPlaceholder {
			rewritten[i] = node
			continue
		}

		ins := ds.Parents[i]
		newParents := make([]producer.Producer, len(ins))
		parentsChanged := false
		for j, pi := range ins {
			newParents[j] = rewritten[pi]
			if newParents[j] != node.Inputs()[j] {
				parentsChanged = true
			}
		}

		substituted := node
		if parentsChanged {
			substituted = node.WithInputs(newParents)
		}

		final, ruleChanged, rerr := applyRules(ctx, substituted)
		if rerr != nil {
			return nil, nil, false, rerr
		}
		if parentsChanged || ruleChanged {
			changed = true
		}
		rewritten[i] = final
	}

	placeholders = make([]producer.Producer, len(ds.Placeholders))
	for i, p := range ds.Placeholders {
		idx := ds.IndexOf(p.Handle())
		placeholders[i] = rewritten[idx]
	}
	outputs = make([]producer.Producer, len(ds.OutputIndices))
	for i, idx := range ds.OutputIndices {
		outputs[i] = rewritten[idx]
	}
	return placeholders, outputs, changed, nil
}

// applyRules runs every rule registered for p's TypeTag once each, chaining
// a replacement through subsequent rules within the same pass.
func applyRules(ctx *Context, p producer.Producer) (producer.Producer, bool, error) {
	changed := false
	cur := p
	for _, rule := range registry[cur.TypeTag()] {
		next, ok, err := rule(ctx, cur)
		if err != nil {
			return nil, false, err
		}
		if ok {
			cur = next
			changed = true
		}
	}
	return cur, changed, nil
}

// --- constant folding ----------------------------------------------------

type foldedKey struct{ value interface{} }

func newFoldedGenerator(name string, value interface{}) *producer.Generator {
	return producer.NewGenerator(name+"#folded", foldedKey{value: value}, func(uint64) (interface{}, error) {
		return value, nil
	}, true)
}

// foldConstantPrepared replaces a PreparedTransformer with a plain constant
// Generator whenever every one of its (already-rewritten) parents is itself
// a constant Generator: a non-root is constant iff all its parents are
// constant and it is not declared nondeterministic, so its value can be
// computed once, right now, from the parents' own index-0 values —
// regardless of whether the transformer itself was separately flagged
// AlwaysConstant.
func foldConstantPrepared(ctx *Context, p producer.Producer) (producer.Producer, bool, error) {
	pr, ok := p.(*producer.Prepared)
	if !ok || pr.Nondeterministic() {
		return p, false, nil
	}
	row, ok := constantParentRow(pr.Inputs())
	if !ok {
		return p, false, nil
	}
	out, err := pr.Apply(pr.NewExecutionState(), [][]interface{}{row})
	if err != nil {
		return nil, false, dagerr.ExecutionFailure(err)
	}
	if len(out) != 1 {
		return nil, false, dagerr.GraphError("reduce: constant fold of %q returned %d values, expected 1", pr.Name(), len(out))
	}
	ctx.log("reduce: folded prepared transformer with all-constant parents", zap.String("name", pr.Name()))
	return newFoldedGenerator(pr.Name(), out[0]), true, nil
}

// foldIdempotentChain collapses two consecutive applications of the same
// declared idempotent transformer class into one: T(T(x)) and T(x) are
// equal whenever T.Idempotent() is true, so the outer application is
// redundant and is replaced by its own (already-rewritten) parent.
func foldIdempotentChain(ctx *Context, p producer.Producer) (producer.Producer, bool, error) {
	pr, ok := p.(*producer.Prepared)
	if !ok || !pr.Idempotent() {
		return p, false, nil
	}
	ins := pr.Inputs()
	if len(ins) != 1 {
		return p, false, nil
	}
	parent, ok := ins[0].(*producer.Prepared)
	if !ok || !parent.Idempotent() || !pr.SameTransformClass(parent) {
		return p, false, nil
	}
	ctx.log("reduce: collapsed idempotent transformer chain", zap.String("name", pr.Name()))
	return parent, true, nil
}

// foldIdempotentPreparable replaces a Preparable whose preparer is declared
// idempotent with its trained Prepared form (preparedForNewData) whenever
// every parent is a constant Generator: training over any row count yields
// the same result when every input is constant and preparation is
// idempotent, so one synthetic row suffices. Children referencing this
// node (Views, Prepared transformers) come later in ds.Nodes, so they see
// their parent swapped to the trained form within the same rewrite pass.
func foldIdempotentPreparable(ctx *Context, p producer.Producer) (producer.Producer, bool, error) {
	pr, ok := p.(*producer.Preparable)
	if !ok || !pr.Idempotent() {
		return p, false, nil
	}
	row, ok := constantParentRow(pr.Inputs())
	if !ok {
		return p, false, nil
	}

	preparer := pr.NewPreparer()
	if err := preparer.Process([][]interface{}{row}); err != nil {
		return nil, false, dagerr.ExecutionFailure(err)
	}

	var replayable ioseq.Reader
	if pr.Mode() == producer.ModeBatch {
		replayable = ioseq.FromSlice([]interface{}{row})
	}
	fresh, _, err := preparer.Finish(replayable)
	if err != nil {
		return nil, false, dagerr.ExecutionFailure(err)
	}
	ctx.log("reduce: folded idempotent preparable into its trained form", zap.String("name", pr.Name()))
	return fresh, true, nil
}

// foldResolvedView replaces a View whose parent is no longer a
// *producer.Preparable (because foldIdempotentPreparable already replaced
// it this pass) with a constant Generator wrapping the view's computed
// value. A View's Compute is pure given a trained prepared form, so this
// needs no row data.
func foldResolvedView(ctx *Context, p producer.Producer) (producer.Producer, bool, error) {
	v, ok := p.(*producer.View)
	if !ok {
		return p, false, nil
	}
	parent := v.Inputs()[0]
	if parent.Kind() == producer.KindPreparable {
		return p, false, nil
	}
	val, err := v.Compute(parent)
	if err != nil {
		return nil, false, dagerr.ExecutionFailure(err)
	}
	ctx.log("reduce: folded view over a resolved prepared form", zap.String("name", v.Name()))
	return newFoldedGenerator(v.Name(), val), true, nil
}

// inlineEmbedded splices an Embedded's inner sub-DAG into the outer graph,
// substituting each inner placeholder for the corresponding (already
// rewritten) outer parent. A single-output sub-DAG splices to one producer;
// a multi-output sub-DAG splices each output independently and wraps the
// results in a tuple producer of matching arity.
func inlineEmbedded(ctx *Context, p producer.Producer) (producer.Producer, bool, error) {
	e, ok := p.(*producer.Embedded)
	if !ok {
		return p, false, nil
	}
	subst := make(map[handle.Handle]producer.Producer, len(e.InnerPlaceholders()))
	for i, ph := range e.InnerPlaceholders() {
		subst[ph.Handle()] = e.Inputs()[i]
	}
	memo := make(map[handle.Handle]producer.Producer)
	outs := e.Outputs()
	spliced := make([]producer.Producer, len(outs))
	for i, o := range outs {
		spliced[i] = spliceEmbedded(o, subst, memo)
	}

	var result producer.Producer
	if len(spliced) == 1 {
		result = spliced[0]
	} else {
		result = producer.NewTuple(spliced)
	}
	ctx.log("reduce: inlined embedded sub-graph", zap.String("name", e.Name()), zap.Int("arity", len(spliced)))
	return result, true, nil
}

func spliceEmbedded(p producer.Producer, subst map[handle.Handle]producer.Producer, memo map[handle.Handle]producer.Producer) producer.Producer {
	if sub, ok := subst[p.Handle()]; ok {
		return sub
	}
	if done, ok := memo[p.Handle()]; ok {
		return done
	}
	ins := p.Inputs()
	if len(ins) == 0 {
		memo[p.Handle()] = p
		return p
	}
	newIns := make([]producer.Producer, len(ins))
	changed := false
	for i, in := range ins {
		newIns[i] = spliceEmbedded(in, subst, memo)
		if newIns[i] != in {
			changed = true
		}
	}
	out := p
	if changed {
		out = p.WithInputs(newIns)
	}
	memo[p.Handle()] = out
	return out
}

// constantParentRow returns the index-0 value of every parent when all of
// them are constant Generators, or ok=false otherwise.
func constantParentRow(parents []producer.Producer) ([]interface{}, bool) {
	row := make([]interface{}, len(parents))
	for i, in := range parents {
		gen, ok := in.(*producer.Generator)
		if !ok || !gen.AlwaysConstant() {
			return nil, false
		}
		v, err := gen.Generate(0)
		if err != nil {
			return nil, false
		}
		row[i] = v
	}
	return row, true
}
