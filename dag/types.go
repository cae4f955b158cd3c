// Package dag holds the canonical DAGStructure produced by Canonicalize and
// the canonicalization algorithm itself: deduplication, phase assignment,
// and equality-fingerprint construction.
//
// Grounded on lvlath/dfs's topological-sort shape (white/gray/black
// visitation over *core.Graph, reversed post-order) generalized from a
// single topological pass into the two-pass (dedup, then phase) walk
// §4.2 requires, and on lvlath/core's map-keyed node storage generalized
// from string vertex IDs to content-hash-keyed producer interning.
package dag

import (
	"github.com/katalvlaran/dagflow/handle"
	"github.com/katalvlaran/dagflow/producer"
)

// DAGStructure is the immutable, canonical record Canonicalize produces.
// Every field here mirrors one bullet of the engine's Graph data-model
// section.
type DAGStructure struct {
	// Placeholders is the ordered list the caller supplied; all are
	// retained even if unreachable from Outputs (I8-adjacent: the caller's
	// declared placeholder list is never pruned).
	Placeholders []producer.Producer

	// Outputs is the ordered list of canonical producers the caller's
	// original outputs were rewritten to.
	Outputs []producer.Producer

	// Nodes is the deduplicated node set in topo+phase order: placeholders
	// first, generators next, then non-roots (I3, I4).
	Nodes []producer.Producer

	// Phase holds the phase of Nodes[i] (I5: monotone non-decreasing from
	// 0).
	Phase []int

	// Parents holds, for Nodes[i], the indices into Nodes of its parents
	// in input order (I2: every parent is in the node set).
	Parents [][]int

	// Children holds, for Nodes[i], the indices into Nodes of its
	// children, in ascending Nodes order.
	Children [][]int

	// OutputIndices holds, for each entry of Outputs, its index into
	// Nodes.
	OutputIndices []int

	// IsPrepared reports whether the graph contains no
	// PreparableTransformer (fully ready for the fast prepared-only
	// executor).
	IsPrepared bool

	// MaxParentCount is the maximum len(Parents[i]) over all nodes.
	MaxParentCount int

	// MaxMinibatchSize is the maximum preferred minibatch size declared by
	// any Prepared node, or 1 if none declare one.
	MaxMinibatchSize int

	// IsAlwaysConstant reports whether every output is flagged constant.
	IsAlwaysConstant bool

	// HasIdempotentPreparer reports whether any Preparable node declares
	// an idempotent preparer.
	HasIdempotentPreparer bool

	// Fingerprint is the canonical equality fingerprint: structural
	// equality of two graphs reduces to equality of their fingerprints.
	Fingerprint Fingerprint

	// index maps a node's Handle to its position in Nodes, used by the
	// reducer and executors to resolve parent/child relationships without
	// re-walking the graph.
	index map[handle.Handle]int
}

// IndexOf returns the position of a node (by Handle) in Nodes, or -1 if it
// is not present.
func (d *DAGStructure) IndexOf(h handle.Handle) int {
	if d.index == nil {
		return -1
	}
	if i, ok := d.index[h]; ok {
		return i
	}
	return -1
}

// NumPhases returns one more than the maximum phase present (0 if Nodes is
// empty).
func (d *DAGStructure) NumPhases() int {
	max := -1
	for _, p := range d.Phase {
		if p > max {
			max = p
		}
	}
	return max + 1
}

// NodesInPhase returns the Nodes indices belonging to the given phase, in
// Nodes order (which already satisfies I4's preparable/view/prepared
// sub-ordering within a phase).
func (d *DAGStructure) NodesInPhase(phase int) []int {
	var out []int
	for i, p := range d.Phase {
		if p == phase {
			out = append(out, i)
		}
	}
	return out
}
