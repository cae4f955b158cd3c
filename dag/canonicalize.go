package dag

import (
	"sort"

	"github.com/katalvlaran/dagflow/dagerr"
	"github.com/katalvlaran/dagflow/handle"
	"github.com/katalvlaran/dagflow/producer"
)

// Canonicalize builds a deduplicated, phase-assigned DAGStructure from an
// ordered placeholder list and an ordered output list, per the engine's
// five-step canonicalization algorithm (edge discovery, validation,
// deduplication, phase assignment, fingerprint construction).
func Canonicalize(placeholders []producer.Producer, outputs []producer.Producer) (*DAGStructure, error) {
	declared := make(map[handle.Handle]bool, len(placeholders))
	for _, p := range placeholders {
		if p == nil {
			return nil, dagerr.GraphError("canonicalize: nil placeholder in input list")
		}
		declared[p.Handle()] = true
	}

	// --- Step 1: edge discovery (identity-keyed BFS from outputs) ------
	// This map is keyed by handle.Handle (identity), never by value
	// equality; Open Question (b) requires the identity map used here and
	// the value-equality intern table used in step 3 to never be mixed.
	discovered := make(map[handle.Handle]producer.Producer)
	var order []producer.Producer // discovery order, for deterministic tie-breaks
	queue := make([]producer.Producer, 0, len(outputs)+len(placeholders))
	for _, o := range outputs {
		if o == nil {
			return nil, dagerr.GraphError("canonicalize: nil output in output list")
		}
		queue = append(queue, o)
	}
	for _, p := range placeholders {
		queue = append(queue, p)
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		h := n.Handle()
		if _, seen := discovered[h]; seen {
			continue
		}
		if err := recognizedKind(n); err != nil {
			return nil, err
		}
		if ph, ok := n.(*producer.Placeholder); ok && !declared[ph.Handle()] {
			return nil, dagerr.GraphError("canonicalize: bare unconfigured placeholder %q reachable from outputs but not declared", ph.Name())
		}
		discovered[h] = n
		order = append(order, n)
		for _, in := range n.Inputs() {
			if in == nil {
				return nil, dagerr.GraphError("canonicalize: producer %q has a nil input", n.Name())
			}
			queue = append(queue, in)
		}
	}

	// --- Step 2: validation ---------------------------------------------
	for _, n := range order {
		if err := n.Validate(); err != nil {
			return nil, dagerr.ValidationError(n.TypeTag(), n.Name(), err)
		}
	}

	// --- Step 3: deduplication (priority-Kahn + value-equality intern) -
	canonOrder, origToCanon, err := deduplicate(order)
	if err != nil {
		return nil, err
	}

	// --- Step 4: topological + phase assignment -------------------------
	nodes, phases, err := assignPhases(canonOrder)
	if err != nil {
		return nil, err
	}

	// --- Reorder: placeholders, generators, then non-roots by
	//     (phase, preparable<view<prepared) -------------------------------
	finalNodes, finalPhases := reorder(nodes, phases)

	idx := make(map[handle.Handle]int, len(finalNodes))
	for i, n := range finalNodes {
		idx[n.Handle()] = i
	}

	parents := make([][]int, len(finalNodes))
	children := make([][]int, len(finalNodes))
	maxParentCount := 0
	maxMinibatch := 1
	hasIdempotent := false
	for i, n := range finalNodes {
		ins := n.Inputs()
		pidx := make([]int, len(ins))
		for j, in := range ins {
			pidx[j] = idx[in.Handle()]
			children[pidx[j]] = append(children[pidx[j]], i)
		}
		parents[i] = pidx
		if len(pidx) > maxParentCount {
			maxParentCount = len(pidx)
		}
		if pt, ok := n.(*producer.Prepared); ok {
			if pt.PreferredMinibatchSize() > maxMinibatch {
				maxMinibatch = pt.PreferredMinibatchSize()
			}
		}
		if pr, ok := n.(*producer.Preparable); ok && pr.Idempotent() {
			hasIdempotent = true
		}
	}

	rewrittenOutputs := make([]producer.Producer, len(outputs))
	outputIdx := make([]int, len(outputs))
	isAlwaysConstant := len(outputs) > 0
	for i, o := range outputs {
		c := origToCanon[o.Handle()]
		rewrittenOutputs[i] = c
		outputIdx[i] = idx[c.Handle()]
		if !c.AlwaysConstant() {
			isAlwaysConstant = false
		}
	}

	isPrepared := true
	for _, n := range finalNodes {
		if n.Kind() == producer.KindPreparable {
			isPrepared = false
			break
		}
	}

	fp, err := buildFingerprint(placeholders, rewrittenOutputs)
	if err != nil {
		return nil, err
	}

	return &DAGStructure{
		Placeholders:          placeholders,
		Outputs:               rewrittenOutputs,
		Nodes:                 finalNodes,
		Phase:                 finalPhases,
		Parents:               parents,
		Children:              children,
		OutputIndices:         outputIdx,
		IsPrepared:            isPrepared,
		MaxParentCount:        maxParentCount,
		MaxMinibatchSize:      maxMinibatch,
		IsAlwaysConstant:      isAlwaysConstant,
		HasIdempotentPreparer: hasIdempotent,
		Fingerprint:           fp,
		index:                 idx,
	}, nil
}

// recognizedKind fails with GraphError for any producer.Kind not in the
// engine's closed set, matching "unrecognized producer kind" in the error
// taxonomy's GraphError cases.
func recognizedKind(n producer.Producer) error {
	switch n.Kind() {
	case producer.KindPlaceholder, producer.KindGenerator, producer.KindPrepared,
		producer.KindPreparable, producer.KindView:
		return nil
	default:
		return dagerr.GraphError("canonicalize: unrecognized producer kind %v for %q", n.Kind(), n.Name())
	}
}

// deduplicate runs the priority-queue Kahn traversal described in §4.2 step
// 3: a node becomes eligible once all its parents are already deduplicated;
// eligible nodes are processed in Specificity-descending order so that,
// among simultaneously-ready value-equal instances, the most-derived one is
// interned first and so becomes canonical (I7). The intern table here is
// keyed by value equality (TypeTag bucket + linear Equal scan), entirely
// separate from step 1's identity-keyed discovery map — see Open Question
// (b) in SPEC_FULL.md.
func deduplicate(order []producer.Producer) (
	canonOrder []producer.Producer, origToCanon map[handle.Handle]producer.Producer, err error,
) {
	remainingParents := make(map[handle.Handle]int, len(order))
	for _, n := range order {
		remainingParents[n.Handle()] = len(n.Inputs())
	}
	childrenOf := make(map[handle.Handle][]producer.Producer, len(order))
	for _, n := range order {
		for _, in := range n.Inputs() {
			childrenOf[in.Handle()] = append(childrenOf[in.Handle()], n)
		}
	}

	var ready []producer.Producer
	for _, n := range order {
		if remainingParents[n.Handle()] == 0 {
			ready = append(ready, n)
		}
	}

	origToCanon = make(map[handle.Handle]producer.Producer, len(order))
	canonical := make(map[string][]producer.Producer)
	processed := make(map[handle.Handle]bool, len(order))

	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool {
			if ready[i].Specificity() != ready[j].Specificity() {
				return ready[i].Specificity() > ready[j].Specificity()
			}
			return ready[i].Handle().Compare(ready[j].Handle()) < 0
		})
		n := ready[0]
		ready = ready[1:]
		if processed[n.Handle()] {
			continue
		}
		processed[n.Handle()] = true

		canonParents := make([]producer.Producer, len(n.Inputs()))
		for i, in := range n.Inputs() {
			cp, ok := origToCanon[in.Handle()]
			if !ok {
				return nil, nil, dagerr.GraphError("canonicalize: parent %q not yet canonicalized for %q (internal invariant violated)", in.Name(), n.Name())
			}
			canonParents[i] = cp
		}
		rewritten := n.WithInputs(canonParents)

		bucket := canonical[rewritten.TypeTag()]
		var match producer.Producer
		for _, cand := range bucket {
			if cand.Equal(rewritten) {
				match = cand
				break
			}
		}
		if match != nil {
			origToCanon[n.Handle()] = match
		} else {
			canonical[rewritten.TypeTag()] = append(bucket, rewritten)
			canonOrder = append(canonOrder, rewritten)
			origToCanon[n.Handle()] = rewritten
		}

		for _, c := range childrenOf[n.Handle()] {
			remainingParents[c.Handle()]--
			if remainingParents[c.Handle()] == 0 {
				ready = append(ready, c)
			}
		}
	}

	// A node never reaching zero remaining-parents indicates a cycle (I1).
	for _, n := range order {
		if !processed[n.Handle()] {
			return nil, nil, dagerr.GraphError("canonicalize: cycle detected at %q", n.Name())
		}
	}

	return canonOrder, origToCanon, nil
}

// assignPhases runs the second Kahn pass assigning each canonical node's
// phase per §4.2 step 4's practical rule: roots are phase 0; a Preparable
// opens a new phase one greater than the max of its parents' phases; a View
// lives at its parent Preparable's phase + 1; a Prepared shares its
// parents' max phase UNLESS some ancestor Preparable's phase equals that
// max, in which case it too opens a new phase (it cannot run until that
// ancestor's preparation — which spans the whole of that phase — has
// finished).
func assignPhases(canonOrder []producer.Producer) ([]producer.Producer, []int, error) {
	phase := make(map[handle.Handle]int, len(canonOrder))
	reach := make(map[handle.Handle]map[int]bool, len(canonOrder))

	remainingParents := make(map[handle.Handle]int, len(canonOrder))
	childrenOf := make(map[handle.Handle][]producer.Producer, len(canonOrder))
	for _, n := range canonOrder {
		remainingParents[n.Handle()] = len(n.Inputs())
		for _, in := range n.Inputs() {
			childrenOf[in.Handle()] = append(childrenOf[in.Handle()], n)
		}
	}

	var ready []producer.Producer
	for _, n := range canonOrder {
		if remainingParents[n.Handle()] == 0 {
			ready = append(ready, n)
		}
	}

	var out []producer.Producer
	outPhase := make([]int, 0, len(canonOrder))

	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool {
			return ready[i].Handle().Compare(ready[j].Handle()) < 0
		})
		n := ready[0]
		ready = ready[1:]

		ins := n.Inputs()
		maxParentPhase := 0
		parentReach := map[int]bool{}
		for i, in := range ins {
			pp := phase[in.Handle()]
			if i == 0 || pp > maxParentPhase {
				maxParentPhase = pp
			}
			for k := range reach[in.Handle()] {
				parentReach[k] = true
			}
		}

		var myPhase int
		switch n.Kind() {
		case producer.KindPlaceholder, producer.KindGenerator:
			myPhase = 0
		case producer.KindPreparable:
			myPhase = maxParentPhase + 1
			parentReach[myPhase] = true
		case producer.KindView:
			// parent must be the Preparable (enforced by Validate); its
			// phase is maxParentPhase since View has exactly one parent.
			myPhase = maxParentPhase + 1
		case producer.KindPrepared:
			if parentReach[maxParentPhase] {
				myPhase = maxParentPhase + 1
			} else {
				myPhase = maxParentPhase
			}
		default:
			return nil, nil, dagerr.GraphError("canonicalize: unrecognized producer kind %v during phase assignment", n.Kind())
		}

		phase[n.Handle()] = myPhase
		reach[n.Handle()] = parentReach
		out = append(out, n)
		outPhase = append(outPhase, myPhase)

		for _, c := range childrenOf[n.Handle()] {
			remainingParents[c.Handle()]--
			if remainingParents[c.Handle()] == 0 {
				ready = append(ready, c)
			}
		}
	}

	if len(out) != len(canonOrder) {
		return nil, nil, dagerr.GraphError("canonicalize: cycle detected during phase assignment")
	}

	return out, outPhase, nil
}

// kindOrder ranks node kinds for I3/I4's final ordering: placeholders
// first, generators next, then non-roots ordered by phase and, within a
// phase, preparable < view < prepared.
func kindOrder(k producer.Kind) int {
	switch k {
	case producer.KindPlaceholder:
		return 0
	case producer.KindGenerator:
		return 1
	case producer.KindPreparable:
		return 2
	case producer.KindView:
		return 3
	case producer.KindPrepared:
		return 4
	default:
		return 5
	}
}

// reorder produces the final Nodes/Phase arrays satisfying I3 ("every node
// appears after all its parents") and I4 (preparable, view, prepared order
// within a phase). assignPhases guarantees phase is monotone non-decreasing
// along every edge (a child's phase is always >= its parent's), so sorting
// by phase first preserves I3; kindOrder only breaks ties within a phase
// (achieving I4), and pos (the already-topological discovery order from
// assignPhases' own Kahn pass) breaks remaining ties, e.g. a chain of
// same-phase Prepared nodes. Sorting by kindOrder before phase, as an
// earlier version of this function did, is unsound: a later-phase node can
// have a lower kindOrder than an earlier-phase node it depends on (a
// Preparable opening phase 2 over a Prepared at phase 1), which would place
// the child before its own parent.
func reorder(nodes []producer.Producer, phases []int) ([]producer.Producer, []int) {
	type entry struct {
		n     producer.Producer
		phase int
		pos   int
	}
	entries := make([]entry, len(nodes))
	for i, n := range nodes {
		entries[i] = entry{n: n, phase: phases[i], pos: i}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].phase != entries[j].phase {
			return entries[i].phase < entries[j].phase
		}
		ki, kj := kindOrder(entries[i].n.Kind()), kindOrder(entries[j].n.Kind())
		if ki != kj {
			return ki < kj
		}
		return entries[i].pos < entries[j].pos
	})

	outNodes := make([]producer.Producer, len(entries))
	outPhases := make([]int, len(entries))
	for i, e := range entries {
		outNodes[i] = e.n
		outPhases[i] = e.phase
	}
	return outNodes, outPhases
}
