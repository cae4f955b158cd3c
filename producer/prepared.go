package producer

import "github.com/katalvlaran/dagflow/handle"

// ExecutionState is an opaque object a PreparedTransformer may allocate via
// NewExecutionState. The executors in this module allocate a fresh one for
// every Apply call (one per batch or minibatch); a state is not shared
// across calls or kept for the whole run, and nothing releases it
// explicitly.
type ExecutionState interface{}

// ApplyFunc computes one minibatch of outputs from the per-row, per-parent
// inputs gathered for that minibatch. rows[i] holds the i-th example's
// values, one per parent, in parent order. The returned slice must have
// exactly len(rows) elements.
type ApplyFunc func(state ExecutionState, rows [][]interface{}) ([]interface{}, error)

// Prepared is an already-trained, directly applicable transformer. Its
// parents are an ordered list of producers; applying it calls ApplyFunc
// once per minibatch with a possibly-fresh ExecutionState.
type Prepared struct {
	h                  handle.Handle
	name               string
	key                interface{}
	parents            []Producer
	apply              ApplyFunc
	preferredMinibatch int
	newState           func() ExecutionState
	constant           bool
	commutative        bool
	idempotent         bool
	nondeterministic   bool
}

// NewPrepared declares a PreparedTransformer. key is the caller's declared
// value-equality identity for apply (see Generator's NewGenerator doc for
// why this is necessary in Go). preferredMinibatch <= 0 means "no
// preference" (the executor falls back to its own default).
func NewPrepared(name string, key interface{}, parents []Producer, apply ApplyFunc, preferredMinibatch int, newState func() ExecutionState, constant bool) *Prepared {
	return &Prepared{
		h:                  handle.New(),
		name:               name,
		key:                key,
		parents:            parents,
		apply:              apply,
		preferredMinibatch: preferredMinibatch,
		newState:           newState,
		constant:           constant,
	}
}

func (p *Prepared) Handle() handle.Handle { return p.h }
func (p *Prepared) Kind() Kind            { return KindPrepared }
func (p *Prepared) TypeTag() string       { return "producer.Prepared" }
func (p *Prepared) Name() string          { return p.name }
func (p *Prepared) Inputs() []Producer    { return p.parents }

// PreferredMinibatchSize reports the transformer's preferred minibatch size,
// or 0 if it has none (the executor's maxMinibatchSize computation treats 0
// as 1, per the DAGStructure field's definition).
func (p *Prepared) PreferredMinibatchSize() int { return p.preferredMinibatch }

// NewExecutionState allocates a fresh per-run state object, or nil if the
// transformer declared none.
func (p *Prepared) NewExecutionState() ExecutionState {
	if p.newState == nil {
		return nil
	}
	return p.newState()
}

// Apply computes one minibatch of outputs.
func (p *Prepared) Apply(state ExecutionState, rows [][]interface{}) ([]interface{}, error) {
	return p.apply(state, rows)
}

func (p *Prepared) WithInputs(inputs []Producer) Producer {
	clone := *p
	clone.parents = inputs
	return &clone
}

func (p *Prepared) Validate() error { return nil }

func (p *Prepared) Equal(other Producer) bool {
	op, ok := other.(*Prepared)
	if !ok {
		return false
	}
	return op.constant == p.constant &&
		op.idempotent == p.idempotent &&
		op.nondeterministic == p.nondeterministic &&
		valueEqual(op.key, p.key) &&
		EqualInputs(p.parents, op.parents, p.commutative)
}

func (p *Prepared) CommutativeInputs() bool { return p.commutative }

// MarkCommutative returns a copy of p with CommutativeInputs() == true, used
// by callers declaring a transformer like Add whose inputs may be permuted
// into canonical order before comparison/interning (spec §8 scenario 6).
func (p *Prepared) MarkCommutative() *Prepared {
	clone := *p
	clone.commutative = true
	return &clone
}

func (p *Prepared) AlwaysConstant() bool { return p.constant }
func (p *Prepared) Specificity() int     { return 30 }

// MarkIdempotent returns a copy of p with Idempotent() == true: p declares
// that applying it to its own output is equal to applying it once, letting
// the reducer collapse a repeated application chain (T(T(x)) -> T(x)).
func (p *Prepared) MarkIdempotent() *Prepared {
	clone := *p
	clone.idempotent = true
	return &clone
}

// Idempotent reports whether p belongs to a declared idempotent class.
func (p *Prepared) Idempotent() bool { return p.idempotent }

// MarkNondeterministic returns a copy of p with Nondeterministic() == true,
// opting p out of the reducer's derived constant-folding rule even when
// every one of its parents resolves to a constant.
func (p *Prepared) MarkNondeterministic() *Prepared {
	clone := *p
	clone.nondeterministic = true
	return &clone
}

// Nondeterministic reports whether p has opted out of constant folding.
func (p *Prepared) Nondeterministic() bool { return p.nondeterministic }

// SameTransformClass reports whether other is the same declared transformer
// as p (equal value-equality key), ignoring both producers' current input
// lists. Used to tell a repeated application of the same idempotent
// transformer from two distinct idempotent transformers sitting back to
// back.
func (p *Prepared) SameTransformClass(other *Prepared) bool {
	return valueEqual(p.key, other.key)
}
