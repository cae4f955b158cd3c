package producer

import "github.com/katalvlaran/dagflow/handle"

// Embedded wraps a self-contained sub-DAG (its own placeholder list and one
// or more selected outputs) as a single producer in an outer graph. The
// reducer's embedded-DAG inlining rule splices the sub-DAG's nodes directly
// into the outer graph, substituting Parents for the inner placeholders in
// declaration order and keeping only the nodes reachable from Outputs —
// after which no Embedded survives in a canonical graph.
//
// This is how a composite transformer (e.g. one built by composing several
// smaller transformers behind a single exported name) reaches the engine:
// it declares an Embedded rather than hand-writing the composite's
// Apply/Preparer logic itself.
type Embedded struct {
	h       handle.Handle
	name    string
	key     interface{}
	parents []Producer // outer-graph producers, aligned with InnerPlaceholders
	inner   []Producer // the embedded sub-DAG's own placeholder list
	outputs []Producer // the embedded sub-DAG's selected outputs, in order
}

// NewEmbedded declares an Embedded transformer. innerPlaceholders and outputs
// describe a self-contained sub-graph (reachable from outputs); parents are
// the outer-graph producers substituted for innerPlaceholders, in order. A
// multi-output sub-DAG is inlined behind a tuple producer of matching arity.
func NewEmbedded(name string, key interface{}, parents []Producer, innerPlaceholders []Producer, outputs ...Producer) *Embedded {
	return &Embedded{h: handle.New(), name: name, key: key, parents: parents, inner: innerPlaceholders, outputs: outputs}
}

func (e *Embedded) Handle() handle.Handle { return e.h }
func (e *Embedded) Kind() Kind            { return KindPrepared } // behaves as prepared until inlined
func (e *Embedded) TypeTag() string       { return "producer.Embedded" }
func (e *Embedded) Name() string          { return e.name }
func (e *Embedded) Inputs() []Producer    { return e.parents }

// InnerPlaceholders returns the embedded sub-DAG's own placeholder list, in
// the order substituted by Parents.
func (e *Embedded) InnerPlaceholders() []Producer { return e.inner }

// Output returns the embedded sub-DAG's first (or only) selected output.
func (e *Embedded) Output() Producer { return e.outputs[0] }

// Outputs returns the embedded sub-DAG's full selected output list, in
// order. Arity 1 means a single-output sub-DAG; arity > 1 is inlined behind
// a tuple producer.
func (e *Embedded) Outputs() []Producer { return e.outputs }

func (e *Embedded) WithInputs(inputs []Producer) Producer {
	clone := *e
	clone.parents = inputs
	return &clone
}

func (e *Embedded) Validate() error {
	if len(e.parents) != len(e.inner) {
		return errEmbeddedArityMismatch
	}
	if len(e.outputs) == 0 {
		return errEmbeddedNoOutputs
	}
	return nil
}

func (e *Embedded) Equal(other Producer) bool {
	oe, ok := other.(*Embedded)
	return ok && valueEqual(oe.key, e.key) && EqualInputs(e.parents, oe.parents, false)
}

func (e *Embedded) CommutativeInputs() bool { return false }

// AlwaysConstant reports true only when every selected output is constant.
func (e *Embedded) AlwaysConstant() bool {
	for _, o := range e.outputs {
		if !o.AlwaysConstant() {
			return false
		}
	}
	return true
}
func (e *Embedded) Specificity() int { return 25 }

type embeddedArityError struct{}

func (embeddedArityError) Error() string {
	return "producer: Embedded's parents must align 1:1 with its inner placeholders"
}

var errEmbeddedArityMismatch error = embeddedArityError{}

type embeddedNoOutputsError struct{}

func (embeddedNoOutputsError) Error() string {
	return "producer: Embedded requires at least one output"
}

var errEmbeddedNoOutputs error = embeddedNoOutputsError{}
