package producer

import (
	"github.com/katalvlaran/dagflow/dagerr"
	"github.com/katalvlaran/dagflow/handle"
)

// ViewFunc derives a View's constant value from one of its parent
// Preparable's prepared forms (either the new-data or the
// preparation-data form; the engine calls it once for each).
type ViewFunc func(prepared Producer) (interface{}, error)

// View is a single-parent producer (the parent must be a *Preparable) that
// yields a constant value derived from the parent's prepared form once
// training finishes. Two values must be computed — one from
// preparedForNewData, one from preparedForPreparationData — and they may
// differ (I6).
type View struct {
	h       handle.Handle
	name    string
	key     interface{}
	parent  Producer
	compute ViewFunc
}

// NewView declares a View over parent, which must be a *Preparable.
func NewView(name string, key interface{}, parent Producer, compute ViewFunc) *View {
	return &View{h: handle.New(), name: name, key: key, parent: parent, compute: compute}
}

func (v *View) Handle() handle.Handle { return v.h }
func (v *View) Kind() Kind            { return KindView }
func (v *View) TypeTag() string       { return "producer.View" }
func (v *View) Name() string          { return v.name }
func (v *View) Inputs() []Producer    { return []Producer{v.parent} }

// Compute derives the constant value from one of the parent's prepared
// forms.
func (v *View) Compute(prepared Producer) (interface{}, error) { return v.compute(prepared) }

func (v *View) WithInputs(inputs []Producer) Producer {
	if len(inputs) != 1 {
		panic("producer: View.WithInputs requires exactly one parent")
	}
	clone := *v
	clone.parent = inputs[0]
	return &clone
}

// Validate enforces I6's class requirement: a View's sole parent must be a
// PreparableTransformer.
func (v *View) Validate() error {
	if _, ok := v.parent.(*Preparable); !ok {
		return dagerr.ValidationError("View", v.name, errViewParentNotPreparable)
	}
	return nil
}

func (v *View) Equal(other Producer) bool {
	ov, ok := other.(*View)
	return ok && valueEqual(ov.key, v.key) && v.parent.Equal(ov.parent)
}

func (v *View) CommutativeInputs() bool { return false }

// AlwaysConstant is always true: a View produces exactly one value for the
// whole dataset, broadcast to every row.
func (v *View) AlwaysConstant() bool { return true }
func (v *View) Specificity() int     { return 40 }

type viewValidationError struct{}

func (viewValidationError) Error() string {
	return "producer: View's parent must be a PreparableTransformer"
}

var errViewParentNotPreparable error = viewValidationError{}
